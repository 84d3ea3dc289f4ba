/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// minElemSize is the smallest element a Subpage is sliced into.
// It sizes the bitmap: pageSize/16 bits.
const minElemSize = 16

// SubpagePools resolves the pool head serving an element size.
// It is implemented by Arena.
type SubpagePools interface {
	FindSubpagePool(elemSize int) *SubpagePool
}

// SubpagePool is the head of a circular list of subpages serving one element size.
// Its lock guards the bitmaps and links of all member subpages.
type SubpagePool struct {
	mu       sync.Mutex
	elemSize int
	head     Subpage
}

// NewSubpagePool creates an empty pool for elemSize.
func NewSubpagePool(elemSize int) *SubpagePool {
	p := &SubpagePool{elemSize: elemSize}
	p.head.prev = &p.head
	p.head.next = &p.head
	return p
}

// ElemSize returns the element size this pool serves.
func (p *SubpagePool) ElemSize() int {
	return p.elemSize
}

// first returns the first member of the pool, or nil when empty.
// p.mu must be held.
func (p *SubpagePool) first() *Subpage {
	if s := p.head.next; s != &p.head {
		return s
	}
	return nil
}

// Len returns the number of subpages linked into the pool.
func (p *SubpagePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for s := p.head.next; s != &p.head; s = s.next {
		n++
	}
	return n
}

// Stats returns a snapshot of the members of the pool.
func (p *SubpagePool) Stats() []SubpageStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ret []SubpageStat
	for s := p.head.next; s != &p.head; s = s.next {
		ret = append(ret, s.stat())
	}
	return ret
}

// Subpage slices one leaf page of a Chunk into equal elements.
type Subpage struct {
	chunk        *Chunk
	memoryMapIdx int
	runOffset    int
	pageSize     int

	// bit i set means element i is in use
	bitmap *bitset.BitSet

	elemSize    int
	maxNumElems int
	nextAvail   int
	numAvail    int

	prev *Subpage
	next *Subpage

	// false once the subpage has been removed from its pool for good and
	// its leaf returned to the tree
	doNotDestroy bool
}

func newSubpage(head *SubpagePool, c *Chunk, memoryMapIdx, runOffset, pageSize, elemSize int) *Subpage {
	s := &Subpage{
		chunk:        c,
		memoryMapIdx: memoryMapIdx,
		runOffset:    runOffset,
		pageSize:     pageSize,
		bitmap:       bitset.New(uint(pageSize / minElemSize)),
	}
	s.init(head, elemSize)
	return s
}

// init (re)binds s to elemSize and links it into head.
// head.mu must be held.
func (s *Subpage) init(head *SubpagePool, elemSize int) {
	if elemSize < minElemSize || elemSize >= s.pageSize {
		panic(errInvalidElemSize)
	}
	s.doNotDestroy = true
	s.elemSize = elemSize
	s.maxNumElems = s.pageSize / elemSize
	s.numAvail = s.maxNumElems
	s.nextAvail = 0
	s.bitmap.ClearAll()
	s.addToPool(head)
}

// allocate returns the handle of a free element, or NoHandle.
// head.mu must be held.
func (s *Subpage) allocate() Handle {
	if s.numAvail == 0 || !s.doNotDestroy {
		return NoHandle
	}
	bitmapIdx := s.getNextAvail()
	if bitmapIdx < 0 {
		// numAvail says there is room but the bitmap is full
		panic(errCorruptedTree)
	}
	if s.bitmap.Test(uint(bitmapIdx)) {
		panic(errBitmapAlreadySet)
	}
	s.bitmap.Set(uint(bitmapIdx))
	s.numAvail--
	if s.numAvail == 0 {
		s.removeFromPool()
	}
	return subpageHandle(s.memoryMapIdx, bitmapIdx)
}

// free releases the element at bitmapIdx.
// It returns false when the subpage is no longer used and has been removed
// from the pool, in which case the caller must return the leaf to the tree.
// head.mu must be held.
func (s *Subpage) free(head *SubpagePool, bitmapIdx int) bool {
	if bitmapIdx < 0 || bitmapIdx >= s.maxNumElems || !s.bitmap.Test(uint(bitmapIdx)) {
		panic(errBitmapNotSet)
	}
	s.bitmap.Clear(uint(bitmapIdx))
	s.nextAvail = bitmapIdx

	s.numAvail++
	if s.numAvail == 1 {
		s.addToPool(head)
		return true
	}
	if s.numAvail != s.maxNumElems {
		return true
	}
	// the pool must never become empty
	if s.prev == s.next {
		return true
	}
	s.doNotDestroy = false
	s.removeFromPool()
	return false
}

func (s *Subpage) addToPool(head *SubpagePool) {
	if s.prev != nil || s.next != nil {
		panic(errSubpageLinked)
	}
	h := &head.head
	s.prev = h
	s.next = h.next
	s.next.prev = s
	h.next = s
}

func (s *Subpage) removeFromPool() {
	if s.prev == nil || s.next == nil {
		panic(errSubpageNotLinked)
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next = nil
	s.prev = nil
}

func (s *Subpage) getNextAvail() int {
	if n := s.nextAvail; n >= 0 {
		s.nextAvail = -1
		return n
	}
	return s.findNextAvail()
}

// findNextAvail returns the lowest clear bit below maxNumElems, or -1.
func (s *Subpage) findNextAvail() int {
	i, ok := s.bitmap.NextClear(0)
	if !ok || int(i) >= s.maxNumElems {
		return -1
	}
	return int(i)
}

func (s *Subpage) stat() SubpageStat {
	return SubpageStat{
		MemoryMapIdx: s.memoryMapIdx,
		RunOffset:    s.runOffset,
		PageSize:     s.pageSize,
		ElemSize:     s.elemSize,
		MaxNumElems:  s.maxNumElems,
		NumAvail:     s.numAvail,
		InUse:        s.doNotDestroy,
	}
}

func (s *Subpage) String() string {
	if !s.doNotDestroy {
		return fmt.Sprintf("(%d: not in use)", s.memoryMapIdx)
	}
	return fmt.Sprintf("(%d: %d/%d, offset: %d, length: %d, elemSize: %d)",
		s.memoryMapIdx, s.maxNumElems-s.numAvail, s.maxNumElems, s.runOffset, s.pageSize, s.elemSize)
}
