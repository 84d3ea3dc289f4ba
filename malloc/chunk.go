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
	"math/bits"
	"sync"
)

// Chunk manages one contiguous region with a buddy tree.
//
// The tree is a complete binary tree of depth maxOrder stored in memoryMap,
// rooted at index 1. The children of node id are 2*id and 2*id+1, and the
// nodes at depth d are numbered left to right from 1<<d. Leaves are pages.
//
// memoryMap[id] holds the smallest depth at which a free node exists in the
// subtree of id:
//
//	memoryMap[id] == depth(id)  the whole subtree is free
//	memoryMap[id] >  depth(id)  some of it is allocated, the value is the
//	                            shallowest depth still free
//	memoryMap[id] == unusable   the whole subtree is allocated
//
// A request for a run at depth d therefore walks down from the root and
// never has to scan siblings.
type Chunk struct {
	mu sync.Mutex

	// id is assigned by the arena, unique for its lifetime; 0 otherwise
	id uint64

	pools  SubpagePools
	memory []byte

	unpooled bool

	memoryMap []byte
	depthMap  []byte
	subpages  []*Subpage

	pageSize         int
	pageShifts       int
	maxOrder         int
	chunkSize        int
	log2ChunkSize    int
	maxSubpageAllocs int
	unusable         byte

	freeBytes int
}

// NewChunk creates a Chunk over memory. len(memory) must be pageSize << maxOrder.
// pools resolves the pool heads used for allocations smaller than a page.
func NewChunk(pools SubpagePools, memory []byte, pageSize, maxOrder int) (*Chunk, error) {
	cfg := Config{PageSize: pageSize, MaxOrder: maxOrder}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pools == nil {
		return nil, fmt.Errorf("%w: nil subpage pools", ErrInvalidConfig)
	}
	chunkSize := cfg.ChunkSize()
	if len(memory) != chunkSize {
		return nil, fmt.Errorf("%w: memory must be %d bytes, got %d", ErrInvalidConfig, chunkSize, len(memory))
	}

	maxSubpageAllocs := 1 << maxOrder
	c := &Chunk{
		pools:            pools,
		memory:           memory,
		pageSize:         pageSize,
		pageShifts:       bits.TrailingZeros(uint(pageSize)),
		maxOrder:         maxOrder,
		chunkSize:        chunkSize,
		log2ChunkSize:    log2(chunkSize),
		maxSubpageAllocs: maxSubpageAllocs,
		unusable:         byte(maxOrder + 1),
		freeBytes:        chunkSize,
		memoryMap:        make([]byte, maxSubpageAllocs<<1),
		depthMap:         make([]byte, maxSubpageAllocs<<1),
		subpages:         make([]*Subpage, maxSubpageAllocs),
	}

	id := 1
	for d := 0; d <= maxOrder; d++ {
		for p := 0; p < 1<<d; p++ {
			c.memoryMap[id] = byte(d)
			c.depthMap[id] = byte(d)
			id++
		}
	}
	return c, nil
}

// newUnpooledChunk wraps memory of a single huge allocation.
func newUnpooledChunk(memory []byte) *Chunk {
	return &Chunk{
		memory:    memory,
		unpooled:  true,
		chunkSize: len(memory),
		unusable:  1,
	}
}

// Allocate reserves normCapacity bytes and returns the handle of the allocation.
// Below pageSize, normCapacity must be a size class: a multiple of 16 under 512,
// a power of two from 512. Anything else panics before the tree is changed.
// Runs of pageSize or more are rounded up to a power of two.
// It returns NoHandle when the chunk has no room left.
func (c *Chunk) Allocate(normCapacity int) Handle {
	if c.unpooled {
		panic(errUnpooledAllocate)
	}
	if normCapacity <= 0 || normCapacity > c.chunkSize {
		return NoHandle
	}
	if normCapacity < c.pageSize && !isSubpageClass(normCapacity) {
		panic(errInvalidElemSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if normCapacity >= c.pageSize {
		return c.allocateRun(normCapacity)
	}
	return c.allocateSubpage(normCapacity)
}

// Free releases the allocation identified by h.
// It panics if h does not identify a live allocation of this chunk.
func (c *Chunk) Free(h Handle) {
	if c.unpooled {
		c.mu.Lock()
		c.freeBytes = c.chunkSize
		c.mu.Unlock()
		return
	}
	if !h.Valid() {
		panic(errForeignChunk)
	}
	id := h.MemoryMapIdx()
	if id < 1 || id >= len(c.memoryMap) {
		panic(errNodeOutOfRange)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h.IsSubpage() {
		if id < c.maxSubpageAllocs {
			panic(errForeignChunk)
		}
		s := c.subpages[c.subpageIdx(id)]
		if s == nil || !s.doNotDestroy {
			panic(errSubpageNotInUse)
		}
		head := c.pools.FindSubpagePool(s.elemSize)
		head.mu.Lock()
		inUse := s.free(head, h.BitmapIdx())
		head.mu.Unlock()
		if inUse {
			return
		}
	}

	if c.value(id) != c.unusable {
		panic(errNodeNotAllocated)
	}
	c.freeBytes += c.runLength(id)
	c.setValue(id, c.depth(id))
	c.updateParentsFree(id)
}

// InitBuf binds b to the allocation h made for reqCapacity bytes.
func (c *Chunk) InitBuf(b *Buffer, h Handle, reqCapacity int, cache any) {
	if c.unpooled {
		b.initUnpooled(c, reqCapacity)
		return
	}
	id := h.MemoryMapIdx()

	c.mu.Lock()
	if !h.IsSubpage() {
		if c.value(id) != c.unusable {
			c.mu.Unlock()
			panic(errNodeNotAllocated)
		}
		offset, length := c.runOffset(id), c.runLength(id)
		c.mu.Unlock()
		if reqCapacity > length {
			panic(errReqCapacityTooBig)
		}
		b.init(c, h, offset, reqCapacity, length, cache)
		return
	}
	s := c.subpages[c.subpageIdx(id)]
	if s == nil || !s.doNotDestroy {
		c.mu.Unlock()
		panic(errSubpageNotInUse)
	}
	offset := c.runOffset(id) + h.BitmapIdx()*s.elemSize
	elemSize := s.elemSize
	c.mu.Unlock()
	if reqCapacity > elemSize {
		panic(errReqCapacityTooBig)
	}
	b.init(c, h, offset, reqCapacity, elemSize, cache)
}

// Span returns the byte range reserved by h inside the chunk memory.
// For a subpage element it is the element, not the whole page.
func (c *Chunk) Span(h Handle) (offset, length int) {
	if c.unpooled {
		return 0, c.chunkSize
	}
	id := h.MemoryMapIdx()
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.IsSubpage() {
		s := c.subpages[c.subpageIdx(id)]
		return c.runOffset(id) + h.BitmapIdx()*s.elemSize, s.elemSize
	}
	return c.runOffset(id), c.runLength(id)
}

// Memory returns the backing storage of the chunk.
func (c *Chunk) Memory() []byte {
	return c.memory
}

// Unpooled reports whether c holds a single huge allocation.
func (c *Chunk) Unpooled() bool {
	return c.unpooled
}

// ID returns the id the arena assigned to the chunk, 0 for a chunk created
// with NewChunk or an unpooled chunk.
func (c *Chunk) ID() uint64 {
	return c.id
}

// ChunkSize returns the size of the chunk memory.
func (c *Chunk) ChunkSize() int {
	return c.chunkSize
}

// FreeBytes returns the bytes not reserved by any allocation.
func (c *Chunk) FreeBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freeBytes
}

// Usage returns the percentage of the chunk in use, in [0, 100].
// A chunk with any allocation reports at least 1, and a chunk with any free
// byte reports at most 99.
func (c *Chunk) Usage() int {
	return usage(c.FreeBytes(), c.chunkSize)
}

func usage(freeBytes, chunkSize int) int {
	if freeBytes == 0 {
		return 100
	}
	freePercentage := int(int64(freeBytes) * 100 / int64(chunkSize))
	if freePercentage == 0 {
		return 99
	}
	return 100 - freePercentage
}

// Stat returns a snapshot of the chunk accounting.
func (c *Chunk) Stat() ChunkStat {
	free := c.FreeBytes()
	return ChunkStat{
		ID:        c.id,
		ChunkSize: c.chunkSize,
		FreeBytes: free,
		Usage:     usage(free, c.chunkSize),
		Unpooled:  c.unpooled,
	}
}

func (c *Chunk) String() string {
	free := c.FreeBytes()
	return fmt.Sprintf("Chunk(%d: %d%%, %d/%d)", c.id, usage(free, c.chunkSize), c.chunkSize-free, c.chunkSize)
}

func (c *Chunk) allocateRun(normCapacity int) Handle {
	// rounds up when normCapacity is not a power of two
	d := c.maxOrder - (bits.Len(uint(normCapacity-1)) - c.pageShifts)
	id := c.allocateNode(d)
	if id < 0 {
		return NoHandle
	}
	c.freeBytes -= c.runLength(id)
	return runHandle(id)
}

// allocateSubpage takes a leaf and carves the first element out of it.
// The pool head lock is held while the subpage is created or reinitialized
// because both link it into the pool.
func (c *Chunk) allocateSubpage(normCapacity int) Handle {
	head := c.pools.FindSubpagePool(normCapacity)
	head.mu.Lock()
	defer head.mu.Unlock()

	id := c.allocateNode(c.maxOrder)
	if id < 0 {
		return NoHandle
	}
	c.freeBytes -= c.pageSize

	idx := c.subpageIdx(id)
	s := c.subpages[idx]
	if s == nil {
		s = newSubpage(head, c, id, c.runOffset(id), c.pageSize, normCapacity)
		c.subpages[idx] = s
	} else {
		s.init(head, normCapacity)
	}
	return s.allocate()
}

// allocateNode finds a free node at depth d, marks it allocated and returns
// its id, or -1 if the chunk has no free node at that depth.
func (c *Chunk) allocateNode(d int) int {
	id := 1
	initial := -(1 << d) // id&initial == 0 for every id above depth d
	val := c.value(id)
	if int(val) > d {
		return -1
	}
	for int(val) < d || id&initial == 0 {
		id <<= 1
		val = c.value(id)
		if int(val) > d {
			id ^= 1
			val = c.value(id)
		}
	}
	if int(val) != d || id&initial != 1<<d {
		panic(errCorruptedTree)
	}
	c.setValue(id, c.unusable)
	c.updateParentsAlloc(id)
	return id
}

func (c *Chunk) updateParentsAlloc(id int) {
	for id > 1 {
		parentID := id >> 1
		val1 := c.value(id)
		val2 := c.value(id ^ 1)
		c.setValue(parentID, min(val1, val2))
		id = parentID
	}
}

// updateParentsFree is updateParentsAlloc plus the buddy merge: a parent
// whose two children are both entirely free is entirely free as well.
func (c *Chunk) updateParentsFree(id int) {
	logChild := c.depth(id) + 1
	for id > 1 {
		parentID := id >> 1
		val1 := c.value(id)
		val2 := c.value(id ^ 1)
		logChild--
		if val1 == logChild && val2 == logChild {
			c.setValue(parentID, logChild-1)
		} else {
			c.setValue(parentID, min(val1, val2))
		}
		id = parentID
	}
}

func (c *Chunk) value(id int) byte {
	return c.memoryMap[id]
}

func (c *Chunk) setValue(id int, val byte) {
	c.memoryMap[id] = val
}

func (c *Chunk) depth(id int) byte {
	return c.depthMap[id]
}

// runLength returns the size in bytes of node id.
func (c *Chunk) runLength(id int) int {
	return 1 << (c.log2ChunkSize - int(c.depth(id)))
}

// runOffset returns the offset of node id from the start of the chunk.
func (c *Chunk) runOffset(id int) int {
	shift := id ^ 1<<c.depth(id)
	return shift * c.runLength(id)
}

func (c *Chunk) subpageIdx(memoryMapIdx int) int {
	return memoryMapIdx ^ c.maxSubpageAllocs
}

func log2(v int) int {
	return bits.Len(uint(v)) - 1
}
