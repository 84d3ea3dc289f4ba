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
	"io"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// bufferPool recycles Buffer objects. sync.Pool keeps per-P caches, so a
// Buffer is usually reused on the P that released it.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &Buffer{handle: NoHandle}
	},
}

const minGrowCapacity = 64

// Buffer is a reference counted byte buffer backed by memory of a Chunk.
//
// The readable bytes are [ReaderIndex, WriterIndex), and Capacity is the
// length of the logical region. The region may be grown up to the allocated
// length without copying; beyond that the content is moved to a new allocation.
//
// A Buffer starts with a reference count of 1. Retain adds a reference and
// Release drops one; the memory is freed when the count reaches 0.
// RetainedSlice and RetainedDuplicate return views sharing the memory, each
// holding a reference on the buffer they were derived from.
//
// Buffer objects are recycled. Once the last reference is released, the
// *Buffer may be handed to another caller by the next Allocate, so neither
// the pointer nor any slice returned by Bytes may be used again, not even to
// call Release. The zero value is a released Buffer.
//
// The reference count is safe for concurrent use; everything else is not.
type Buffer struct {
	arena  *Arena
	chunk  *Chunk
	handle Handle
	memory []byte

	refCnt atomic.Int32
	// parent is the buffer a derived view holds a reference on, nil otherwise
	parent *Buffer
	// derived counts the live views of a buffer
	derived atomic.Int32

	offset    int
	length    int
	maxLength int

	maxCapacity int
	readerIndex int
	writerIndex int

	// view caches memory[offset:offset+maxLength], reset on every init
	view  []byte
	cache any
}

func newBuffer(a *Arena, maxCapacity int) *Buffer {
	b := bufferPool.Get().(*Buffer)
	b.arena = a
	b.maxCapacity = maxCapacity
	b.readerIndex, b.writerIndex = 0, 0
	b.refCnt.Store(1)
	return b
}

// newDerived creates a view of length bytes at offset inside the memory of p.
// It takes a reference on p.
func newDerived(p *Buffer, offset, length, readerIndex, writerIndex int) *Buffer {
	p.Retain()
	p.derived.Add(1)
	b := bufferPool.Get().(*Buffer)
	b.arena = p.arena
	b.chunk = p.chunk
	b.handle = p.handle
	b.memory = p.memory
	b.parent = p
	b.offset = offset
	b.length = length
	b.maxLength = length
	b.maxCapacity = length
	b.readerIndex, b.writerIndex = readerIndex, writerIndex
	b.view = nil
	b.cache = p.cache
	b.refCnt.Store(1)
	return b
}

// live reports whether b holds memory.
func (b *Buffer) live() bool {
	return b.chunk != nil && b.refCnt.Load() > 0
}

func (b *Buffer) init(c *Chunk, h Handle, offset, length, maxLength int, cache any) {
	b.chunk = c
	b.handle = h
	b.memory = c.memory
	b.offset = offset
	b.length = length
	b.maxLength = maxLength
	b.view = nil
	b.cache = cache
	if b.arena != nil && b.arena.opts.initHook != nil {
		b.arena.opts.initHook(b, cache)
	}
}

func (b *Buffer) initUnpooled(c *Chunk, length int) {
	b.chunk = c
	b.handle = runHandle(0)
	b.memory = c.memory
	b.offset = 0
	b.length = length
	b.maxLength = length
	b.view = nil
	b.cache = nil
}

// Capacity returns the length of the logical region.
func (b *Buffer) Capacity() int {
	return b.length
}

// MaxCapacity returns the limit SetCapacity and Write may grow the buffer to.
func (b *Buffer) MaxCapacity() int {
	return b.maxCapacity
}

// MaxLength returns the length of the underlying allocation.
func (b *Buffer) MaxLength() int {
	return b.maxLength
}

// Offset returns the start of the buffer inside the chunk memory.
func (b *Buffer) Offset() int {
	return b.offset
}

// Handle returns the allocation handle, NoHandle once released.
// A derived view reports the handle of the memory it shares.
func (b *Buffer) Handle() Handle {
	if !b.live() {
		return NoHandle
	}
	return b.handle
}

// Chunk returns the chunk the buffer lives in.
func (b *Buffer) Chunk() *Chunk {
	return b.chunk
}

// Cache returns the cache context the buffer was initialized with.
func (b *Buffer) Cache() any {
	return b.cache
}

// SetCapacity changes the logical capacity to newCapacity.
//
// Growing within the allocated length and shrinking by less than half of it
// are done in place. Small allocations (MaxLength <= Config.ShrinkSmallThreshold)
// only shrink in place within Config.ShrinkSmallMargin bytes, so a small
// buffer does not pin a larger element. Any other change moves the content to
// a new allocation and frees the old one.
//
// The capacity of a derived view is fixed, and a buffer with live views only
// changes its capacity in place; moving returns ErrShared.
func (b *Buffer) SetCapacity(newCapacity int) error {
	if !b.live() {
		return ErrReleased
	}
	if b.parent != nil {
		if newCapacity == b.length {
			return nil
		}
		return fmt.Errorf("%w: derived buffer of capacity %d", ErrFixedCapacity, b.length)
	}
	if newCapacity < 0 || newCapacity > b.maxCapacity {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidCapacity, newCapacity, b.maxCapacity)
	}
	threshold, margin := DefaultShrinkSmallThreshold, DefaultShrinkSmallMargin
	if b.arena != nil {
		threshold, margin = b.arena.cfg.ShrinkSmallThreshold, b.arena.cfg.ShrinkSmallMargin
	}
	if resizeInPlace(b.chunk.unpooled, b.length, b.maxLength, newCapacity, threshold, margin) {
		b.length = newCapacity
		b.clampIndex(newCapacity)
		return nil
	}
	if b.derived.Load() > 0 {
		return ErrShared
	}
	if b.arena == nil {
		return ErrOutOfSpace
	}
	return b.arena.reallocate(b, newCapacity)
}

// resizeInPlace reports whether a buffer of the given length and allocated
// length can change its capacity to newCapacity without reallocation.
func resizeInPlace(unpooled bool, length, maxLength, newCapacity, threshold, margin int) bool {
	if unpooled {
		return newCapacity == length
	}
	switch {
	case newCapacity > length:
		return newCapacity <= maxLength
	case newCapacity < length:
		if newCapacity <= maxLength>>1 {
			return false
		}
		if maxLength <= threshold {
			return newCapacity > maxLength-margin
		}
		return true
	default:
		return true
	}
}

func (b *Buffer) clampIndex(n int) {
	b.readerIndex = min(b.readerIndex, n)
	b.writerIndex = min(b.writerIndex, n)
}

func (b *Buffer) internalView() []byte {
	if b.view == nil {
		end := b.offset + b.maxLength
		b.view = b.memory[b.offset:end:end]
	}
	return b.view
}

// Bytes returns the readable bytes without copying.
// The slice is only valid until the next call changing the buffer.
func (b *Buffer) Bytes() []byte {
	if !b.live() {
		return nil
	}
	return b.internalView()[b.readerIndex:b.writerIndex]
}

// Copy returns a copy of the readable bytes.
func (b *Buffer) Copy() []byte {
	src := b.Bytes()
	dst := dirtmake.Bytes(len(src), len(src))
	copy(dst, src)
	return dst
}

// ReaderIndex returns the read position.
func (b *Buffer) ReaderIndex() int {
	return b.readerIndex
}

// WriterIndex returns the write position.
func (b *Buffer) WriterIndex() int {
	return b.writerIndex
}

// SetIndex sets both positions. It requires 0 <= r <= w <= Capacity().
func (b *Buffer) SetIndex(r, w int) error {
	if r < 0 || r > w || w > b.length {
		return fmt.Errorf("malloc: index out of range: reader %d, writer %d, capacity %d", r, w, b.length)
	}
	b.readerIndex, b.writerIndex = r, w
	return nil
}

// ReadableBytes returns WriterIndex - ReaderIndex.
func (b *Buffer) ReadableBytes() int {
	return b.writerIndex - b.readerIndex
}

// WritableBytes returns Capacity - WriterIndex.
func (b *Buffer) WritableBytes() int {
	return b.length - b.writerIndex
}

// Reset empties the buffer without changing its capacity.
func (b *Buffer) Reset() {
	b.readerIndex, b.writerIndex = 0, 0
}

// Write implements io.Writer. The buffer grows up to MaxCapacity.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.ensureWritable(len(p)); err != nil {
		return 0, err
	}
	n := copy(b.internalView()[b.writerIndex:b.length], p)
	b.writerIndex += n
	return n, nil
}

// WriteString is like Write but writes the contents of s.
func (b *Buffer) WriteString(s string) (int, error) {
	if err := b.ensureWritable(len(s)); err != nil {
		return 0, err
	}
	n := copy(b.internalView()[b.writerIndex:b.length], s)
	b.writerIndex += n
	return n, nil
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	if !b.live() {
		return 0, ErrReleased
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.readerIndex == b.writerIndex {
		return 0, io.EOF
	}
	n := copy(p, b.internalView()[b.readerIndex:b.writerIndex])
	b.readerIndex += n
	return n, nil
}

func (b *Buffer) ensureWritable(n int) error {
	if !b.live() {
		return ErrReleased
	}
	need := b.writerIndex + n
	if need <= b.length {
		return nil
	}
	if need > b.maxCapacity {
		return fmt.Errorf("%w: writing %d bytes at %d exceeds max capacity %d",
			ErrInvalidCapacity, n, b.writerIndex, b.maxCapacity)
	}
	return b.SetCapacity(growCapacity(need, b.maxLength, b.maxCapacity))
}

// growCapacity doubles from minGrowCapacity until need fits.
// It uses the whole allocation first when need fits in it.
func growCapacity(need, maxLength, maxCapacity int) int {
	if need <= maxLength {
		return min(maxLength, maxCapacity)
	}
	c := minGrowCapacity
	for c < need {
		c <<= 1
	}
	return min(c, maxCapacity)
}

// RefCnt returns the reference count, 0 once released.
func (b *Buffer) RefCnt() int {
	return int(b.refCnt.Load())
}

// Retain adds a reference. It panics if b is released.
func (b *Buffer) Retain() *Buffer {
	for {
		n := b.refCnt.Load()
		if n <= 0 {
			panic(errRetainReleased)
		}
		if b.refCnt.CompareAndSwap(n, n+1) {
			return b
		}
	}
}

// Release drops a reference and reports whether it was the last one, in which
// case the memory is freed and b is recycled. Release on a released buffer
// does nothing and returns false. After the last Release, b must not be used
// again: the next Allocate may return the same pointer.
func (b *Buffer) Release() bool {
	for {
		n := b.refCnt.Load()
		if n <= 0 || b.chunk == nil {
			return false
		}
		if b.refCnt.CompareAndSwap(n, n-1) {
			if n > 1 {
				return false
			}
			b.deallocate()
			return true
		}
	}
}

func (b *Buffer) deallocate() {
	h, c, a, maxLength, p := b.handle, b.chunk, b.arena, b.maxLength, b.parent
	b.handle = NoHandle
	b.memory = nil
	b.recycle()
	switch {
	case p != nil:
		p.derived.Add(-1)
		p.Release()
	case a != nil:
		a.free(c, h, maxLength)
	default:
		c.Free(h)
	}
}

// RetainedSlice returns a view of length bytes at index of the logical region.
// The view shares the memory and holds a reference on b until released.
// Its reader index is 0, its writer index is length and its capacity is fixed.
func (b *Buffer) RetainedSlice(index, length int) (*Buffer, error) {
	if !b.live() {
		return nil, ErrReleased
	}
	if index < 0 || length < 0 || index+length > b.length {
		return nil, fmt.Errorf("%w: slice [%d, %d) of capacity %d", ErrInvalidCapacity, index, index+length, b.length)
	}
	return newDerived(b, b.offset+index, length, 0, length), nil
}

// RetainedDuplicate returns a view of the whole logical region with the same
// indexes. The view shares the memory and holds a reference on b until released.
func (b *Buffer) RetainedDuplicate() (*Buffer, error) {
	if !b.live() {
		return nil, ErrReleased
	}
	return newDerived(b, b.offset, b.length, b.readerIndex, b.writerIndex), nil
}

func (b *Buffer) recycle() {
	b.arena = nil
	b.chunk = nil
	b.memory = nil
	b.parent = nil
	b.view = nil
	b.cache = nil
	b.offset, b.length, b.maxLength = 0, 0, 0
	b.maxCapacity = 0
	b.readerIndex, b.writerIndex = 0, 0
	b.refCnt.Store(0)
	b.derived.Store(0)
	bufferPool.Put(b)
}

func (b *Buffer) String() string {
	if !b.live() {
		return "Buffer(released)"
	}
	return fmt.Sprintf("Buffer(ridx: %d, widx: %d, cap: %d/%d, %v)",
		b.readerIndex, b.writerIndex, b.length, b.maxLength, b.handle)
}
