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
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/mcache"
)

// Arena allocates Buffers from a list of Chunks.
//
// Requests are rounded to size classes. Sizes below a page are served from
// subpages linked in per-size pools, sizes up to the chunk size from the
// buddy tree of a chunk, and larger sizes from dedicated unpooled memory.
// New chunks are created on demand, and empty chunks above Config.MinChunks
// are returned to the Storage.
//
// An Arena is safe for concurrent use.
type Arena struct {
	cfg       Config
	opts      options
	logger    *Logger
	chunkSize int

	tinyPools  [numTinySubpagePools]*SubpagePool
	smallPools []*SubpagePool

	mu     sync.Mutex // guards chunks
	chunks []*Chunk
	closed atomic.Bool
	lastID atomic.Uint64

	allocations     [numSizeKinds]atomic.Int64
	deallocations   [numSizeKinds]atomic.Int64
	activeHugeBytes atomic.Int64
}

var _ SubpagePools = (*Arena)(nil)

// NewArena creates an Arena. No chunk is created until the first allocation.
func NewArena(cfg Config, opts ...Option) (*Arena, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	a := &Arena{
		cfg:       cfg,
		opts:      o,
		logger:    o.logger.WithArena(cfg.PageSize, cfg.MaxOrder),
		chunkSize: cfg.ChunkSize(),
	}
	for i := range a.tinyPools {
		a.tinyPools[i] = NewSubpagePool(i << 4)
	}
	pageShifts := bits.TrailingZeros(uint(cfg.PageSize))
	a.smallPools = make([]*SubpagePool, pageShifts-9)
	for i := range a.smallPools {
		a.smallPools[i] = NewSubpagePool(tinyLimit << i)
	}
	return a, nil
}

// Config returns the config of the arena.
func (a *Arena) Config() Config {
	return a.cfg
}

// NormalizeCapacity rounds reqCapacity up to the size class serving it.
func (a *Arena) NormalizeCapacity(reqCapacity int) int {
	return normalizeCapacity(reqCapacity, a.chunkSize)
}

// FindSubpagePool implements SubpagePools.
func (a *Arena) FindSubpagePool(elemSize int) *SubpagePool {
	if isTiny(elemSize) {
		return a.tinyPools[tinyIdx(elemSize)]
	}
	return a.smallPools[smallIdx(elemSize)]
}

// Allocate returns a Buffer with capacity reqCapacity that may grow up to maxCapacity.
// It returns ErrOutOfSpace when Config.MaxChunks chunks are full.
func (a *Arena) Allocate(reqCapacity, maxCapacity int) (*Buffer, error) {
	if reqCapacity < 0 || reqCapacity > maxCapacity {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidCapacity, reqCapacity, maxCapacity)
	}
	b := newBuffer(a, maxCapacity)
	if err := a.allocateInto(b, reqCapacity); err != nil {
		b.recycle()
		return nil, err
	}
	return b, nil
}

// allocateInto binds b to a new allocation of reqCapacity bytes.
// b is left untouched on error.
func (a *Arena) allocateInto(b *Buffer, reqCapacity int) error {
	if a.closed.Load() {
		return ErrClosed
	}
	normCapacity := a.NormalizeCapacity(reqCapacity)
	if normCapacity > a.chunkSize {
		a.allocateHuge(b, reqCapacity)
		return nil
	}

	var cache any
	if a.opts.cacheContext != nil {
		cache = a.opts.cacheContext()
	}
	kind := kindOf(normCapacity, a.cfg.PageSize, a.chunkSize)

	if normCapacity < a.cfg.PageSize {
		// fast path: an existing subpage of the size class
		pool := a.FindSubpagePool(normCapacity)
		h, c := NoHandle, (*Chunk)(nil)
		pool.mu.Lock()
		if s := pool.first(); s != nil {
			h, c = s.allocate(), s.chunk
		}
		pool.mu.Unlock()
		if h.Valid() {
			c.InitBuf(b, h, reqCapacity, cache)
			a.allocations[kind].Add(1)
			return nil
		}
	}

	if err := a.allocateNormal(b, reqCapacity, normCapacity, cache); err != nil {
		return err
	}
	a.allocations[kind].Add(1)
	return nil
}

func (a *Arena) allocateNormal(b *Buffer, reqCapacity, normCapacity int, cache any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	for _, c := range a.chunks {
		if h := c.Allocate(normCapacity); h.Valid() {
			c.InitBuf(b, h, reqCapacity, cache)
			return nil
		}
	}
	if a.cfg.MaxChunks > 0 && len(a.chunks) >= a.cfg.MaxChunks {
		a.logger.logOutOfSpace(normCapacity, len(a.chunks))
		return ErrOutOfSpace
	}
	c, err := a.newChunk()
	if err != nil {
		return err
	}
	a.chunks = append(a.chunks, c)
	a.logger.logChunkCreated(c, len(a.chunks))

	h := c.Allocate(normCapacity)
	if !h.Valid() {
		// a fresh chunk always fits a normalized capacity
		panic(errCorruptedTree)
	}
	c.InitBuf(b, h, reqCapacity, cache)
	return nil
}

func (a *Arena) allocateHuge(b *Buffer, reqCapacity int) {
	memory := mcache.Malloc(reqCapacity)
	clear(memory)
	c := newUnpooledChunk(memory)
	c.InitBuf(b, runHandle(0), reqCapacity, nil)
	a.allocations[sizeHuge].Add(1)
	a.activeHugeBytes.Add(int64(reqCapacity))
}

func (a *Arena) newChunk() (*Chunk, error) {
	memory, err := a.opts.storage.Allocate(a.chunkSize)
	if err != nil {
		a.logger.logProvisionFailed(a.chunkSize, err)
		return nil, fmt.Errorf("malloc: provision chunk: %w", err)
	}
	c, err := NewChunk(a, memory, a.cfg.PageSize, a.cfg.MaxOrder)
	if err != nil {
		_ = a.opts.storage.Release(memory)
		return nil, err
	}
	c.id = a.lastID.Add(1)
	return c, nil
}

// reallocate moves b to an allocation of newCapacity bytes.
// The first min(old, new) bytes are copied and the indexes are clamped.
func (a *Arena) reallocate(b *Buffer, newCapacity int) error {
	oldChunk, oldHandle, oldMemory := b.chunk, b.handle, b.memory
	oldOffset, oldCapacity, oldMaxLength := b.offset, b.length, b.maxLength
	readerIndex, writerIndex := b.readerIndex, b.writerIndex

	if err := a.allocateInto(b, newCapacity); err != nil {
		return err
	}
	n := min(oldCapacity, newCapacity)
	copy(b.memory[b.offset:b.offset+n], oldMemory[oldOffset:oldOffset+n])
	b.readerIndex = min(readerIndex, newCapacity)
	b.writerIndex = min(writerIndex, newCapacity)

	a.free(oldChunk, oldHandle, oldMaxLength)
	return nil
}

// free releases the allocation h of c. maxLength is the allocated length,
// it tells which size class the allocation was counted in.
func (a *Arena) free(c *Chunk, h Handle, maxLength int) {
	if c.unpooled {
		c.Free(h)
		a.deallocations[sizeHuge].Add(1)
		a.activeHugeBytes.Add(-int64(c.chunkSize))
		mcache.Free(c.memory)
		return
	}
	c.Free(h)
	a.deallocations[kindOf(maxLength, a.cfg.PageSize, a.chunkSize)].Add(1)
	if c.FreeBytes() == c.chunkSize {
		a.releaseEmptyChunk(c)
	}
}

func (a *Arena) releaseEmptyChunk(c *Chunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() || len(a.chunks) <= a.cfg.MinChunks {
		return
	}
	// an allocation may have raced in before the lock
	if c.FreeBytes() != c.chunkSize {
		return
	}
	i := slices.Index(a.chunks, c)
	if i < 0 {
		return
	}
	a.chunks = slices.Delete(a.chunks, i, i+1)
	err := a.opts.storage.Release(c.memory)
	a.logger.logChunkDestroyed(c, len(a.chunks), err)
}

// NumChunks returns the number of pooled chunks.
func (a *Arena) NumChunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}

// Stats returns a snapshot of the arena.
func (a *Arena) Stats() ArenaStat {
	a.mu.Lock()
	chunks := slices.Clone(a.chunks)
	a.mu.Unlock()

	s := ArenaStat{ChunkSize: a.chunkSize}
	for _, c := range chunks {
		s.Chunks = append(s.Chunks, c.Stat())
	}
	for _, p := range a.tinyPools {
		s.TinySubpages = append(s.TinySubpages, p.Stats()...)
	}
	for _, p := range a.smallPools {
		s.SmallSubpages = append(s.SmallSubpages, p.Stats()...)
	}
	s.NumTinyAllocations = a.allocations[sizeTiny].Load()
	s.NumSmallAllocations = a.allocations[sizeSmall].Load()
	s.NumNormalAllocations = a.allocations[sizeNormal].Load()
	s.NumHugeAllocations = a.allocations[sizeHuge].Load()
	s.NumTinyDeallocations = a.deallocations[sizeTiny].Load()
	s.NumSmallDeallocations = a.deallocations[sizeSmall].Load()
	s.NumNormalDeallocations = a.deallocations[sizeNormal].Load()
	s.NumHugeDeallocations = a.deallocations[sizeHuge].Load()
	s.ActiveHugeBytes = a.activeHugeBytes.Load()
	return s
}

// Close releases the memory of all chunks. Buffers still in use must not be
// accessed afterwards. Allocate returns ErrClosed after Close.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, c := range a.chunks {
		err := a.opts.storage.Release(c.memory)
		if err != nil {
			errs = append(errs, err)
		}
		a.logger.logChunkDestroyed(c, 0, err)
	}
	a.chunks = nil
	return errors.Join(errs...)
}
