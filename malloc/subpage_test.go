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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubpageAllocateFree(t *testing.T) {
	pools := newTestPools()
	c := newTestChunk(t, pools, 4096, 1)
	head := pools.FindSubpagePool(16)

	h := c.Allocate(16)
	assert.Equal(t, subpageHandle(2, 0), h)
	assert.Equal(t, 4096, c.FreeBytes())
	s := c.subpages[0]
	require.NotNil(t, s)
	assert.Equal(t, 256, s.maxNumElems)
	assert.Equal(t, 255, s.numAvail)
	assert.Equal(t, 1, head.Len())

	// elements are handed out lowest index first
	for i := 1; i < 256; i++ {
		h := allocateElem(pools, c, 16)
		require.Equal(t, subpageHandle(2, i), h)
		off, n := c.Span(h)
		assert.Equal(t, i*16, off)
		assert.Equal(t, 16, n)
	}
	// a full subpage leaves the pool
	assert.Equal(t, 0, s.numAvail)
	assert.Equal(t, 0, head.Len())
	head.mu.Lock()
	assert.Equal(t, NoHandle, s.allocate())
	head.mu.Unlock()

	// freeing one element links it back and hints its index
	c.Free(subpageHandle(2, 7))
	assert.Equal(t, 1, head.Len())
	assert.Equal(t, 7, s.nextAvail)
	assert.Equal(t, subpageHandle(2, 7), allocateElem(pools, c, 16))
	assert.Equal(t, -1, s.nextAvail)

	// without a hint the lowest clear bit is found
	c.Free(subpageHandle(2, 100))
	c.Free(subpageHandle(2, 30))
	s.nextAvail = -1
	assert.Equal(t, subpageHandle(2, 30), allocateElem(pools, c, 16))
	assert.Equal(t, subpageHandle(2, 100), allocateElem(pools, c, 16))
}

func TestSubpageFindNextAvail(t *testing.T) {
	pools := newTestPools()
	c := newTestChunk(t, pools, 4096, 1)
	// 2 elements of 2KB, the bitmap has room for 256
	h := c.Allocate(2048)
	require.True(t, h.IsSubpage())
	s := c.subpages[0]
	assert.Equal(t, 2, s.maxNumElems)
	assert.Equal(t, 1, s.findNextAvail())

	allocateElem(pools, c, 2048)
	// bits past maxNumElems are never handed out
	assert.Equal(t, -1, s.findNextAvail())
	assert.Equal(t, 0, pools.FindSubpagePool(2048).Len())
}

func TestSubpageSoleMember(t *testing.T) {
	pools := newTestPools()
	c := newTestChunk(t, pools, 4096, 1)
	head := pools.FindSubpagePool(32)

	h := c.Allocate(32)
	s1 := c.subpages[0]
	c.Free(h)
	// the only member stays linked and keeps its page
	assert.True(t, s1.doNotDestroy)
	assert.Equal(t, 1, head.Len())
	assert.Equal(t, 4096, c.FreeBytes())
	assert.Equal(t, s1.maxNumElems, s1.numAvail)

	h1 := allocateElem(pools, c, 32)
	assert.Equal(t, subpageHandle(2, 0), h1)
	h2 := c.Allocate(32)
	assert.Equal(t, subpageHandle(3, 0), h2)
	s2 := c.subpages[1]
	assert.Equal(t, 2, head.Len())
	assert.Equal(t, 0, c.FreeBytes())

	// with another member left, an empty subpage gives its page back
	c.Free(h1)
	assert.False(t, s1.doNotDestroy)
	assert.Nil(t, s1.prev)
	assert.Nil(t, s1.next)
	assert.Equal(t, 1, head.Len())
	assert.Equal(t, 4096, c.FreeBytes())

	c.Free(h2)
	assert.True(t, s2.doNotDestroy)
	assert.Equal(t, 1, head.Len())
	assert.Equal(t, 4096, c.FreeBytes())

	stats := head.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, SubpageStat{
		MemoryMapIdx: 3,
		RunOffset:    4096,
		PageSize:     4096,
		ElemSize:     32,
		MaxNumElems:  128,
		NumAvail:     128,
		InUse:        true,
	}, stats[0])
}

func TestSubpageReinit(t *testing.T) {
	pools := newTestPools()
	c := newTestChunk(t, pools, 4096, 1)

	// keep a 16B subpage on page 3 so the one on page 2 can be destroyed
	h1 := c.Allocate(16)
	h2 := c.Allocate(16)
	assert.Equal(t, 2, h1.MemoryMapIdx())
	assert.Equal(t, 3, h2.MemoryMapIdx())
	s := c.subpages[0]
	c.Free(h1)
	require.False(t, s.doNotDestroy)

	// page 2 comes back as a 512B subpage, reusing the same object
	h := c.Allocate(512)
	assert.Equal(t, subpageHandle(2, 0), h)
	assert.Same(t, s, c.subpages[0])
	assert.True(t, s.doNotDestroy)
	assert.Equal(t, 512, s.elemSize)
	assert.Equal(t, 8, s.maxNumElems)
	assert.Equal(t, 7, s.numAvail)
	assert.Equal(t, 1, pools.FindSubpagePool(512).Len())
	assert.Equal(t, 1, pools.FindSubpagePool(16).Len())

	for i := 1; i < 8; i++ {
		assert.Equal(t, subpageHandle(2, i), allocateElem(pools, c, 512))
	}
	assert.Equal(t, 0, c.FreeBytes())
}

func TestSubpageDoubleFree(t *testing.T) {
	pools := newTestPools()
	c := newTestChunk(t, pools, 4096, 1)
	h := c.Allocate(64)
	allocateElem(pools, c, 64)
	c.Free(h)
	assert.PanicsWithValue(t, errBitmapNotSet, func() { c.Free(h) })
}

func TestSubpageInvalidElemSize(t *testing.T) {
	head := NewSubpagePool(8)
	assert.PanicsWithValue(t, errInvalidElemSize, func() {
		newSubpage(head, nil, 2, 0, 4096, 8)
	})
	assert.PanicsWithValue(t, errInvalidElemSize, func() {
		newSubpage(head, nil, 2, 0, 4096, 4096)
	})
	assert.Equal(t, 0, head.Len())
}

func TestSubpageString(t *testing.T) {
	pools := newTestPools()
	c := newTestChunk(t, pools, 4096, 1)
	c.Allocate(1024)
	assert.Equal(t, "(2: 1/4, offset: 0, length: 4096, elemSize: 1024)", c.subpages[0].String())
}
