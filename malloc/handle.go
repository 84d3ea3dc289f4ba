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

import "fmt"

// Handle identifies an allocation inside a Chunk.
//
// Layout of the 64-bit value:
//
//	bits  0..31  memory map index (tree node id)
//	bits 32..61  bitmap index inside the subpage, valid when bit 62 is set
//	bit  62      subpage tag
//
// A run allocation has the tag cleared and a zero bitmap part. The tag lets a
// subpage element with bitmap index 0 be told apart from a run.
type Handle int64

const (
	// NoHandle is returned when an allocation can not be satisfied.
	// It is also the value a released Buffer holds.
	NoHandle Handle = -1

	subpageTag     = Handle(0x4000000000000000)
	bitmapIdxMask  = 0x3FFFFFFF
	memoryMapShift = 32
)

func runHandle(memoryMapIdx int) Handle {
	return Handle(uint32(memoryMapIdx))
}

func subpageHandle(memoryMapIdx, bitmapIdx int) Handle {
	return subpageTag | Handle(bitmapIdx&bitmapIdxMask)<<memoryMapShift | Handle(uint32(memoryMapIdx))
}

// Valid reports whether h refers to an allocation.
func (h Handle) Valid() bool {
	return h >= 0
}

// MemoryMapIdx returns the tree node id.
func (h Handle) MemoryMapIdx() int {
	return int(uint32(h))
}

// IsSubpage reports whether h refers to an element of a subpage.
func (h Handle) IsSubpage() bool {
	return h.Valid() && h&subpageTag != 0
}

// BitmapIdx returns the element index inside the subpage.
// It is 0 for run allocations.
func (h Handle) BitmapIdx() int {
	if !h.IsSubpage() {
		return 0
	}
	return int(uint64(h)>>memoryMapShift) & bitmapIdxMask
}

func (h Handle) String() string {
	switch {
	case !h.Valid():
		return "Handle(none)"
	case h.IsSubpage():
		return fmt.Sprintf("Handle(node=%d, bitmap=%d)", h.MemoryMapIdx(), h.BitmapIdx())
	default:
		return fmt.Sprintf("Handle(node=%d)", h.MemoryMapIdx())
	}
}
