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

// ChunkStat is a snapshot of a Chunk's accounting.
type ChunkStat struct {
	ID        uint64
	ChunkSize int
	FreeBytes int
	Usage     int // percent, see Chunk.Usage
	Unpooled  bool
}

// SubpageStat is a snapshot of a Subpage.
type SubpageStat struct {
	MemoryMapIdx int
	RunOffset    int
	PageSize     int
	ElemSize     int
	MaxNumElems  int
	NumAvail     int
	InUse        bool
}

// ArenaStat is a snapshot of an Arena.
type ArenaStat struct {
	ChunkSize int
	Chunks    []ChunkStat

	TinySubpages  []SubpageStat
	SmallSubpages []SubpageStat

	NumTinyAllocations   int64
	NumSmallAllocations  int64
	NumNormalAllocations int64
	NumHugeAllocations   int64

	NumTinyDeallocations   int64
	NumSmallDeallocations  int64
	NumNormalDeallocations int64
	NumHugeDeallocations   int64

	ActiveHugeBytes int64
}

// NumAllocations returns the allocations of every size.
func (s ArenaStat) NumAllocations() int64 {
	return s.NumTinyAllocations + s.NumSmallAllocations + s.NumNormalAllocations + s.NumHugeAllocations
}

// NumDeallocations returns the deallocations of every size.
func (s ArenaStat) NumDeallocations() int64 {
	return s.NumTinyDeallocations + s.NumSmallDeallocations + s.NumNormalDeallocations + s.NumHugeDeallocations
}

// NumActiveAllocations returns the allocations not freed yet.
func (s ArenaStat) NumActiveAllocations() int64 {
	return s.NumAllocations() - s.NumDeallocations()
}

// FreeBytes returns the free bytes of all pooled chunks.
func (s ArenaStat) FreeBytes() int {
	n := 0
	for _, c := range s.Chunks {
		if !c.Unpooled {
			n += c.FreeBytes
		}
	}
	return n
}
