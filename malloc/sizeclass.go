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

import "math/bits"

const (
	// sizes below tinyLimit are served by tiny pools, one per multiple of 16
	tinyLimit           = 512
	numTinySubpagePools = tinyLimit >> 4
)

type sizeKind int

const (
	sizeTiny sizeKind = iota
	sizeSmall
	sizeNormal
	sizeHuge
	numSizeKinds
)

func (k sizeKind) String() string {
	switch k {
	case sizeTiny:
		return "tiny"
	case sizeSmall:
		return "small"
	case sizeNormal:
		return "normal"
	case sizeHuge:
		return "huge"
	}
	return "unknown"
}

// normalizeCapacity rounds reqCapacity up to a size class:
//
//	[0, 512)          next multiple of 16, at least 16
//	[512, chunkSize)  next power of two
//	>= chunkSize      unchanged
func normalizeCapacity(reqCapacity, chunkSize int) int {
	if reqCapacity >= chunkSize {
		return reqCapacity
	}
	if reqCapacity >= tinyLimit {
		if reqCapacity&(reqCapacity-1) == 0 {
			return reqCapacity
		}
		return 1 << bits.Len(uint(reqCapacity))
	}
	if reqCapacity < minElemSize {
		return minElemSize
	}
	if reqCapacity&15 == 0 {
		return reqCapacity
	}
	return reqCapacity&^15 + 16
}

func isTiny(normCapacity int) bool {
	return normCapacity < tinyLimit
}

// isSubpageClass reports whether n is the element size of a tiny or small pool.
func isSubpageClass(n int) bool {
	if isTiny(n) {
		return n >= minElemSize && n&15 == 0
	}
	return n&(n-1) == 0
}

func tinyIdx(normCapacity int) int {
	return normCapacity >> 4
}

// smallIdx maps 512, 1K, 2K, ... to 0, 1, 2, ...
func smallIdx(normCapacity int) int {
	idx := 0
	for i := normCapacity >> 10; i != 0; i >>= 1 {
		idx++
	}
	return idx
}

func kindOf(normCapacity, pageSize, chunkSize int) sizeKind {
	switch {
	case isTiny(normCapacity):
		return sizeTiny
	case normCapacity < pageSize:
		return sizeSmall
	case normCapacity <= chunkSize:
		return sizeNormal
	}
	return sizeHuge
}
