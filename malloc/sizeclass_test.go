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
)

func TestNormalizeCapacity(t *testing.T) {
	chunkSize := 16 << 20
	tests := []struct {
		req, want int
	}{
		{0, 16},
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
		{400, 400},
		{496, 496},
		{497, 512},
		{511, 512},
		{512, 512},
		{513, 1024},
		{1024, 1024},
		{5000, 8192},
		{8192, 8192},
		{8193, 16384},
		{chunkSize - 1, chunkSize},
		{chunkSize, chunkSize},
		{chunkSize + 1, chunkSize + 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeCapacity(tt.req, chunkSize), "req=%d", tt.req)
	}
}

func TestSizeClassIndex(t *testing.T) {
	assert.Equal(t, 1, tinyIdx(16))
	assert.Equal(t, 2, tinyIdx(32))
	assert.Equal(t, 31, tinyIdx(496))
	assert.True(t, isTiny(496))
	assert.False(t, isTiny(512))

	assert.Equal(t, 0, smallIdx(512))
	assert.Equal(t, 1, smallIdx(1024))
	assert.Equal(t, 2, smallIdx(2048))
	assert.Equal(t, 3, smallIdx(4096))
}

func TestIsSubpageClass(t *testing.T) {
	for _, n := range []int{16, 32, 48, 400, 496, 512, 1024, 2048, 4096} {
		assert.True(t, isSubpageClass(n), "n=%d", n)
	}
	for _, n := range []int{0, 8, 15, 24, 497, 600, 1360, 3000} {
		assert.False(t, isSubpageClass(n), "n=%d", n)
	}
}

func TestKindOf(t *testing.T) {
	const pageSize, chunkSize = 8192, 16 << 20
	tests := []struct {
		norm int
		want sizeKind
	}{
		{16, sizeTiny},
		{496, sizeTiny},
		{512, sizeSmall},
		{4096, sizeSmall},
		{8192, sizeNormal},
		{chunkSize, sizeNormal},
		{chunkSize + 1, sizeHuge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kindOf(tt.norm, pageSize, chunkSize), "norm=%d", tt.norm)
	}
	assert.Equal(t, "tiny", sizeTiny.String())
	assert.Equal(t, "huge", sizeHuge.String())
	assert.Equal(t, "unknown", numSizeKinds.String())
}
