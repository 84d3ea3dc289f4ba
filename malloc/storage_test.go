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

func TestStorage(t *testing.T) {
	for _, tt := range []struct {
		name string
		s    Storage
	}{
		{"heap", HeapStorage{}},
		{"mmap", MmapStorage{}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.s.Allocate(64 << 10)
			require.NoError(t, err)
			require.Len(t, b, 64<<10)
			for i := range b {
				if b[i] != 0 {
					t.Fatalf("byte %d not zeroed", i)
				}
			}
			b[0], b[len(b)-1] = 1, 1
			assert.NoError(t, tt.s.Release(b))
			assert.NoError(t, tt.s.Release(nil))
		})
	}
}
