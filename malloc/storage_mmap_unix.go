//go:build unix

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

	"golang.org/x/sys/unix"
)

// MmapStorage allocates chunk memory with anonymous private mappings.
// The memory is outside of the Go heap and is returned to the OS on Release.
type MmapStorage struct{}

var _ Storage = MmapStorage{}

// Allocate implements Storage. Anonymous mappings are zero-filled by the kernel.
func (MmapStorage) Allocate(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("malloc: mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Release implements Storage.
func (MmapStorage) Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("malloc: munmap %d bytes: %w", len(b), err)
	}
	return nil
}
