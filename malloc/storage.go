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

// Storage provides the backing memory of chunks.
type Storage interface {
	// Allocate returns a zero-initialized region of exactly size bytes.
	Allocate(size int) ([]byte, error)

	// Release returns a region previously returned by Allocate.
	Release(b []byte) error
}

// HeapStorage allocates chunk memory on the Go heap.
// Released regions are left to the garbage collector.
type HeapStorage struct{}

var _ Storage = HeapStorage{}

// Allocate implements Storage.
func (HeapStorage) Allocate(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Release implements Storage.
func (HeapStorage) Release([]byte) error {
	return nil
}
