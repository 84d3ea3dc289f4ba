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

import "errors"

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("malloc: invalid config")

	// ErrOutOfSpace is returned when no chunk can satisfy an allocation and
	// no new chunk may be created.
	ErrOutOfSpace = errors.New("malloc: out of space")

	// ErrInvalidCapacity is returned for a negative capacity or a capacity
	// larger than the buffer's max capacity.
	ErrInvalidCapacity = errors.New("malloc: invalid capacity")

	// ErrReleased is returned when using a buffer after Release.
	ErrReleased = errors.New("malloc: buffer released")

	// ErrClosed is returned by an Arena after Close.
	ErrClosed = errors.New("malloc: arena closed")

	// ErrFixedCapacity is returned when resizing a derived buffer.
	ErrFixedCapacity = errors.New("malloc: capacity of a derived buffer is fixed")

	// ErrShared is returned when a buffer with live derived views would have
	// to move to a new allocation.
	ErrShared = errors.New("malloc: buffer memory is shared by derived buffers")
)

// panic messages for corrupted state or misuse of handles.
// These are never returned as errors: continuing would corrupt the tree.
const (
	errNodeNotAllocated  = "malloc: free of a node that is not allocated"
	errNodeOutOfRange    = "malloc: node id out of range"
	errSubpageNotInUse   = "malloc: subpage is not in use"
	errBitmapNotSet      = "malloc: double free or invalid bitmap index"
	errBitmapAlreadySet  = "malloc: bitmap index already in use"
	errForeignChunk      = "malloc: handle does not belong to this chunk"
	errCorruptedTree     = "malloc: corrupted memory map"
	errSubpageLinked     = "malloc: subpage already linked"
	errSubpageNotLinked  = "malloc: subpage not linked"
	errInvalidElemSize   = "malloc: invalid element size"
	errUnpooledAllocate  = "malloc: allocate on an unpooled chunk"
	errReqCapacityTooBig = "malloc: requested capacity exceeds allocation"
	errRetainReleased    = "malloc: retain of a released buffer"
)
