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
	"math/bits"
)

const (
	// DefaultPageSize is the default leaf size of the buddy tree (8KB).
	DefaultPageSize = 8 * 1024

	// DefaultMaxOrder is the default tree depth. 8KB << 11 = 16MB chunks.
	DefaultMaxOrder = 11

	// DefaultShrinkSmallThreshold is the max length at or below which an
	// in-place shrink must also stay within DefaultShrinkSmallMargin.
	DefaultShrinkSmallThreshold = 512

	// DefaultShrinkSmallMargin is the margin an in-place shrink of a small
	// region must stay within.
	DefaultShrinkSmallMargin = 16

	// minPageSize keeps room for at least one 64-bit bitmap word per page.
	minPageSize = 4096
)

// Config describes the geometry of the chunks managed by an Arena.
type Config struct {
	// PageSize is the size of a leaf of the buddy tree.
	// It must be a power of two and >= 4096.
	PageSize int

	// MaxOrder is the depth of the buddy tree. ChunkSize = PageSize << MaxOrder.
	MaxOrder int

	// ShrinkSmallThreshold and ShrinkSmallMargin control when Buffer.SetCapacity
	// shrinks in place. A shrink is done in place when the new capacity is
	// greater than half of the allocated length and, if the allocated length
	// is <= ShrinkSmallThreshold, greater than allocated length - ShrinkSmallMargin.
	ShrinkSmallThreshold int
	ShrinkSmallMargin    int

	// MinChunks is the number of empty chunks kept by the arena instead of
	// being released to the storage.
	MinChunks int

	// MaxChunks limits the number of pooled chunks. 0 means no limit.
	MaxChunks int
}

// DefaultConfig returns the default values of Config.
func DefaultConfig() Config {
	return Config{
		PageSize:             DefaultPageSize,
		MaxOrder:             DefaultMaxOrder,
		ShrinkSmallThreshold: DefaultShrinkSmallThreshold,
		ShrinkSmallMargin:    DefaultShrinkSmallMargin,
		MinChunks:            1,
	}
}

// ChunkSize returns PageSize << MaxOrder.
func (c Config) ChunkSize() int {
	return c.PageSize << c.MaxOrder
}

// Validate checks the config and returns an error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	if c.PageSize < minPageSize || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("%w: pageSize must be a power of two and >= %d, got %d",
			ErrInvalidConfig, minPageSize, c.PageSize)
	}
	if c.MaxOrder < 0 {
		return fmt.Errorf("%w: maxOrder must be >= 0, got %d", ErrInvalidConfig, c.MaxOrder)
	}
	// node ids and offsets must fit the 32-bit part of a Handle
	if bits.TrailingZeros(uint(c.PageSize))+c.MaxOrder > 30 {
		return fmt.Errorf("%w: chunk size %d exceeds 1GB", ErrInvalidConfig, c.ChunkSize())
	}
	if c.ShrinkSmallThreshold < 0 || c.ShrinkSmallMargin < 0 {
		return fmt.Errorf("%w: shrink threshold and margin must be >= 0", ErrInvalidConfig)
	}
	if c.MinChunks < 0 || c.MaxChunks < 0 {
		return fmt.Errorf("%w: chunk limits must be >= 0", ErrInvalidConfig)
	}
	if c.MaxChunks > 0 && c.MinChunks > c.MaxChunks {
		return fmt.Errorf("%w: minChunks (%d) must be <= maxChunks (%d)",
			ErrInvalidConfig, c.MinChunks, c.MaxChunks)
	}
	return nil
}
