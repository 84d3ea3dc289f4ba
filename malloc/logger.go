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
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with the fields the arena logs with.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing Info and above to stderr is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithArena tags records with the arena geometry.
func (l *Logger) WithArena(pageSize, maxOrder int) *Logger {
	return &Logger{Logger: l.Logger.With("pageSize", pageSize, "maxOrder", maxOrder)}
}

func (l *Logger) logChunkCreated(c *Chunk, chunks int) {
	l.Debug("chunk created",
		"chunk", c.String(),
		"chunks", chunks,
	)
}

func (l *Logger) logChunkDestroyed(c *Chunk, chunks int, err error) {
	if err != nil {
		l.Error("chunk release failed",
			"chunkSize", c.chunkSize,
			"error", err,
		)
		return
	}
	l.Debug("chunk destroyed",
		"chunkSize", c.chunkSize,
		"chunks", chunks,
	)
}

func (l *Logger) logProvisionFailed(size int, err error) {
	l.Error("chunk provisioning failed",
		"size", size,
		"error", err,
	)
}

func (l *Logger) logOutOfSpace(normCapacity, chunks int) {
	l.Warn("arena out of space",
		"normCapacity", normCapacity,
		"chunks", chunks,
	)
}
