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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	var out bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&out, nil)).WithArena(8192, 11)

	c := newUnpooledChunk(make([]byte, 100))
	l.logChunkCreated(c, 1) // debug, dropped
	l.logChunkDestroyed(c, 0, errors.New("munmap failed"))
	l.logOutOfSpace(8192, 4)

	logs := out.String()
	assert.NotContains(t, logs, "chunk created")
	assert.Contains(t, logs, `"msg":"chunk release failed"`)
	assert.Contains(t, logs, `"error":"munmap failed"`)
	assert.Contains(t, logs, `"msg":"arena out of space"`)
	assert.Contains(t, logs, `"pageSize":8192`)

	assert.NotNil(t, NewLogger(nil).Logger)
	assert.False(t, NoopLogger().Enabled(context.Background(), slog.LevelError))
}
