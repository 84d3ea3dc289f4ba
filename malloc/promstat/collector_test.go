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

package promstat

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/pooledbuf/malloc"
)

func newTestArena(t *testing.T) *malloc.Arena {
	cfg := malloc.DefaultConfig()
	cfg.MaxOrder = 4
	a, err := malloc.NewArena(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestCollector(t *testing.T) {
	a := newTestArena(t)
	c := NewCollector("test", a)

	var bufs []*malloc.Buffer
	for _, size := range []int{16, 16, 8192} {
		b, err := a.Allocate(size, size)
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	bufs[0].Release()

	expected := `
# HELP test_arena_chunks Number of pooled chunks.
# TYPE test_arena_chunks gauge
test_arena_chunks 1
# HELP test_arena_free_bytes Bytes not reserved in pooled chunks.
# TYPE test_arena_free_bytes gauge
test_arena_free_bytes 114688
# HELP test_arena_allocations_total Allocations served.
# TYPE test_arena_allocations_total counter
test_arena_allocations_total{kind="huge"} 0
test_arena_allocations_total{kind="normal"} 1
test_arena_allocations_total{kind="small"} 0
test_arena_allocations_total{kind="tiny"} 2
# HELP test_arena_active_allocations Allocations not freed yet.
# TYPE test_arena_active_allocations gauge
test_arena_active_allocations{kind="huge"} 0
test_arena_active_allocations{kind="normal"} 1
test_arena_active_allocations{kind="small"} 0
test_arena_active_allocations{kind="tiny"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"test_arena_chunks",
		"test_arena_free_bytes",
		"test_arena_allocations_total",
		"test_arena_active_allocations",
	)
	assert.NoError(t, err)

	// one usage series per chunk
	assert.Equal(t, 1, testutil.CollectAndCount(c, "test_arena_chunk_usage_percent"))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "test_arena_subpages"))

	for _, b := range bufs[1:] {
		b.Release()
	}
}

func TestCollectorChunkLabel(t *testing.T) {
	a := newTestArena(t)
	c := NewCollector("test", a)

	b1, err := a.Allocate(131072, 131072)
	require.NoError(t, err)
	b2, err := a.Allocate(131072, 131072)
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(c, "test_arena_chunk_usage_percent"))

	// the first chunk is destroyed, the series of the second one keeps its label
	b1.Release()
	expected := `
# HELP test_arena_chunk_usage_percent Usage of each pooled chunk in percent, by chunk id.
# TYPE test_arena_chunk_usage_percent gauge
test_arena_chunk_usage_percent{chunk="2"} 100
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "test_arena_chunk_usage_percent"))
	b2.Release()
}

func TestCollectorRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("pooledbuf", newTestArena(t))))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	// an arena without chunks has no usage series
	assert.ElementsMatch(t, []string{
		"pooledbuf_arena_chunks",
		"pooledbuf_arena_free_bytes",
		"pooledbuf_arena_active_huge_bytes",
		"pooledbuf_arena_subpages",
		"pooledbuf_arena_active_allocations",
		"pooledbuf_arena_allocations_total",
		"pooledbuf_arena_deallocations_total",
	}, names)
}
