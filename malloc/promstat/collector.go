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

// Package promstat exports the statistics of a malloc.Arena to Prometheus.
package promstat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudwego/pooledbuf/malloc"
)

// Collector implements prometheus.Collector for an Arena.
// Every scrape takes a fresh Arena.Stats snapshot.
type Collector struct {
	arena *malloc.Arena

	chunks          *prometheus.Desc
	chunkUsage      *prometheus.Desc
	freeBytes       *prometheus.Desc
	activeHugeBytes *prometheus.Desc
	subpages        *prometheus.Desc
	active          *prometheus.Desc
	allocations     *prometheus.Desc
	deallocations   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector. namespace prefixes every metric name.
func NewCollector(namespace string, arena *malloc.Arena) *Collector {
	fqName := func(name string) string {
		return prometheus.BuildFQName(namespace, "arena", name)
	}
	return &Collector{
		arena: arena,
		chunks: prometheus.NewDesc(fqName("chunks"),
			"Number of pooled chunks.", nil, nil),
		chunkUsage: prometheus.NewDesc(fqName("chunk_usage_percent"),
			"Usage of each pooled chunk in percent, by chunk id.", []string{"chunk"}, nil),
		freeBytes: prometheus.NewDesc(fqName("free_bytes"),
			"Bytes not reserved in pooled chunks.", nil, nil),
		activeHugeBytes: prometheus.NewDesc(fqName("active_huge_bytes"),
			"Bytes held by live huge allocations.", nil, nil),
		subpages: prometheus.NewDesc(fqName("subpages"),
			"Number of subpages linked into pools.", []string{"kind"}, nil),
		active: prometheus.NewDesc(fqName("active_allocations"),
			"Allocations not freed yet.", []string{"kind"}, nil),
		allocations: prometheus.NewDesc(fqName("allocations_total"),
			"Allocations served.", []string{"kind"}, nil),
		deallocations: prometheus.NewDesc(fqName("deallocations_total"),
			"Allocations freed.", []string{"kind"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.chunks
	ch <- c.chunkUsage
	ch <- c.freeBytes
	ch <- c.activeHugeBytes
	ch <- c.subpages
	ch <- c.active
	ch <- c.allocations
	ch <- c.deallocations
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.arena.Stats()

	ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(len(s.Chunks)))
	for _, cs := range s.Chunks {
		ch <- prometheus.MustNewConstMetric(c.chunkUsage, prometheus.GaugeValue,
			float64(cs.Usage), strconv.FormatUint(cs.ID, 10))
	}
	ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(s.FreeBytes()))
	ch <- prometheus.MustNewConstMetric(c.activeHugeBytes, prometheus.GaugeValue, float64(s.ActiveHugeBytes))
	ch <- prometheus.MustNewConstMetric(c.subpages, prometheus.GaugeValue, float64(len(s.TinySubpages)), "tiny")
	ch <- prometheus.MustNewConstMetric(c.subpages, prometheus.GaugeValue, float64(len(s.SmallSubpages)), "small")

	for _, k := range []struct {
		kind        string
		alloc, free int64
	}{
		{"tiny", s.NumTinyAllocations, s.NumTinyDeallocations},
		{"small", s.NumSmallAllocations, s.NumSmallDeallocations},
		{"normal", s.NumNormalAllocations, s.NumNormalDeallocations},
		{"huge", s.NumHugeAllocations, s.NumHugeDeallocations},
	} {
		ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(k.alloc), k.kind)
		ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(k.free), k.kind)
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(k.alloc-k.free), k.kind)
	}
}
