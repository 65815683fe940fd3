/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package stock

import "github.com/prometheus/client_golang/prometheus"

// stockMetrics holds two stock-wide gauges (items in the idle LRU, number of
// pools) and the eviction and spawn counters; there are no per-pool series.
type stockMetrics struct {
	idle      prometheus.Gauge
	pools     prometheus.Gauge
	evictions prometheus.Counter
	spawns    prometheus.Counter
	spawnErrs prometheus.Counter
}

func newStockMetrics(namespace string) *stockMetrics {
	return &stockMetrics{
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stock", Name: "idle_items",
			Help: "Items currently sitting in the stock-wide idle LRU.",
		}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stock", Name: "pools",
			Help: "Number of distinct ChildKey pools tracked.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stock", Name: "idle_evictions_total",
			Help: "Total items reclaimed by DiscardOldestIdle.",
		}),
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stock", Name: "spawns_total",
			Help: "Total spawn attempts made on a pool miss.",
		}),
		spawnErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stock", Name: "spawn_errors_total",
			Help: "Total spawn attempts that failed.",
		}),
	}
}

// Collectors returns every metric this stock owns, for a caller to register
// against its own prometheus.Registry (this package never touches the
// global default registry, so multiple Stocks - e.g. one per backend kind -
// can coexist in one process without collector name collisions as long as
// the caller picks distinct namespaces).
func (s *Stock) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.metrics.idle, s.metrics.pools, s.metrics.evictions, s.metrics.spawns, s.metrics.spawnErrs}
}
