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

package registry

import "github.com/prometheus/client_golang/prometheus"

// metrics is the registry's gauge and counters, one set per Registry; the
// package never registers them itself (see Collectors).
type metrics struct {
	tracked  prometheus.Gauge
	spawned  prometheus.Counter
	exited   prometheus.Counter
	killed   prometheus.Counter
	timeouts prometheus.Counter
}

func newMetrics(namespace string) *metrics {
	return &metrics{
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "registry", Name: "processes_tracked",
			Help: "Number of child processes currently tracked by the registry.",
		}),
		spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "processes_added_total",
			Help: "Total child processes registered with Add.",
		}),
		exited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "processes_exited_total",
			Help: "Total EXIT reports fanned out by OnExit.",
		}),
		killed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "kill_signals_total",
			Help: "Total signals sent through Kill.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "kill_timeout_fallbacks_total",
			Help: "Total 60s kill-timeout SIGKILL fallbacks fired (spec.md §4.5/§5).",
		}),
	}
}

// Collectors returns every metric this registry owns, for a caller to
// prometheus.Register (or MustRegister) against its own registry - this
// package never registers against the global default registry itself, so
// multiple Registry instances in one process (e.g. tests) don't collide.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.metrics.tracked, r.metrics.spawned, r.metrics.exited, r.metrics.killed, r.metrics.timeouts}
}
