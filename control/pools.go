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

package control

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bprox/core/registry"
	"github.com/bprox/core/stock"
)

// Pools implements the FADE_CHILDREN/DUMP_POOLS/STATS slice of Handlers
// over a process's actual set of stock.Stock instances (one per resource
// variant - plain HTTP/CGI, FastCGI, WAS, multi-WAS) plus the shared
// registry.Registry. Neither stock nor registry knows about the control
// protocol; this is the adapter that speaks both.
type Pools struct {
	mu     sync.Mutex
	stocks map[string]*stock.Stock
	reg    *registry.Registry
}

// NewPools starts with no registered stocks; Add wires them in once
// cmd/bp-proxy builds them (their construction needs a spawn.Client that
// does not exist until the sidecar handshake completes).
func NewPools(reg *registry.Registry) *Pools {
	return &Pools{stocks: make(map[string]*stock.Stock), reg: reg}
}

// Add registers a stock under a diagnostic name (e.g. "fastcgi", "was")
// used as the DUMP_POOLS section header.
func (p *Pools) Add(name string, s *stock.Stock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stocks[name] = s
}

// FadeChildren fades every registered stock - §6's FADE_CHILDREN has no
// per-variant targeting. With an empty tag every pool fades (idle children
// are destroyed now, leased ones on release); with a tag, only the idle
// children carrying it are destroyed.
func (p *Pools) FadeChildren(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stocks {
		if tag == "" {
			s.FadeAll()
		} else {
			s.FadeTag(tag)
		}
	}
}

// DumpPools renders one line per pool per registered stock, the DUMP_POOLS
// response body.
func (p *Pools) DumpPools() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	for name, s := range p.stocks {
		for _, snap := range s.Snapshot() {
			fmt.Fprintf(&b, "%s %s: parallelism=%d active=%d idle=%d waiters=%d fading=%t\n",
				name, snap.Key.Value, snap.Parallelism, snap.Active, snap.Idle, snap.Waiters, snap.Fading)
		}
	}
	return b.String()
}

// Stats fills in the Children counter from the registry's live pid count;
// the connection/session/traffic counters belong to the out-of-scope
// HTTP front-end and are left zero here.
func (p *Pools) Stats() Stats {
	var children uint32
	if p.reg != nil {
		children = uint32(p.reg.Count())
	}
	return Stats{Children: children}
}
