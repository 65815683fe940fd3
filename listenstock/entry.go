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

package listenstock

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bprox/core/errors"
	"github.com/bprox/core/runner/startStop"
)

// State is one of the five states §4.2 names; Faded additionally covers the
// sticky-error terminal state reached from any of the others.
type State int

const (
	StateListening State = iota
	StateQuerying
	StateRunning
	StateCooling
	StateIdle
	StateFaded
)

// Entry is one ListenStreamEntry: the real socket outside the container,
// plus the single child process lifecycle it currently owns.
type Entry struct {
	stock *Stock
	path  string

	mu      sync.Mutex
	state   State
	tags    []string
	leases  int
	fading  bool
	lastErr error
	bound   bool

	listener *net.UnixListener
	run      startStop.StartStop
	coolT    *time.Timer
	idleT    *time.Timer
}

func newEntry(s *Stock, path string) *Entry {
	return &Entry{stock: s, path: path, state: StateListening}
}

func (e *Entry) hasTag(tag string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ensureListening binds the real socket and starts the accept loop on
// first use; a Faded entry returns its sticky error instead (§4.2 "the
// entry remains until the last lease is dropped so the caller observes the
// error").
func (e *Entry) ensureListening(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateFaded {
		err := e.lastErr
		e.mu.Unlock()
		return err
	}
	if e.bound {
		e.cancelIdleLocked()
		e.mu.Unlock()
		return nil
	}
	e.bound = true
	e.run = startStop.New(e.startListening, e.stopListening)
	e.mu.Unlock()

	if err := e.run.Start(ctx); err != nil {
		e.enterFaded(err)
		return err
	}
	return nil
}

// startListening and stopListening are the StartStop pair driving the
// entry's socket lifetime - bind-and-launch-accept-loop, and close - so
// Entry.run.Uptime()/IsRunning() give DUMP_POOLS a ready-made diagnostic
// without this package tracking bind time itself.
func (e *Entry) startListening(ctx context.Context) error {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: e.path, Net: "unix"})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()

	go e.acceptLoop(l)
	return nil
}

func (e *Entry) stopListening(ctx context.Context) error {
	e.mu.Lock()
	l := e.listener
	e.listener = nil
	e.mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Close()
}

// acceptLoop blocks on Accept and, on every connection while the entry is
// Listening, drives one Querying -> Running (or Faded) cycle. Accept is
// called again as soon as a cycle has handed its connection to a child; a
// connection accepted while the entry is not Listening is closed at once,
// so at most one child runs at a time.
func (e *Entry) acceptLoop(l *net.UnixListener) {
	for {
		conn, err := l.AcceptUnix()
		if err != nil {
			return
		}

		e.mu.Lock()
		if e.state != StateListening {
			e.mu.Unlock()
			_ = conn.Close()
			continue
		}
		e.state = StateQuerying
		e.mu.Unlock()

		e.runQuery(context.Background(), conn)
	}
}

func (e *Entry) runQuery(ctx context.Context, conn *net.UnixConn) {
	result, err := e.stock.query(ctx, e.path)
	if err != nil {
		_ = conn.Close()
		e.enterFaded(errors.New(uint16(errors.MinPkgListenStock)+1, "listenstock: translation query failed", err))
		return
	}

	e.mu.Lock()
	e.tags = result.Tags
	fading := e.fading
	e.mu.Unlock()

	if fading {
		_ = conn.Close()
		e.destroy()
		return
	}

	exited, err := e.stock.spawn(ctx, e.path, result.Tags, conn)
	if err != nil {
		e.enterFaded(errors.New(uint16(errors.MinPkgListenStock)+2, "listenstock: spawn failed", err))
		return
	}

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	go e.awaitExit(exited)
}

func (e *Entry) awaitExit(exited <-chan struct{}) {
	<-exited

	e.mu.Lock()
	fading := e.fading
	leases := e.leases
	e.mu.Unlock()

	if fading {
		e.destroy()
		return
	}

	if leases == 0 {
		e.enterIdle()
		return
	}

	e.enterCooling()
}

// enterCooling starts the 10s backoff (§4.2) before returning to Listening
// to retry the next accept.
func (e *Entry) enterCooling() {
	e.mu.Lock()
	e.state = StateCooling
	e.coolT = time.AfterFunc(e.stock.backoff.Time(), e.endCooling)
	e.mu.Unlock()
}

func (e *Entry) endCooling() {
	e.mu.Lock()
	if e.fading {
		e.mu.Unlock()
		e.destroy()
		return
	}
	if e.leases == 0 {
		e.mu.Unlock()
		e.enterIdle()
		return
	}
	e.state = StateListening
	e.mu.Unlock()
}

func (e *Entry) enterIdle() {
	e.mu.Lock()
	e.state = StateIdle
	e.idleT = time.AfterFunc(e.stock.idleTTL.Time(), e.expireIdle)
	e.mu.Unlock()
}

func (e *Entry) expireIdle() {
	e.mu.Lock()
	if e.leases > 0 {
		e.state = StateListening
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.destroy()
}

func (e *Entry) cancelIdleLocked() {
	if e.idleT != nil {
		e.idleT.Stop()
		e.idleT = nil
	}
	if e.state == StateIdle {
		e.state = StateListening
	}
}

func (e *Entry) enterFaded(err error) {
	e.mu.Lock()
	e.state = StateFaded
	e.lastErr = err
	leases := e.leases
	e.mu.Unlock()

	if leases == 0 {
		e.destroy()
	}
}

// fade marks e as fading; per §4.2 a Querying entry is destroyed
// immediately once its last lease drops since "the child will never be
// useful", everything else drains normally via its own exit/idle path.
func (e *Entry) fade() {
	e.mu.Lock()
	e.fading = true
	state := e.state
	leases := e.leases
	e.mu.Unlock()

	if leases == 0 && (state == StateListening || state == StateIdle || state == StateFaded) {
		e.destroy()
	}
}

// onLastLeaseDropped is called once an entry's lease count reaches zero.
func (e *Entry) onLastLeaseDropped() {
	e.mu.Lock()
	state := e.state
	fading := e.fading
	e.mu.Unlock()

	switch {
	case state == StateFaded:
		e.destroy()
	case fading && (state == StateListening || state == StateQuerying):
		e.destroy()
	case state == StateListening:
		e.enterIdle()
	}
}

func (e *Entry) destroy() {
	e.mu.Lock()
	if e.coolT != nil {
		e.coolT.Stop()
	}
	if e.idleT != nil {
		e.idleT.Stop()
	}
	run := e.run
	e.mu.Unlock()

	if run != nil {
		_ = run.Stop(context.Background())
	}
	e.stock.removeEntry(e.path, e)
}

// Uptime exposes the underlying socket's StartStop uptime for DUMP_POOLS;
// zero while the entry has never been bound or is not currently listening.
func (e *Entry) Uptime() time.Duration {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run == nil {
		return 0
	}
	return run.Uptime()
}

// State reports the entry's current lifecycle state, for diagnostics.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
