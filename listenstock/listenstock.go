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

// Package listenstock is the listen-stream stock of §4.2: it owns one
// on-demand UNIX listening socket per container-visible path, bound on
// first lease, consulting the translation server (MOUNT_LISTEN_STREAM) when
// a connection is accepted on it and spawning
// the process that inherits the accepted socket as stdin, keeping it alive
// across leases until the idle TTL elapses.
package listenstock

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bprox/core/duration"
	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
)

// DefaultBackoff is the cooling-state restart delay: "the cooling backoff
// is 10 s" (§4.2).
const DefaultBackoff = duration.Duration(10 * time.Second)

// DefaultIdleTTL is how long an entry with no lease and no running child
// survives before self-destructing: "Idle (5-minute TTL)" (§4.2).
const DefaultIdleTTL = duration.Duration(5 * time.Minute)

// QueryResult is what a consultation of the translation server yields for
// one listen-stream path: the process to spawn (a stock.SpawnFunc-shaped
// callback is deliberately not reused here - this spawn always inherits the
// accepted socket as stdin, which plain stock spawns never do) and the tags
// that gate bulk fade.
type QueryResult struct {
	Tags []string
}

// QueryFunc consults the translation server for path (the MOUNT_LISTEN_STREAM
// round trip) and returns the tags to apply, or an error that fades the
// entry.
type QueryFunc func(ctx context.Context, path string) (QueryResult, error)

// SpawnFunc starts the child that inherits conn (the just-accepted socket)
// as stdin, returning once the child has been handed the connection; exited
// fires exactly once when the child later exits.
type SpawnFunc func(ctx context.Context, path string, tags []string, conn *net.UnixConn) (exited <-chan struct{}, err error)

var (
	// ErrFaded names the Faded state (a prior consultation or spawn failed
	// and the error is sticky until the last lease drops). Get on a Faded
	// entry returns that sticky error itself, not ErrFaded.
	ErrFaded = errors.New(uint16(errors.MinPkgListenStock), "listenstock: entry faded")
)

// Stock is the listen-stream stock: one Entry per container-visible path.
type Stock struct {
	log     logger.Level
	query   QueryFunc
	spawn   SpawnFunc
	backoff duration.Duration
	idleTTL duration.Duration

	mu      sync.Mutex
	entries map[string]*Entry
}

// New builds an empty Stock. query performs the MOUNT_LISTEN_STREAM
// consultation; spawn starts the inheriting child.
func New(query QueryFunc, spawn SpawnFunc, log logger.Level) *Stock {
	return &Stock{
		log:     log,
		query:   query,
		spawn:   spawn,
		backoff: DefaultBackoff,
		idleTTL: DefaultIdleTTL,
		entries: make(map[string]*Entry),
	}
}

// Get leases path's entry, creating it (and binding its socket) on first
// use. The returned Lease must be released once the caller no longer needs
// the listener kept alive.
func (s *Stock) Get(ctx context.Context, path string) (*Lease, error) {
	s.mu.Lock()
	e, ok := s.entries[path]
	if !ok {
		e = newEntry(s, path)
		s.entries[path] = e
	}
	e.leases++
	s.mu.Unlock()

	if err := e.ensureListening(ctx); err != nil {
		s.release(e)
		return nil, err
	}

	return &Lease{stock: s, entry: e}, nil
}

func (s *Stock) release(e *Entry) {
	s.mu.Lock()
	e.leases--
	remaining := e.leases
	s.mu.Unlock()

	if remaining > 0 {
		return
	}
	e.onLastLeaseDropped()
}

// removeEntry drops e from the map once it has fully self-destructed
// (Idle TTL elapsed, or Faded with no lease left).
func (s *Stock) removeEntry(path string, e *Entry) {
	s.mu.Lock()
	if cur, ok := s.entries[path]; ok && cur == e {
		delete(s.entries, path)
	}
	s.mu.Unlock()
}

// FadeTag marks every entry whose tags intersect tag as fading: a
// Querying entry is destroyed immediately on last-lease-drop per §4.2
// ("Fade during translating forces immediate destruction"); a Running one
// is destroyed when its child exits.
func (s *Stock) FadeTag(tag string) {
	s.mu.Lock()
	var matched []*Entry
	for _, e := range s.entries {
		if e.hasTag(tag) {
			matched = append(matched, e)
		}
	}
	s.mu.Unlock()

	for _, e := range matched {
		e.fade()
	}
}

// Count returns the number of tracked entries (diagnostics / DUMP_POOLS).
func (s *Stock) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}