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

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bprox/core/duration"
	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
)

// Idle-clear defaults named by §5: the wall-clock TTL an idle item is kept
// before Stock destroys it unasked, restarting on every release. Callers
// pick the one matching their variant/sandbox combination and pass it to
// GetWithOptions; Get/GetWithLimit use the Stock's default passed to New
// (IdleClearPlain when New is given none).
const (
	IdleClearPlain          = duration.Duration(10 * time.Minute)
	IdleClearPlainSandboxed = duration.Duration(5 * time.Minute)
	IdleClearMulti          = duration.Duration(15 * time.Minute)
	IdleClearMultiSandboxed = duration.Duration(5 * time.Minute)
	IdleClearRemote         = duration.Duration(5 * time.Minute)
)

// SpawnFunc spawns one fresh ChildProcess for key and returns its connection
// plus a channel that is sent the exit status once, then closed. The plain
// and multi variants implement this over a spawn.Client + registry.Registry
// pair (the pid registry.ExitDispatcher hands back is forwarded into the
// channel); the remote variant dials a configured upstream address instead
// and synthesizes a channel that closes when the dial's connection does.
type SpawnFunc func(ctx context.Context, key Key, name string) (conn Conn, exited <-chan int, err error)

// Stock is the process-pool stock of §4.1: a keyed map of pools, each
// bounded by its own parallelism limit, plus a stock-wide idle LRU used to
// make room under global memory pressure.
type Stock struct {
	log       logger.Level
	spawn     SpawnFunc
	limit     int               // default parallelism for pools created on demand
	idleClear duration.Duration // default idle-clear TTL for pools created on demand

	mu    sync.Mutex
	pools map[Key]*pool
	lru   *list.List // FIFO of *item, front = least-recently-idled

	metrics *stockMetrics
}

// New builds an empty Stock. spawnFn provides fresh children on a pool miss;
// defaultParallelism and idleClear bound pools that don't set either
// explicitly via GetWithOptions (idleClear <= 0 falls back to
// IdleClearPlain). namespace prefixes the prometheus metrics Collectors()
// exposes (pass "" for unprefixed metric names).
func New(spawnFn SpawnFunc, defaultParallelism int, idleClear duration.Duration, namespace string, log logger.Level) *Stock {
	if idleClear <= 0 {
		idleClear = IdleClearPlain
	}
	return &Stock{
		log:       log,
		spawn:     spawnFn,
		limit:     defaultParallelism,
		idleClear: idleClear,
		pools:     make(map[Key]*pool),
		lru:       list.New(),
		metrics:   newStockMetrics(namespace),
	}
}

func (s *Stock) poolFor(key Key, limit int, idleClear duration.Duration) *pool {
	p, ok := s.pools[key]
	if !ok {
		if limit <= 0 {
			limit = s.limit
		}
		if idleClear <= 0 {
			idleClear = s.idleClear
		}
		p = newPool(key, limit, idleClear)
		s.pools[key] = p
		s.metrics.pools.Set(float64(len(s.pools)))
	}
	return p
}

// Get borrows a ChildProcess for key, reusing an idle one if available,
// spawning a fresh one if the pool has spare parallelism, or waiting for
// either (FIFO among waiters, per §4.1 "Queue discipline") until ctx is
// done. name is used only for diagnostics and fade-by-tag accounting.
func (s *Stock) Get(ctx context.Context, key Key, name string) (*Lease, error) {
	return s.GetWithOptions(ctx, key, name, 0, 0)
}

// GetWithLimit is Get with an explicit per-key parallelism, applied only
// when the pool does not already exist.
func (s *Stock) GetWithLimit(ctx context.Context, key Key, name string, limit int) (*Lease, error) {
	return s.GetWithOptions(ctx, key, name, limit, 0)
}

// GetWithOptions is GetWithLimit plus an explicit per-key idle-clear TTL
// (one of the IdleClearXxx constants, per §5's variant/sandbox table),
// applied only when the pool does not already exist.
func (s *Stock) GetWithOptions(ctx context.Context, key Key, name string, limit int, idleClear duration.Duration) (*Lease, error) {
	for {
		s.mu.Lock()
		p := s.poolFor(key, limit, idleClear)

		if it := p.popIdle(); it != nil {
			s.removeFromLRU(it)
			if it.idleTimer != nil {
				it.idleTimer.Stop()
				it.idleTimer = nil
			}
			close(it.watchDone)
			it.watchDone = nil
			s.mu.Unlock()
			it.leases++
			return &Lease{stock: s, it: it}, nil
		}

		if p.tryAdmit() {
			p.active++
			s.mu.Unlock()

			s.metrics.spawns.Inc()
			conn, exited, err := s.spawn(ctx, key, name)
			if err != nil {
				s.metrics.spawnErrs.Inc()
				s.mu.Lock()
				p.active--
				p.releaseAdmit()
				s.wakeOne(p)
				s.mu.Unlock()
				return nil, errors.New(uint16(errors.MinPkgChildStock), "stock: spawn failed", err)
			}

			it := &item{key: key, name: name, conn: conn, pool: p, maxLeases: 1, leases: 1, exited: exited}
			return &Lease{stock: s, it: it}, nil
		}

		// Saturated: queue as a waiter and block until release() or
		// DiscardOldestIdle's eviction wakes us, or ctx is cancelled.
		ch := make(chan getResult, 1)
		p.waiters = append(p.waiters, ch)
		s.mu.Unlock()

		select {
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			if r.lease != nil {
				return r.lease, nil
			}
			// Woken with neither: a slot opened up, retry the loop.
			continue
		case <-ctx.Done():
			s.cancelWaiter(p, ch)
			return nil, ErrCancelled
		}
	}
}

// cancelWaiter removes ch from p's waiter queue if it is still there (it may
// already have been popped and sent to, in which case this is a no-op).
func (s *Stock) cancelWaiter(p *pool, ch chan getResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// wakeOne notifies the oldest waiter on p, if any, that it should retry
// (rather than handing it a lease directly, so the retry re-checks idle vs.
// capacity uniformly). Must be called with s.mu held.
func (s *Stock) wakeOne(p *pool) {
	if len(p.waiters) == 0 {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	select {
	case ch <- getResult{}:
	default:
	}
}

// release returns it to its pool. reuse=false (or a dead conn) destroys it
// outright instead of re-idling it, per §4.1 "release(item, reuse)".
func (s *Stock) release(it *item, reuse bool) {
	s.mu.Lock()
	p := it.pool
	it.leases--
	if it.leases > 0 {
		// Still leased by another concurrent multiplexed caller.
		s.mu.Unlock()
		return
	}

	if !reuse || it.closed || it.fading || p.fading {
		p.active--
		s.wakeOne(p)
		s.mu.Unlock()
		s.destroy(it)
		return
	}

	p.active--
	p.pushIdle(it)
	it.lruElem = s.lru.PushBack(it)
	s.metrics.idle.Set(float64(s.lru.Len()))
	it.watchDone = make(chan struct{})
	done := it.watchDone
	it.idleTimer = time.AfterFunc(p.idleClear.Time(), func() { s.expireIdle(it) })
	s.wakeOne(p)
	s.mu.Unlock()

	go s.watch(it, done)
}

// expireIdle is the §5 idle-clear TTL firing: it destroys it only if still
// idle (a concurrent Get may have already reused it before the timer ran).
func (s *Stock) expireIdle(it *item) {
	s.mu.Lock()
	if it.closed || it.leases > 0 {
		s.mu.Unlock()
		return
	}
	if it.poolElem != nil {
		it.pool.removeIdle(it)
	}
	s.removeFromLRU(it)
	if it.watchDone != nil {
		close(it.watchDone)
		it.watchDone = nil
	}
	s.mu.Unlock()

	s.destroy(it)
}

// removeFromLRU detaches it from the stock-wide idle LRU; must run while
// holding s.mu.
func (s *Stock) removeFromLRU(it *item) {
	if it.lruElem != nil {
		s.lru.Remove(it.lruElem)
		it.lruElem = nil
		s.metrics.idle.Set(float64(s.lru.Len()))
	}
}

func (s *Stock) destroy(it *item) {
	if it.closed {
		return
	}
	it.closed = true
	if it.idleTimer != nil {
		it.idleTimer.Stop()
		it.idleTimer = nil
	}
	it.pool.releaseAdmit()
	_ = it.conn.Close()
}

// DiscardOldestIdle closes the single least-recently-idled item across every
// pool, per §4.1's memory-pressure hook. Returns false if the stock has no
// idle item to discard.
func (s *Stock) DiscardOldestIdle() bool {
	s.mu.Lock()
	front := s.lru.Front()
	if front == nil {
		s.mu.Unlock()
		return false
	}
	it := front.Value.(*item)
	s.lru.Remove(front)
	it.lruElem = nil
	it.pool.removeIdle(it)
	s.metrics.evictions.Inc()
	s.metrics.idle.Set(float64(s.lru.Len()))
	s.mu.Unlock()

	s.destroy(it)

	s.mu.Lock()
	s.wakeOne(it.pool)
	s.mu.Unlock()
	return true
}

// FadeAll marks every pool as fading: idle items are discarded immediately,
// and leased items are destroyed on release instead of being re-idled, so
// the stock drains to empty without accepting new idle items under the
// faded keys.
func (s *Stock) FadeAll() {
	s.mu.Lock()
	var toDestroy []*item
	for _, p := range s.pools {
		p.fading = true
		toDestroy = append(toDestroy, s.drainIdleLocked(p)...)
	}
	s.mu.Unlock()

	s.destroyAll(toDestroy)
}

// destroyAll closes every item in its own goroutine (a FADE_CHILDREN sweep
// can drain thousands of idle connections across every pool at once, and
// Close on each is an independent syscall with no shared state to race on).
func (s *Stock) destroyAll(items []*item) {
	var g errgroup.Group
	for _, it := range items {
		it := it
		g.Go(func() error {
			s.destroy(it)
			return nil
		})
	}
	_ = g.Wait()
}

// FadeTag destroys, across every pool, the idle items whose tag equals tag;
// items are inspected individually since tag is per-item (assigned by the
// translation response), not per-pool. Items leased at the time of the call
// are not marked: on release they return to idle as usual.
func (s *Stock) FadeTag(tag string) {
	s.mu.Lock()
	var toDestroy []*item
	for _, p := range s.pools {
		for e := p.idle.Front(); e != nil; {
			next := e.Next()
			it := e.Value.(*item)
			if it.tag == tag {
				p.idle.Remove(e)
				it.poolElem = nil
				s.removeFromLRU(it)
				toDestroy = append(toDestroy, it)
			}
			e = next
		}
	}
	s.mu.Unlock()

	for _, it := range toDestroy {
		s.destroy(it)
	}
}

// drainIdleLocked removes and returns every idle item of p, leaving its
// waiters and active count untouched. Must run with s.mu held.
func (s *Stock) drainIdleLocked(p *pool) []*item {
	var out []*item
	for {
		it := p.popIdle()
		if it == nil {
			break
		}
		s.removeFromLRU(it)
		out = append(out, it)
	}
	return out
}

// Count returns the number of pools currently tracked (for diagnostics /
// DUMP_POOLS).
func (s *Stock) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pools)
}

// PoolSnapshot is one pool's diagnostic counters, for DUMP_POOLS.
type PoolSnapshot struct {
	Key         Key
	Parallelism int
	Active      int
	Idle        int
	Waiters     int
	Fading      bool
}

// Snapshot returns one PoolSnapshot per tracked pool, in no particular
// order, for DUMP_POOLS to render.
func (s *Stock) Snapshot() []PoolSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PoolSnapshot, 0, len(s.pools))
	for key, p := range s.pools {
		out = append(out, PoolSnapshot{
			Key:         key,
			Parallelism: p.parallelism,
			Active:      p.active,
			Idle:        p.idleCount(),
			Waiters:     len(p.waiters),
			Fading:      p.fading,
		})
	}
	return out
}
