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

	"github.com/bprox/core/duration"
	"github.com/bprox/core/semaphore"
)

// pool is the ProcessPool of §3: the bounded set of items sharing one
// ChildKey. `active` counts items that are not currently idle (busy, or
// mid-spawn and about to become busy); invariant: active+idle <= parallelism,
// enforced by admit (a slot is reserved on spawn and only freed on destroy,
// so an idle item still occupies its slot).
type pool struct {
	key         Key
	parallelism int
	admit       semaphore.Semaphore
	idleClear   duration.Duration

	active int
	idle   *list.List // FIFO of *item, front = next to reuse

	waiters []chan getResult
	fading  bool
}

func newPool(key Key, parallelism int, idleClear duration.Duration) *pool {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &pool{
		key:         key,
		parallelism: parallelism,
		admit:       semaphore.New(context.Background(), parallelism, false),
		idleClear:   idleClear,
		idle:        list.New(),
	}
}

func (p *pool) idleCount() int { return p.idle.Len() }

// tryAdmit reserves one of the pool's parallelism slots for a fresh spawn.
// The slot stays reserved for the item's whole lifetime (idle or active)
// and is only released by releaseAdmit when the item is destroyed.
func (p *pool) tryAdmit() bool { return p.admit.NewWorkerTry() }

// releaseAdmit frees the slot an item's spawn reserved. Called exactly once
// per item, from destroy.
func (p *pool) releaseAdmit() { p.admit.DeferWorker() }

// popIdle removes and returns the front (oldest-enqueued) idle item, the
// FIFO discipline §4.1 "borrow()" relies on.
func (p *pool) popIdle() *item {
	front := p.idle.Front()
	if front == nil {
		return nil
	}
	it := front.Value.(*item)
	p.idle.Remove(front)
	it.poolElem = nil
	return it
}

// pushIdle appends it to the FIFO's back.
func (p *pool) pushIdle(it *item) {
	it.poolElem = p.idle.PushBack(it)
}

// removeIdle removes it from the FIFO, wherever it sits (used when the
// watchdog destroys an item out of order).
func (p *pool) removeIdle(it *item) {
	if it.poolElem != nil {
		p.idle.Remove(it.poolElem)
		it.poolElem = nil
	}
}

type getResult struct {
	lease *Lease
	err   error
}
