/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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
 */

// Package semaphore bounds the number of concurrent goroutines a caller may
// spawn, with both a blocking acquire and a non-blocking try-acquire.
package semaphore

import (
	"context"
	"fmt"
)

// Semaphore limits concurrent workers registered against a main task.
type Semaphore interface {
	// NewWorker blocks until a slot is free (or the semaphore's context is
	// done) then reserves it.
	NewWorker() error

	// NewWorkerTry reserves a slot without blocking. It returns false if no
	// slot is currently free.
	NewWorkerTry() bool

	// DeferWorker releases a slot acquired by NewWorker/NewWorkerTry.
	DeferWorker()

	// DeferMain releases the main task's own slot, allowing WaitAll to
	// observe completion once every worker has also returned.
	DeferMain()

	// WaitAll blocks until every outstanding worker and the main task have
	// called their matching Defer*, or the context is cancelled.
	WaitAll() error
}

type sem struct {
	ctx     context.Context
	slots   chan struct{}
	done    chan struct{}
	main    bool
	blocked bool
}

// New creates a Semaphore capped at max concurrent workers. When blocking is
// true, NewWorker waits for a free slot instead of returning immediately.
// A max <= 0 means unbounded.
func New(ctx context.Context, max int, blocking bool) Semaphore {
	if ctx == nil {
		ctx = context.Background()
	}

	var slots chan struct{}
	if max > 0 {
		slots = make(chan struct{}, max)
	}

	return &sem{
		ctx:     ctx,
		slots:   slots,
		done:    make(chan struct{}, 1),
		main:    true,
		blocked: blocking,
	}
}

// NewSemaphoreWithContext creates a blocking Semaphore capped at max.
func NewSemaphoreWithContext(ctx context.Context, max int) Semaphore {
	return New(ctx, max, true)
}

func (o *sem) NewWorker() error {
	if o.slots == nil {
		return nil
	}

	select {
	case o.slots <- struct{}{}:
		return nil
	case <-o.ctx.Done():
		return o.ctx.Err()
	}
}

func (o *sem) NewWorkerTry() bool {
	if o.slots == nil {
		return true
	}

	select {
	case o.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (o *sem) DeferWorker() {
	if o.slots == nil {
		return
	}

	select {
	case <-o.slots:
	default:
	}
}

func (o *sem) DeferMain() {
	if !o.main {
		return
	}

	o.main = false
	select {
	case o.done <- struct{}{}:
	default:
	}
}

func (o *sem) WaitAll() error {
	if o.slots != nil {
		for len(o.slots) > 0 {
			select {
			case <-o.ctx.Done():
				return fmt.Errorf("semaphore: wait cancelled: %w", o.ctx.Err())
			default:
			}
		}
	}

	select {
	case <-o.done:
		return nil
	case <-o.ctx.Done():
		return o.ctx.Err()
	default:
		return nil
	}
}
