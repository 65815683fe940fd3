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

// Package startStop provides a minimal start/stop/restart lifecycle wrapper
// around a pair of functions, tracking uptime and the last errors raised.
package startStop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StartStop manages the lifecycle of a single background activity described
// by a start function and a stop function.
type StartStop interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	IsRunning() bool
	Uptime() time.Duration
	ErrorsLast() error
	ErrorsList() []error
}

type runFunc func(ctx context.Context) error

type startStop struct {
	mu      sync.Mutex
	start   runFunc
	stop    runFunc
	running bool
	since   time.Time
	lastErr error
	errs    []error
}

// New builds a StartStop driven by the given start/stop functions. Either may
// be nil, in which case invoking it returns an error instead of panicking.
func New(start, stop runFunc) StartStop {
	return &startStop{
		start: start,
		stop:  stop,
	}
}

func (o *startStop) recordErr(err error) error {
	if err == nil {
		return nil
	}

	o.lastErr = err
	o.errs = append(o.errs, err)
	return err
}

func (o *startStop) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		if o.stop != nil {
			_ = o.recordErr(o.stop(ctx))
		}
		o.running = false
	}

	if o.start == nil {
		return o.recordErr(fmt.Errorf("startStop: no start function configured"))
	}

	if err := o.start(ctx); err != nil {
		return o.recordErr(err)
	}

	o.running = true
	o.since = time.Now()
	return nil
}

func (o *startStop) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}

	o.running = false
	o.since = time.Time{}

	if o.stop == nil {
		return nil
	}

	return o.recordErr(o.stop(ctx))
}

func (o *startStop) Restart(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil {
		return err
	}
	return o.Start(ctx)
}

func (o *startStop) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *startStop) Uptime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || o.since.IsZero() {
		return 0
	}
	return time.Since(o.since)
}

func (o *startStop) ErrorsLast() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *startStop) ErrorsList() []error {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := make([]error, len(o.errs))
	copy(r, o.errs)
	return r
}
