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

// Package registry is the process-wide table of live child processes: it
// fans out EXIT reports from the spawner socket to whichever listener asked
// to be told, and owns the 60s kill-timeout fallback.
package registry

import (
	"sync"
	"time"

	"github.com/bprox/core/duration"
	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
	"github.com/bprox/core/spawn"
)

// DefaultKillTimeout is the fallback SIGKILL delay after Kill sends its
// requested signal, per §5 "Child kill timeout: 60 s".
const DefaultKillTimeout = duration.Duration(60 * time.Second)

// ExitListener receives one callback when its process exits.
type ExitListener interface {
	OnChildProcessExit(status int)
}

// ExitListenerFunc adapts a plain function to ExitListener.
type ExitListenerFunc func(status int)

func (f ExitListenerFunc) OnChildProcessExit(status int) { f(status) }

// ErrUnknownProcess is returned by operations on a pid the registry never
// saw Add()ed (or has already reaped).
var ErrUnknownProcess = errors.New(uint16(errors.MinPkgRegistry), "registry: unknown process")

type entry struct {
	id       int32
	name     string
	start    time.Time
	listener ExitListener
	killer   *time.Timer
}

// Killer is the narrow spawn.Client surface the registry drives: sending a
// signal and being told about exits. Satisfied by *spawn.Client.
type Killer interface {
	KillChildProcess(id int32, signal int32) error
}

// Registry is the process-wide pid table described in §4.5. It does not
// reap children itself - reaping happens in the sandboxed spawner (§4.4);
// the registry only fans out the EXIT reports the spawner's protocol
// delivers.
type Registry struct {
	log    logger.Level
	kill   Killer
	killTO duration.Duration

	mu       sync.Mutex
	entries  map[int32]*entry
	volatile bool
	drained  chan struct{}

	metrics *metrics
}

// New builds an empty Registry. kill is used by Kill to deliver signals;
// killTimeout is the fallback SIGKILL delay (DefaultKillTimeout if zero).
// namespace prefixes the prometheus metrics Collectors() exposes (pass "" for
// unprefixed metric names).
func New(kill Killer, killTimeout duration.Duration, namespace string, log logger.Level) *Registry {
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}
	return &Registry{
		log:     log,
		kill:    kill,
		killTO:  killTimeout,
		entries: make(map[int32]*entry),
		metrics: newMetrics(namespace),
	}
}

// Add registers a freshly spawned process under its request id (the spawn
// package's opaque handle, not necessarily the kernel pid) together with a
// diagnostic name and its exit listener.
func (r *Registry) Add(id int32, name string, listener ExitListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = &entry{id: id, name: name, start: time.Now(), listener: listener}
	r.metrics.tracked.Set(float64(len(r.entries)))
	r.metrics.spawned.Inc()
}

// SetExitListener attaches or replaces the listener for an id already
// tracked by Add, without resetting its start time.
func (r *Registry) SetExitListener(id int32, listener ExitListener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrUnknownProcess
	}
	e.listener = listener
	return nil
}

// Kill sends signo to id and arms the 60s fallback: if OnExit has not fired
// by then, a SIGKILL is sent and the process is treated as exited with a
// synthetic signalled status so callers waiting on it are unblocked even if
// the spawner's own EXIT report is lost.
func (r *Registry) Kill(id int32, signo int32) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownProcess
	}

	if err := r.kill.KillChildProcess(id, signo); err != nil {
		return err
	}

	r.mu.Lock()
	if e.killer != nil {
		e.killer.Stop()
	}
	e.killer = time.AfterFunc(r.killTO.Time(), func() {
		r.log.WithFields("registry: kill-timeout fallback", logger.Fields{"id": id, "name": e.name})
		r.metrics.timeouts.Inc()
		_ = r.kill.KillChildProcess(id, int32(sigkill))
		r.OnExit(id, -1)
	})
	r.mu.Unlock()

	r.metrics.killed.Inc()
	return nil
}

// OnExit fans out one EXIT report to the id's listener and removes it from
// the table. Safe to call for an id the registry never saw (a race between
// Kill's fallback firing and a real exit report) - it is then a no-op.
func (r *Registry) OnExit(id int32, status int) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		if e.killer != nil {
			e.killer.Stop()
		}
	}
	empty := len(r.entries) == 0
	volatile := r.volatile
	drained := r.drained
	if ok {
		r.metrics.tracked.Set(float64(len(r.entries)))
		r.metrics.exited.Inc()
	}
	r.mu.Unlock()

	if ok && e.listener != nil {
		e.listener.OnChildProcessExit(status)
	}

	if volatile && empty && drained != nil {
		select {
		case drained <- struct{}{}:
		default:
		}
	}
}

// OnChildProcessExit adapts the registry itself to spawn.ExitListener, so a
// spawn.Client can be told to forward every pid's exit through one
// registry-wide dispatcher keyed by id instead of per-pid closures.
var _ spawn.ExitListener = (*idDispatcher)(nil)

type idDispatcher struct {
	id  int32
	reg *Registry
}

func (d *idDispatcher) OnChildProcessExit(status int) { d.reg.OnExit(d.id, status) }

// ExitDispatcher returns a spawn.ExitListener that forwards id's exit into
// this registry's OnExit, for handing straight to
// spawn.Client.SpawnChildProcess.
func (r *Registry) ExitDispatcher(id int32) spawn.ExitListener {
	return &idDispatcher{id: id, reg: r}
}

// SetVolatile puts the registry into drain-to-shutdown mode: once every
// tracked process has exited, a receive on the returned channel unblocks, signalling
// the event loop that a graceful shutdown may proceed (§4.5).
func (r *Registry) SetVolatile() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.volatile = true
	if r.drained == nil {
		r.drained = make(chan struct{}, 1)
	}
	if len(r.entries) == 0 {
		select {
		case r.drained <- struct{}{}:
		default:
		}
	}
	return r.drained
}

// Count returns the number of processes currently tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sigkill avoids importing golang.org/x/sys/unix here just for one
// constant; its value (9) is architecture-independent on Linux.
const sigkill = 9
