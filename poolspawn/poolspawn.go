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

// Package poolspawn builds a stock.SpawnFunc over a spawn.Client and a
// registry.Registry, the composition spec.md §2's data flow describes ("the
// stock asks for a lease, spawning via A/B on miss") but leaves to the
// caller since stock must not import spawn/registry directly (both of those
// packages exist independently of any particular stock variant - a remote
// stock never spawns at all).
package poolspawn

import (
	"context"
	"os"

	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
	"github.com/bprox/core/registry"
	"github.com/bprox/core/spawn"
	"github.com/bprox/core/stock"
)

// Builder turns a stock.Key plus a diagnostic name into the spawn.Prepared
// exec record the spawner needs. The translation-response -> childopt
// mapping that produces a real Builder lives with the (out-of-scope)
// dispatcher; tests supply a fixed Prepared directly.
type Builder func(ctx context.Context, key stock.Key, name string) (spawn.Prepared, error)

// New returns a stock.SpawnFunc that, on every pool miss, opens a fresh
// private control channel through client (spawn.Client.Connect, §4.4's
// CONNECT command), builds the Prepared record for key, asks the spawner to
// EXEC it, and records the resulting pid with reg so its EXIT report is
// fanned out to both this lease's channel and any other registry listener
// (the kill-timeout fallback, graceful-shutdown draining).
func New(client *spawn.Client, reg *registry.Registry, build Builder, log logger.Level) stock.SpawnFunc {
	return func(ctx context.Context, key stock.Key, name string) (stock.Conn, <-chan int, error) {
		prepared, err := build(ctx, key, name)
		if err != nil {
			return nil, nil, errors.New(uint16(errors.MinPkgInstance), "poolspawn: build failed", err)
		}

		controlFd, err := client.Connect()
		if err != nil {
			return nil, nil, errors.New(uint16(errors.MinPkgInstance)+1, "poolspawn: connect failed", err)
		}
		prepared.ControlFd = controlFd

		exited := make(chan int, 1)

		// Two-phase registration (spawn with no listener yet, then attach
		// one) mirrors Client.SetExitListener's own doc comment: the pid is
		// only known once SpawnChildProcess returns it, so the listener
		// that must be keyed by pid (the registry dispatcher) cannot be
		// built before the call.
		pid, err := client.SpawnChildProcess(name, prepared, nil)
		if err != nil {
			_ = os.NewFile(uintptr(controlFd), "control").Close()
			return nil, nil, errors.New(uint16(errors.MinPkgInstance)+2, "poolspawn: spawn failed", err)
		}

		reg.Add(pid, name, registry.ExitListenerFunc(func(status int) {
			select {
			case exited <- status:
			default:
			}
			close(exited)
		}))
		client.SetExitListener(pid, reg.ExitDispatcher(pid))

		log.WithFields("poolspawn: spawned", logger.Fields{"pid": pid, "name": name, "key": key.Value})

		return os.NewFile(uintptr(controlFd), name), exited, nil
	}
}
