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

// Command bp-spawner is the privilege-separated sidecar of §4.4: it owns
// fd 3 as its control socket back to the main bp-proxy process and performs
// every clone()/execve() this module does on the main process's behalf.
//
// main() has two personalities, selected by spawn.ReexecStageEnv:
//
//   - unset: this is the long-lived sidecar. It reads EXEC/KILL/CONNECT
//     datagrams off fd 3 and reports EXIT back (spawn.Server).
//   - set: this is a freshly clone()d child re-executing itself as the
//     "init" stage (see spawn.Server.startChild); it never returns from
//     spawn.ChildInit.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/bprox/core/logger"
	"github.com/bprox/core/spawn"
)

const controlFD = 3

func main() {
	if os.Getenv(spawn.ReexecStageEnv) != "" {
		spawn.ChildInit()
		return
	}

	log := logger.InfoLevel

	srv := spawn.NewServer(controlFD, log)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		close(stop)
	}()

	if err := srv.Run(stop); err != nil {
		log.LogErrorCtx(logger.ErrorLevel, "spawner: control socket closed", err)
		os.Exit(1)
	}
}
