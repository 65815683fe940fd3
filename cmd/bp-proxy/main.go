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

// Command bp-proxy is the main process of §2: it launches the spawner
// sidecar (component A), owns the child-process registry (B), the
// process-pool stock(s) (C), the translation client (G) and the
// control-plane server (§6). Turning a parsed HTTP request plus a
// translate.Response into a concrete stock.Get call is the dispatcher
// glue spec.md §1 explicitly puts out of scope; this main wires every
// in-scope component together and leaves that one seam as the Builder
// callback poolspawn.New already takes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bprox/core/childopt"
	"github.com/bprox/core/control"
	"github.com/bprox/core/logger"
	logcfg "github.com/bprox/core/logger/config"
	"github.com/bprox/core/poolspawn"
	"github.com/bprox/core/registry"
	"github.com/bprox/core/spawn"
	"github.com/bprox/core/stock"
	"github.com/bprox/core/translate"
	"github.com/bprox/core/viper"
	"golang.org/x/sys/unix"
)

// config holds the handful of settings this main actually needs: a
// control socket path, a translate socket path, and FastCGI pool
// parallelism, loaded from a YAML file via viper with defaults as fallback.
type config struct {
	controlAddr     string
	translateSocket string
	fastcgiParallel int
}

func loadConfig(log logger.Level) config {
	cfg := config{
		controlAddr:     "@bp-control",
		translateSocket: "/run/bprox/translate.socket",
		fastcgiParallel: 16,
	}

	v := viper.New()
	v.SetConfigFile("/etc/bprox/bp-proxy.yaml")
	if err := v.ReadInConfig(); err != nil {
		log.WithFields("bp-proxy: no config file, using defaults", logger.Fields{"error": err.Error()})
		return cfg
	}
	if v.IsSet("control_addr") {
		cfg.controlAddr = v.GetString("control_addr")
	}
	if v.IsSet("translate_socket") {
		cfg.translateSocket = v.GetString("translate_socket")
	}
	if v.IsSet("fastcgi_parallelism") {
		cfg.fastcgiParallel = v.GetInt("fastcgi_parallelism")
	}
	return cfg
}

// launchSpawner creates the AF_LOCAL/SOCK_SEQPACKET socketpair of §4.4's
// topology, execs cmd/bp-spawner with the remote half inherited as fd 3
// (spawn.ChildInit and the sidecar's own controlFD constant both assume
// that descriptor number), and hands back the local half plus the sidecar's
// *os.Process so the caller can reap it on shutdown.
func launchSpawner(selfDir string) (int, *os.Process, error) {
	sv, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, err
	}
	localFd, remoteFd := sv[0], sv[1]

	remote := os.NewFile(uintptr(remoteFd), "spawner-remote")
	defer remote.Close()

	cmd := exec.Command(selfDir + "/bp-spawner")
	cmd.ExtraFiles = []*os.File{remote}
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	if err := cmd.Start(); err != nil {
		unix.Close(localFd)
		return -1, nil, err
	}
	return localFd, cmd.Process, nil
}

// handlers wires control.Pools and control.NodeMembership (the two slices
// of control.Handlers this module actually backs with live state) together
// with the remaining interface methods, which belong to out-of-scope
// collaborators (translate cache, session store, Zeroconf, NFS cache) and
// are satisfied with the documented no-op/zero-value behavior §6 allows
// ("unknown commands are tolerated").
type handlers struct {
	*control.Pools
	*control.NodeMembership
	log logger.Level
}

func (h *handlers) TcacheInvalidate(pairs []control.Invalidation) {
	h.log.WithFields("control: tcache invalidate (no cache wired)", logger.Fields{"count": len(pairs)})
}
func (h *handlers) Verbose(level uint8)         { logger.SetLevel(logger.Level(level)) }
func (h *handlers) DiscardSession(id uint64)    {}
func (h *handlers) FlushFilterCache(tag string) {}
func (h *handlers) DisableZeroconf()            {}
func (h *handlers) EnableZeroconf()             {}
func (h *handlers) FlushNFSCache()              {}

func main() {
	log := logger.InfoLevel

	if err := logger.GetDefault().SetOptions(&logcfg.Options{
		Stdout: &logcfg.OptionsStd{
			EnableTrace: true,
		},
	}); err != nil {
		fmt.Fprintln(os.Stderr, "bp-proxy: configure logger:", err)
		os.Exit(1)
	}

	cfg := loadConfig(log)

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bp-proxy:", err)
		os.Exit(1)
	}

	spawnerFd, spawnerProc, err := launchSpawner(filepath.Dir(self))
	if err != nil {
		fmt.Fprintln(os.Stderr, "bp-proxy: launch spawner:", err)
		os.Exit(1)
	}

	client := spawn.NewClient(spawnerFd, log)
	reg := registry.New(client, registry.DefaultKillTimeout, "bprox", log)

	// A single example pool: every stock.Key maps to the same statically
	// configured executable. A real deployment replaces this Builder with
	// one that turns a translate.Response's resource address into a
	// childopt.Options + argv (the out-of-scope dispatcher's job).
	build := func(ctx context.Context, key stock.Key, name string) (spawn.Prepared, error) {
		p := spawn.NewPrepared()
		p.Args = []string{name}
		p.Options = childopt.Options{}
		return p, nil
	}
	fastcgi := stock.New(poolspawn.New(client, reg, build, log), cfg.fastcgiParallel, stock.IdleClearPlain, "fastcgi", log)

	pools := control.NewPools(reg)
	pools.Add("fastcgi", fastcgi)

	srv, err := control.Listen(cfg.controlAddr, &handlers{
		Pools:          pools,
		NodeMembership: control.NewNodeMembership(nil),
		log:            log,
	}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bp-proxy: control socket:", err)
		os.Exit(1)
	}

	// The translation client (component G) is constructed here so its
	// dial target is part of this process's config; the per-request
	// Query calls belong to the out-of-scope HTTP dispatcher.
	_ = translate.New(translate.NewNetDialer(), "unix", cfg.translateSocket, log)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		close(stop)
	}()

	go func() {
		if err := srv.Run(stop); err != nil {
			log.LogErrorCtx(logger.ErrorLevel, "bp-proxy: control server stopped", err)
		}
	}()

	<-stop
	log.Log("bp-proxy: shutting down")

	_ = srv.Close()
	client.Shutdown()
	if spawnerProc != nil {
		_ = spawnerProc.Signal(syscall.SIGTERM)
		_, _ = spawnerProc.Wait()
	}
}
