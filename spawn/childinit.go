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

package spawn

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/bprox/core/childopt"
	"golang.org/x/sys/unix"
)

// childInitData is everything the re-exec'd init stage needs that does not
// cross as a plain inherited file descriptor. It travels over initFD as a
// gob stream rather than the spawn wire protocol proper: this pipe is an
// internal implementation detail of one spawner process talking to its own
// clone, not the privilege-boundary channel §4.4 specifies.
type childInitData struct {
	Args    []string
	Env     []string
	Options childopt.Options
}

func encodeChildInitData(w io.Writer, d childInitData) error {
	return gob.NewEncoder(w).Encode(d)
}

func decodeChildInitData(r io.Reader) (childInitData, error) {
	var d childInitData
	err := gob.NewDecoder(r).Decode(&d)
	return d, err
}

// ChildInit is the entry point cmd/bp-spawner's main() must call, before
// anything else, when ReexecStageEnv is set. It never returns: it performs
// the sandboxing steps of §4.4 in order and then execve()s the real target,
// or os.Exit(2)s with a diagnostic on stderr if any step fails, matching
// "any step failing prints diagnostic to stderr and exits with status 2".
func ChildInit() {
	fail := func(step string, err error) {
		fmt.Fprintf(os.Stderr, "bprox-spawn-init: %s: %v\n", step, err)
		os.Exit(2)
	}

	initFile := os.NewFile(uintptr(initFD), "init")
	data, err := decodeChildInitData(initFile)
	if err != nil {
		fail("read init data", err)
	}
	_ = initFile.Close()

	opt := data.Options

	if opt.Cgroup.Name != "" {
		if err := applyCgroup(opt.Cgroup); err != nil {
			fail("cgroup", err)
		}
	}

	if len(opt.Refence.Data) > 0 {
		// Best-effort: the accounting daemon this writes for is an external
		// collaborator outside this module's scope (§1 Non-goals), so a
		// missing /proc/cm4all/refence/self is not fatal.
		_ = os.WriteFile("/proc/cm4all/refence/self", opt.Refence.Data, 0)
	}

	if opt.NS.EnableMount {
		if err := applyMountNamespace(opt.NS); err != nil {
			fail("mount namespace", err)
		}
	}

	if opt.NS.Hostname != "" {
		if err := unix.Sethostname([]byte(opt.NS.Hostname)); err != nil {
			fail("sethostname", err)
		}
	}

	for i, rl := range opt.Rlimits {
		if !rl.Set {
			continue
		}
		lim := unix.Rlimit{Cur: rl.Cur, Max: rl.Max}
		if err := unix.Setrlimit(i, &lim); err != nil {
			fail(fmt.Sprintf("setrlimit(%d)", i), err)
		}
	}

	if !opt.UidGid.IsEmpty() {
		if err := unix.Setgroups(intSlice(opt.UidGid.Groups)); err != nil {
			fail("setgroups", err)
		}
		if err := unix.Setregid(int(opt.UidGid.GID), int(opt.UidGid.GID)); err != nil {
			fail("setregid", err)
		}
		if err := unix.Setreuid(int(opt.UidGid.UID), int(opt.UidGid.UID)); err != nil {
			fail("setreuid", err)
		}
	}

	if opt.NoNewPrivs {
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			fail("no_new_privs", err)
		}
	}

	if opt.Priority != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, int(opt.Priority)); err != nil {
			fail("setpriority", err)
		}
	}

	if opt.Chroot != "" {
		if err := unix.Chroot(opt.Chroot); err != nil {
			fail("chroot", err)
		}
		if err := unix.Chdir("/"); err != nil {
			fail("chdir after chroot", err)
		}
	}

	if len(data.Args) == 0 {
		fail("exec", fmt.Errorf("no argv"))
	}

	path := data.Args[0]
	if err := syscall.Exec(path, data.Args, data.Env); err != nil {
		fail("execve "+path, err)
	}
}

func intSlice(u []uint32) []int {
	out := make([]int, len(u))
	for i, v := range u {
		out[i] = int(v)
	}
	return out
}

// applyCgroup moves the current process into the named delegated cgroup and
// applies its key=value attributes, mirroring Cgroup::Apply().
func applyCgroup(c childopt.Cgroup) error {
	dir := filepath.Join("/sys/fs/cgroup", c.Name)
	if err := os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return err
	}
	for _, set := range c.Set {
		if err := os.WriteFile(filepath.Join(dir, set.Name), []byte(set.Value), 0644); err != nil {
			return err
		}
	}
	return nil
}

// applyMountNamespace performs, in order: MS_PRIVATE recursive rebind of
// "/", a self-bind of the new root, pivot_root into it, a fresh /proc if
// requested, each configured bind mount (NOSUID|NODEV, RDONLY unless
// writable, NOEXEC unless exec), the old root's lazy detach-unmount, and any
// requested tmpfs mounts. Matches the ordering in §4.4.
func applyMountNamespace(ns childopt.Namespace) error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("make-private /: %w", err)
	}

	if ns.PivotRoot != "" {
		if err := unix.Mount(ns.PivotRoot, ns.PivotRoot, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("self-bind new root: %w", err)
		}
		if err := unix.Chdir(ns.PivotRoot); err != nil {
			return fmt.Errorf("chdir new root: %w", err)
		}

		oldRoot := filepath.Join(ns.PivotRoot, ".bprox-old-root")
		_ = os.Mkdir(oldRoot, 0700)
		if err := unix.PivotRoot(".", oldRoot); err != nil {
			return fmt.Errorf("pivot_root: %w", err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("chdir /: %w", err)
		}
	}

	if ns.MountProc {
		_ = os.MkdirAll("/proc", 0555)
		if err := unix.Mount("proc", "/proc", "proc", 0, ""); err != nil {
			return fmt.Errorf("mount /proc: %w", err)
		}
	}

	if ns.MountHome != "" {
		if err := bindMount(childopt.Mount{Source: ns.Home, Target: ns.MountHome, Writable: true, Exec: true}); err != nil {
			return fmt.Errorf("mount home: %w", err)
		}
	}

	for _, m := range ns.Mounts {
		if err := bindMount(m); err != nil {
			return fmt.Errorf("bind mount %s: %w", m.Target, err)
		}
	}

	if ns.PivotRoot != "" {
		oldRoot := "/.bprox-old-root"
		if err := unix.Unmount(oldRoot, unix.MNT_DETACH); err != nil {
			return fmt.Errorf("unmount old root: %w", err)
		}
	}

	if ns.MountTmpTmpfs != "" {
		if err := mountTmpfs("/tmp", ns.MountTmpTmpfs); err != nil {
			return err
		}
	}
	if ns.MountTmpfs != "" {
		if err := mountTmpfs(ns.MountTmpfs, ""); err != nil {
			return err
		}
	}

	return nil
}

func bindMount(m childopt.Mount) error {
	if err := unix.Mount(m.Source, m.Target, "", unix.MS_BIND, ""); err != nil {
		return err
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_NOSUID | unix.MS_NODEV)
	if !m.Writable {
		flags |= unix.MS_RDONLY
	}
	if !m.Exec {
		flags |= unix.MS_NOEXEC
	}
	return unix.Mount(m.Source, m.Target, "", flags, "")
}

func mountTmpfs(target, options string) error {
	_ = os.MkdirAll(target, 0755)
	data := options
	if data == "" {
		data = "mode=0755"
	}
	return unix.Mount("tmpfs", target, "tmpfs", 0, strings.TrimSpace(data))
}
