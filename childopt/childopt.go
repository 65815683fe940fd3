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

// Package childopt describes everything about a child process that the
// spawner needs in order to clone/exec it, and that the process-pool stock
// and the resource-address algebra need in order to fingerprint it.
//
// A childopt.Options value is a pure description: building one never forks,
// mounts, or touches a socket. It is shared by three callers:
//   - spawn.Prepared embeds it and serializes it across the spawner socket.
//   - stock.NewKey hashes it (together with the executable and argv) into a
//     ChildKey so that requests needing identical children share one pool.
//   - resaddr's CGI-family address uses Options.Hash to seed the "child
//     identity" half of its cache id.
package childopt

import "fmt"

// Mount is one element of an ordered bind-mount list applied inside the
// child's mount namespace.
type Mount struct {
	Source   string
	Target   string
	Writable bool
	Exec     bool
}

// Namespace groups the clone()/mount namespace options of a child.
type Namespace struct {
	EnableUser    bool
	EnablePID     bool
	EnableNetwork bool
	EnableIPC     bool
	EnableMount   bool
	MountProc     bool

	PivotRoot string

	MountHome string
	Home      string

	MountTmpTmpfs string
	MountTmpfs    string

	Mounts []Mount

	Hostname string
}

// IsEmpty reports whether the namespace carries no instruction at all, in
// which case the spawner skips unshare() entirely.
func (n Namespace) IsEmpty() bool {
	return !n.EnableUser && !n.EnablePID && !n.EnableNetwork && !n.EnableIPC &&
		!n.EnableMount && !n.MountProc && n.PivotRoot == "" && n.MountHome == "" &&
		n.MountTmpTmpfs == "" && n.MountTmpfs == "" && len(n.Mounts) == 0 && n.Hostname == ""
}

// CgroupSetting is one "name value" pair applied to the delegated cgroup
// after the child has been placed in it (e.g. "memory.max" "512M").
type CgroupSetting struct {
	Name  string
	Value string
}

// Cgroup names the sub-cgroup a child is moved into, plus attributes set on
// it before exec.
type Cgroup struct {
	Name string
	Set  []CgroupSetting
}

func (c Cgroup) IsEmpty() bool {
	return c.Name == "" && len(c.Set) == 0
}

// Rlimit is one entry of the RLIMIT_* array; Cur/Max follow getrlimit(2)
// semantics, and a zero value (both fields unset) means "do not send this
// limit to the spawner".
type Rlimit struct {
	Set bool
	Cur uint64
	Max uint64
}

// UidGid is the identity the spawner drops privileges to before exec.
type UidGid struct {
	UID    uint32
	GID    uint32
	Groups []uint32
}

func (u UidGid) IsEmpty() bool {
	return u.UID == 0 && u.GID == 0 && len(u.Groups) == 0
}

// Refence is the opaque authorization token written to
// /proc/cm4all/refence/self inside the sandboxed process, marking it for the
// external resource-accounting daemon. Preserved verbatim from the source
// project; it has no meaning to this implementation beyond "bytes to hand the
// spawner".
type Refence struct {
	Data []byte
}

// Options is the full set of spawn-time options influencing whether two
// requests may share one child process. It must never carry per-request
// state (a URI, a query string): that invariant is what lets ChildKey treat
// equal Options as an interchangeable process.
type Options struct {
	Env []string

	Cgroup  Cgroup
	Rlimits [16]Rlimit
	Refence Refence
	NS      Namespace
	UidGid  UidGid

	StderrPath string
	StderrNull bool

	NoNewPrivs bool
	Priority   int32
	Chroot     string
}

// Hash mixes every field influencing process identity into a single djb2
// hash, the same algorithm the cgi/Address.cxx build-child-id step uses for
// its options contribution.
func (o Options) Hash(seed uint64) uint64 {
	h := seed
	for _, e := range o.Env {
		h = djb2(h, []byte("$"+e))
	}
	h = djb2(h, []byte(o.Cgroup.Name))
	for _, s := range o.Cgroup.Set {
		h = djb2(h, []byte(s.Name+"="+s.Value))
	}
	h = djb2(h, o.Refence.Data)
	h = djb2(h, []byte(o.NS.PivotRoot))
	h = djb2(h, []byte(o.NS.Hostname))
	for _, m := range o.NS.Mounts {
		h = djb2(h, []byte(m.Source+":"+m.Target))
	}
	h = djb2(h, []byte{byte(o.UidGid.UID), byte(o.UidGid.UID >> 8), byte(o.UidGid.UID >> 16), byte(o.UidGid.UID >> 24)})
	h = djb2(h, []byte{byte(o.UidGid.GID), byte(o.UidGid.GID >> 8), byte(o.UidGid.GID >> 16), byte(o.UidGid.GID >> 24)})
	h = djb2(h, []byte(o.Chroot))
	return h
}

// IsExpandable reports whether any field of Options still contains an
// unexpanded "${...}" template and must go through Expand() before it can be
// hashed or sent to the spawner. This implementation never produces such
// templates, so it is always false; the method exists so CgiAddress/
// LHTTPAddress can test it uniformly regardless of where the option came
// from, mirroring ChildOptions::IsExpandable() in the source project.
func (o Options) IsExpandable() bool { return false }

// djb2 is Daniel J. Bernstein's string hash, applied incrementally so callers
// can fold several fields into one running value (mirrors djb_hash() in the
// original implementation).
func djb2(h uint64, data []byte) uint64 {
	if h == 0 {
		h = 5381
	}
	for _, b := range data {
		h = ((h << 5) + h) + uint64(b)
	}
	return h
}

// MakeID renders a canonical, order-sensitive textual form of the options,
// used as part of a cache/ChildKey string so two differing Options never
// collide even if their hashes did.
func (o Options) MakeID() string {
	b := make([]byte, 0, 128)
	for _, e := range o.Env {
		b = append(b, '$')
		b = append(b, e...)
	}
	if o.Cgroup.Name != "" {
		b = append(b, ";cg="...)
		b = append(b, o.Cgroup.Name...)
	}
	for _, s := range o.Cgroup.Set {
		b = append(b, ";cs="...)
		b = append(b, s.Name...)
		b = append(b, '=')
		b = append(b, s.Value...)
	}
	if !o.UidGid.IsEmpty() {
		b = append(b, fmt.Sprintf(";ug=%08x%08x", o.UidGid.UID, o.UidGid.GID)...)
	}
	if o.Chroot != "" {
		b = append(b, ";ch="...)
		b = append(b, o.Chroot...)
	}
	if o.NS.PivotRoot != "" {
		b = append(b, ";pr="...)
		b = append(b, o.NS.PivotRoot...)
	}
	return string(b)
}
