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

import "github.com/bprox/core/childopt"

// Prepared is everything needed to clone()/execve() one child process: the
// command line, the fds it inherits, and the sandbox options from childopt.
type Prepared struct {
	Args []string
	Env  []string

	StdinFd   int
	StdoutFd  int
	StderrFd  int
	ControlFd int

	Options childopt.Options
}

// NewPrepared returns a Prepared with no inherited fds (the Fd fields use
// -1 as "not set", mirroring PreparedChildProcess's defaults).
func NewPrepared() Prepared {
	return Prepared{StdinFd: -1, StdoutFd: -1, StderrFd: -1, ControlFd: -1}
}

// serializeRlimits writes the non-empty entries of Rlimits, one RLIMIT
// record per populated index.
func serializeRlimits(s *Serializer, limits [16]childopt.Rlimit) error {
	for i, rl := range limits {
		if !rl.Set {
			continue
		}
		if err := s.Write(ExecRlimit); err != nil {
			return err
		}
		if err := s.WriteByte(byte(i)); err != nil {
			return err
		}
		if err := s.WriteUint64(rl.Cur); err != nil {
			return err
		}
		if err := s.WriteUint64(rl.Max); err != nil {
			return err
		}
	}
	return nil
}

func serializeCgroup(s *Serializer, c childopt.Cgroup) error {
	if err := s.WriteOptionalString(ExecCgroup, c.Name); err != nil {
		return err
	}
	for _, set := range c.Set {
		if err := s.Write(ExecCgroupSet); err != nil {
			return err
		}
		if err := s.WriteString(set.Name); err != nil {
			return err
		}
		if err := s.WriteString(set.Value); err != nil {
			return err
		}
	}
	return nil
}

func serializeRefence(s *Serializer, r childopt.Refence) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := s.Write(ExecRefence); err != nil {
		return err
	}
	if err := s.WriteBytes(r.Data); err != nil {
		return err
	}
	return s.WriteByte(0)
}

func serializeNamespace(s *Serializer, ns childopt.Namespace) error {
	if err := s.WriteOptional(ExecUserNS, ns.EnableUser); err != nil {
		return err
	}
	if err := s.WriteOptional(ExecPIDNS, ns.EnablePID); err != nil {
		return err
	}
	if err := s.WriteOptional(ExecNetworkNS, ns.EnableNetwork); err != nil {
		return err
	}
	if err := s.WriteOptional(ExecIPCNS, ns.EnableIPC); err != nil {
		return err
	}
	if err := s.WriteOptional(ExecMountNS, ns.EnableMount); err != nil {
		return err
	}
	if err := s.WriteOptional(ExecMountProc, ns.MountProc); err != nil {
		return err
	}
	if err := s.WriteOptionalString(ExecPivotRoot, ns.PivotRoot); err != nil {
		return err
	}

	if ns.MountHome != "" {
		if err := s.Write(ExecMountHome); err != nil {
			return err
		}
		if err := s.WriteString(ns.MountHome); err != nil {
			return err
		}
		if err := s.WriteString(ns.Home); err != nil {
			return err
		}
	}

	if err := s.WriteOptionalString(ExecMountTmpTmpfs, ns.MountTmpTmpfs); err != nil {
		return err
	}
	if err := s.WriteOptionalString(ExecMountTmpfs, ns.MountTmpfs); err != nil {
		return err
	}

	for _, m := range ns.Mounts {
		if err := s.Write(ExecBindMount); err != nil {
			return err
		}
		if err := s.WriteString(m.Source); err != nil {
			return err
		}
		if err := s.WriteString(m.Target); err != nil {
			return err
		}
		if err := s.WriteByte(boolByte(m.Writable)); err != nil {
			return err
		}
		if err := s.WriteByte(boolByte(m.Exec)); err != nil {
			return err
		}
	}

	return s.WriteOptionalString(ExecHostname, ns.Hostname)
}

func serializeUidGid(s *Serializer, u childopt.UidGid) error {
	if u.IsEmpty() {
		return nil
	}
	if err := s.Write(ExecUidGid); err != nil {
		return err
	}
	if err := s.WriteUint32(u.UID); err != nil {
		return err
	}
	if err := s.WriteUint32(u.GID); err != nil {
		return err
	}
	if err := s.WriteByte(byte(len(u.Groups))); err != nil {
		return err
	}
	for _, g := range u.Groups {
		if err := s.WriteUint32(g); err != nil {
			return err
		}
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// SerializeInto appends p's exec record (everything after the pid/name
// prefix SpawnChildProcess writes) onto s.
func (p Prepared) SerializeInto(s *Serializer) error {
	for _, a := range p.Args {
		if err := s.WriteTaggedString(ExecArg, a); err != nil {
			return err
		}
	}
	for _, e := range p.Env {
		if err := s.WriteTaggedString(ExecSetenv, e); err != nil {
			return err
		}
	}

	if err := s.CheckWriteFd(ExecStdin, p.StdinFd); err != nil {
		return err
	}
	if err := s.CheckWriteFd(ExecStdout, p.StdoutFd); err != nil {
		return err
	}
	if err := s.CheckWriteFd(ExecStderr, p.StderrFd); err != nil {
		return err
	}
	if err := s.CheckWriteFd(ExecControl, p.ControlFd); err != nil {
		return err
	}

	if p.Options.Priority != 0 {
		if err := s.Write(ExecPriority); err != nil {
			return err
		}
		if err := s.WriteInt32(p.Options.Priority); err != nil {
			return err
		}
	}

	if err := serializeCgroup(s, p.Options.Cgroup); err != nil {
		return err
	}
	if err := serializeRefence(s, p.Options.Refence); err != nil {
		return err
	}
	if err := serializeNamespace(s, p.Options.NS); err != nil {
		return err
	}
	if err := serializeRlimits(s, p.Options.Rlimits); err != nil {
		return err
	}
	if err := serializeUidGid(s, p.Options.UidGid); err != nil {
		return err
	}

	if err := s.WriteOptionalString(ExecChroot, p.Options.Chroot); err != nil {
		return err
	}

	if p.Options.NoNewPrivs {
		if err := s.Write(ExecNoNewPrivs); err != nil {
			return err
		}
	}

	return nil
}
