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

// DecodeExec reads the pid/name prefix and the exec record sub-fields,
// the spawner side's counterpart to Prepared.SerializeInto plus
// Client.SpawnChildProcess's own pid/name header.
func DecodeExec(p *Payload) (pid int32, name string, prepared Prepared, err error) {
	if pid, err = p.ReadInt32(); err != nil {
		return
	}
	if name, err = p.ReadString(); err != nil {
		return
	}

	prepared = NewPrepared()

	for !p.IsEmpty() {
		tagByte, rerr := p.ReadByte()
		if rerr != nil {
			err = rerr
			return
		}
		tag := ExecCommand(tagByte)

		switch tag {
		case ExecArg:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Args = append(prepared.Args, v)

		case ExecSetenv:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Env = append(prepared.Env, v)

		case ExecStdin:
			if prepared.StdinFd, err = p.ReadFd(); err != nil {
				return
			}
		case ExecStdout:
			if prepared.StdoutFd, err = p.ReadFd(); err != nil {
				return
			}
		case ExecStderr:
			if prepared.StderrFd, err = p.ReadFd(); err != nil {
				return
			}
		case ExecControl:
			if prepared.ControlFd, err = p.ReadFd(); err != nil {
				return
			}

		case ExecPriority:
			v, e := p.ReadInt32()
			if e != nil {
				err = e
				return
			}
			prepared.Options.Priority = v

		case ExecCgroup:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.Cgroup.Name = v
		case ExecCgroupSet:
			name, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			value, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.Cgroup.Set = append(prepared.Options.Cgroup.Set, childopt.CgroupSetting{Name: name, Value: value})

		case ExecRefence:
			// Length is implicit: the wire record is the raw bytes
			// followed by one NUL terminator, matching Serialize().
			rest := p.data
			idx := -1
			for i, b := range rest {
				if b == 0 {
					idx = i
					break
				}
			}
			if idx < 0 {
				err = ErrMalformedPayload
				return
			}
			prepared.Options.Refence.Data = append([]byte(nil), rest[:idx]...)
			p.data = p.data[idx+1:]

		case ExecUserNS:
			prepared.Options.NS.EnableUser = true
		case ExecPIDNS:
			prepared.Options.NS.EnablePID = true
		case ExecNetworkNS:
			prepared.Options.NS.EnableNetwork = true
		case ExecIPCNS:
			prepared.Options.NS.EnableIPC = true
		case ExecMountNS:
			prepared.Options.NS.EnableMount = true
		case ExecMountProc:
			prepared.Options.NS.MountProc = true
		case ExecPivotRoot:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.NS.PivotRoot = v
		case ExecMountHome:
			mh, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			home, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.NS.MountHome = mh
			prepared.Options.NS.Home = home
		case ExecMountTmpTmpfs:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.NS.MountTmpTmpfs = v
		case ExecMountTmpfs:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.NS.MountTmpfs = v
		case ExecBindMount:
			src, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			dst, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			writable, e := p.ReadByte()
			if e != nil {
				err = e
				return
			}
			execBit, e := p.ReadByte()
			if e != nil {
				err = e
				return
			}
			prepared.Options.NS.Mounts = append(prepared.Options.NS.Mounts, childopt.Mount{
				Source: src, Target: dst, Writable: writable != 0, Exec: execBit != 0,
			})
		case ExecHostname:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.NS.Hostname = v

		case ExecRlimit:
			idx, e := p.ReadByte()
			if e != nil {
				err = e
				return
			}
			cur, e := p.ReadUint64()
			if e != nil {
				err = e
				return
			}
			max, e := p.ReadUint64()
			if e != nil {
				err = e
				return
			}
			if int(idx) < len(prepared.Options.Rlimits) {
				prepared.Options.Rlimits[idx] = childopt.Rlimit{Set: true, Cur: cur, Max: max}
			}

		case ExecUidGid:
			uid, e := p.ReadUint32()
			if e != nil {
				err = e
				return
			}
			gid, e := p.ReadUint32()
			if e != nil {
				err = e
				return
			}
			n, e := p.ReadByte()
			if e != nil {
				err = e
				return
			}
			groups := make([]uint32, 0, n)
			for i := byte(0); i < n; i++ {
				g, e := p.ReadUint32()
				if e != nil {
					err = e
					return
				}
				groups = append(groups, g)
			}
			prepared.Options.UidGid = childopt.UidGid{UID: uid, GID: gid, Groups: groups}

		case ExecNoNewPrivs:
			prepared.Options.NoNewPrivs = true

		case ExecChroot:
			v, e := p.ReadString()
			if e != nil {
				err = e
				return
			}
			prepared.Options.Chroot = v

		default:
			err = ErrMalformedPayload
			return
		}
	}

	return pid, name, prepared, nil
}
