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

package translate

import (
	"io"

	"github.com/bprox/core/childopt"
	"github.com/bprox/core/errors"
	"github.com/bprox/core/resaddr"
	"github.com/bprox/core/wireframe"
)

// ErrMalformedResponse mirrors §6 "malformed length is fatal" for anything
// ReadRecord itself didn't already reject - a field appearing where the
// state machine below cannot place it.
var ErrMalformedResponse = errors.New(uint16(errors.MinPkgTranslate)+3, "translate: malformed response")

// ListenStream is MOUNT_LISTEN_STREAM's payload, per §6's "Listen-stream key
// format": the path, and the tag bytes used by fade-by-tag filters.
type ListenStream struct {
	Path string
	Tag  string
}

// TranslateResponse is what the dispatcher consumes: a status, the resolved
// resource address plus its child-process options, and an optional
// listen-stream mount request.
type TranslateResponse struct {
	Status  int
	Address resaddr.Address

	ListenStream   ListenStream
	HasListenStream bool
}

// addrKind tracks which resource-address family the response is building,
// chosen by the first address-kind record seen.
type addrKind int

const (
	kindNone addrKind = iota
	kindFile
	kindHTTP
	kindLHTTP
	kindCGI
	kindFastCGI
	kindWAS
	kindPipe
)

type builder struct {
	kind addrKind

	path, action, scriptName, pathInfo, documentRoot, interpreter string
	args                                                          []string
	addresses                                                     []string
	hostAndPort                                                   string
	https                                                         bool
	parallelism, concurrency                                      int

	opts        childopt.Options
	inChildOpts bool

	listen    ListenStream
	hasListen bool

	statusSet bool
	statusVal int
}

func (b *builder) handleChildOptionField(cmd Command, cur *wireframe.Cursor) error {
	switch cmd {
	case CmdEnv:
		b.opts.Env = append(b.opts.Env, cur.ReadRestString())
	case CmdUserNS:
		b.opts.NS.EnableUser = true
	case CmdPIDNS:
		b.opts.NS.EnablePID = true
	case CmdNetworkNS:
		b.opts.NS.EnableNetwork = true
	case CmdIPCNS:
		b.opts.NS.EnableIPC = true
	case CmdMountNS:
		b.opts.NS.EnableMount = true
	case CmdMountProc:
		b.opts.NS.MountProc = true
	case CmdPivotRoot:
		b.opts.NS.PivotRoot = cur.ReadRestString()
	case CmdMountHome:
		b.opts.NS.MountHome = cur.ReadCString()
		b.opts.NS.Home = cur.ReadRestString()
	case CmdMountTmpTmpfs:
		b.opts.NS.MountTmpTmpfs = cur.ReadRestString()
	case CmdMountTmpfs:
		b.opts.NS.MountTmpfs = cur.ReadRestString()
	case CmdBindMount:
		src := cur.ReadCString()
		dst := cur.ReadCString()
		w, err := cur.ReadByte()
		if err != nil {
			return ErrMalformedResponse
		}
		x, err := cur.ReadByte()
		if err != nil {
			return ErrMalformedResponse
		}
		b.opts.NS.Mounts = append(b.opts.NS.Mounts, childopt.Mount{
			Source: src, Target: dst, Writable: w != 0, Exec: x != 0,
		})
	case CmdHostname:
		b.opts.NS.Hostname = cur.ReadRestString()
	case CmdRlimit:
		idx, err := cur.ReadByte()
		if err != nil {
			return ErrMalformedResponse
		}
		cv, err := cur.ReadUint64()
		if err != nil {
			return ErrMalformedResponse
		}
		mv, err := cur.ReadUint64()
		if err != nil {
			return ErrMalformedResponse
		}
		if int(idx) < len(b.opts.Rlimits) {
			b.opts.Rlimits[idx] = childopt.Rlimit{Set: true, Cur: cv, Max: mv}
		}
	case CmdUidGid:
		uid, err := cur.ReadUint32()
		if err != nil {
			return ErrMalformedResponse
		}
		gid, err := cur.ReadUint32()
		if err != nil {
			return ErrMalformedResponse
		}
		n, err := cur.ReadByte()
		if err != nil {
			return ErrMalformedResponse
		}
		groups := make([]uint32, 0, n)
		for i := byte(0); i < n; i++ {
			g, err := cur.ReadUint32()
			if err != nil {
				return ErrMalformedResponse
			}
			groups = append(groups, g)
		}
		b.opts.UidGid = childopt.UidGid{UID: uid, GID: gid, Groups: groups}
	case CmdNoNewPrivs:
		b.opts.NoNewPrivs = true
	case CmdCgroup:
		b.opts.Cgroup.Name = cur.ReadRestString()
	case CmdCgroupSet:
		name := cur.ReadCString()
		value := cur.ReadRestString()
		b.opts.Cgroup.Set = append(b.opts.Cgroup.Set, childopt.CgroupSetting{Name: name, Value: value})
	case CmdPriority:
		v, err := cur.ReadUint32()
		if err != nil {
			return ErrMalformedResponse
		}
		b.opts.Priority = int32(v)
	case CmdChroot:
		b.opts.Chroot = cur.ReadRestString()
	case CmdRefence:
		b.opts.Refence.Data = append([]byte(nil), cur.Remaining()...)
	}
	return nil
}

// ParseResponse reads records from r until END, folding them into a
// TranslateResponse. Unknown commands are skipped, matching §6's "unknown
// commands are tolerated and ignored where possible".
func ParseResponse(r io.Reader) (*TranslateResponse, error) {
	fr := wireframe.NewReader(r)
	b := &builder{}

	for {
		rec, err := wireframe.ReadRecord(fr)
		if err != nil {
			return nil, err
		}
		cmd := Command(rec.Command)
		cur := wireframe.NewCursor(rec.Payload)

		if cmd == CmdEnd {
			break
		}
		if cmd == CmdBegin {
			continue
		}

		if b.inChildOpts {
			if cmd.isChildOptionField() {
				if err := b.handleChildOptionField(cmd, cur); err != nil {
					return nil, err
				}
				continue
			}
			b.inChildOpts = false
		}

		switch cmd {
		case CmdChildOptions:
			b.inChildOpts = true
		case CmdStatus:
			v, err := cur.ReadByte()
			if err != nil {
				return nil, ErrMalformedResponse
			}
			b.status(int(v))
		case CmdExecute:
			b.path = cur.ReadRestString()
		case CmdArg:
			b.args = append(b.args, cur.ReadRestString())
		case CmdAction:
			b.action = cur.ReadRestString()
		case CmdScriptName:
			b.scriptName = cur.ReadRestString()
		case CmdPathInfo:
			b.pathInfo = cur.ReadRestString()
		case CmdDocumentRoot:
			b.documentRoot = cur.ReadRestString()
		case CmdInterpreter:
			b.interpreter = cur.ReadRestString()
		case CmdHostAndPort:
			b.hostAndPort = cur.ReadRestString()
		case CmdHTTPS:
			b.https = true
		case CmdParallelism:
			v, err := cur.ReadUint32()
			if err != nil {
				return nil, ErrMalformedResponse
			}
			b.parallelism = int(v)
		case CmdConcurrency:
			v, err := cur.ReadUint32()
			if err != nil {
				return nil, ErrMalformedResponse
			}
			b.concurrency = int(v)
		case CmdPath:
			b.path = cur.ReadRestString()
			if b.kind == kindNone {
				b.kind = kindFile
			}
		case CmdAddressHTTP:
			b.kind = kindHTTP
			b.addresses = append(b.addresses, cur.ReadRestString())
		case CmdAddressLHTTP:
			b.kind = kindLHTTP
		case CmdAddressCGI:
			b.kind = kindCGI
		case CmdAddressFastCGI:
			b.kind = kindFastCGI
			b.addresses = append(b.addresses, cur.ReadRestString())
		case CmdAddressWAS:
			b.kind = kindWAS
		case CmdAddressPipe:
			b.kind = kindPipe
		case CmdMountListenStream:
			b.listen = ListenStream{Path: cur.ReadCString(), Tag: cur.ReadRestString()}
			b.hasListen = true
		default:
			// Tolerated: field not in the subset §6 requires us to parse.
		}
	}

	return b.build()
}

func (b *builder) status(v int) {
	b.statusSet = true
	b.statusVal = v
}

func (b *builder) build() (*TranslateResponse, error) {
	resp := &TranslateResponse{Status: b.statusVal, ListenStream: b.listen, HasListenStream: b.hasListen}

	switch b.kind {
	case kindFile:
		resp.Address = resaddr.NewLocal(resaddr.FileAddress{
			Path:         b.path,
			DocumentRoot: b.documentRoot,
		})
	case kindHTTP:
		resp.Address = resaddr.NewHTTP(resaddr.HTTPAddress{
			Addresses:   b.addresses,
			HostAndPort: b.hostAndPort,
			HTTPS:       b.https,
			Path:        b.path,
		})
	case kindLHTTP:
		resp.Address = resaddr.NewLHTTP(resaddr.LHTTPAddress{
			Path:        b.path,
			Args:        b.args,
			Options:     b.opts,
			HostAndPort: b.hostAndPort,
			URI:         b.scriptName,
			Parallelism: b.parallelism,
			Concurrency: b.concurrency,
		})
	case kindCGI:
		resp.Address = resaddr.NewCGI(b.cgiAddress())
	case kindFastCGI:
		resp.Address = resaddr.NewFastCGI(b.cgiAddress())
	case kindWAS:
		resp.Address = resaddr.NewWAS(b.cgiAddress())
	case kindPipe:
		resp.Address = resaddr.NewPipe(b.cgiAddress())
	default:
		resp.Address = resaddr.None
	}

	return resp, nil
}

func (b *builder) cgiAddress() resaddr.CgiAddress {
	return resaddr.CgiAddress{
		Path:         b.path,
		Action:       b.action,
		Args:         b.args,
		Options:      b.opts,
		Interpreter:  b.interpreter,
		ScriptName:   b.scriptName,
		PathInfo:     b.pathInfo,
		DocumentRoot: b.documentRoot,
		Addresses:    b.addresses,
		Parallelism:  b.parallelism,
		Concurrency:  b.concurrency,
	}
}
