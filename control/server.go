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

package control

import (
	"bytes"
	"net"

	enchex "github.com/bprox/core/encoding/hexa"
	encsha "github.com/bprox/core/encoding/sha256"
	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
	"github.com/bprox/core/wireframe"
	"golang.org/x/sys/unix"
)

// ErrUnknownCommand is returned by dispatch for a record whose Command this
// server does not recognize; per §6 this is not fatal to the socket, only
// to that one datagram.
var ErrUnknownCommand = errors.New(uint16(errors.MinPkgControl)+1, "control: unknown command")

// Invalidation is one (kind, value) pair out of a TCACHE_INVALIDATE payload.
type Invalidation struct {
	Kind  TcacheInvalidateKind
	Value string
}

// Handlers is the narrow surface the control server drives; the dispatcher
// (outside this package's scope) implements it against the stock, registry
// and node-membership state this module owns.
type Handlers interface {
	TcacheInvalidate(pairs []Invalidation)
	Verbose(level uint8)
	EnableNode(name string) error
	FadeNode(name string) error
	NodeStatus(name string) string
	FadeChildren(tag string)
	FlushFilterCache(tag string)
	DiscardSession(attachID uint64)
	Stats() Stats
	DumpPools() string
	DisableZeroconf()
	EnableZeroconf()
	FlushNFSCache()
}

// Server owns the control-plane UNIX datagram socket. Each datagram carries
// exactly one wireframe record, matching "datagrams of the same framing as
// the translation protocol" - a stream framing reused one record at a time
// per packet instead of concatenated on a byte stream.
type Server struct {
	conn     *net.UnixConn
	handlers Handlers
	log      logger.Level
}

// Listen opens addr (conventionally the Linux abstract-namespace name
// "@bp-control", which net.ListenUnixgram renders as a leading NUL) as a
// SOCK_DGRAM UNIX socket.
func Listen(addr string, handlers Handlers, log logger.Level) (*Server, error) {
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: addr, Net: "unixgram"})
	if err != nil {
		return nil, errors.New(uint16(errors.MinPkgControl)+2, "control: listen failed", err)
	}
	return &Server{conn: conn, handlers: handlers, log: log}, nil
}

// Close releases the listening socket.
func (s *Server) Close() error { return s.conn.Close() }

// Run reads datagrams until stop fires or the socket errors.
func (s *Server) Run(stop <-chan struct{}) error {
	buf := make([]byte, wireframe.MaxPayload+4)
	go func() {
		<-stop
		_ = s.conn.Close()
	}()

	for {
		n, from, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return err
			}
		}
		if err := s.dispatch(buf[:n], from); err != nil {
			s.log.LogErrorCtx(logger.ErrorLevel, "control: malformed or failed command", err)
		}
	}
}

func (s *Server) dispatch(datagram []byte, from *net.UnixAddr) error {
	rec, err := wireframe.ReadRecord(bytes.NewReader(datagram))
	if err != nil {
		return err
	}
	cmd := Command(rec.Command)
	cur := wireframe.NewCursor(rec.Payload)

	switch cmd {
	case CmdNop:
		return nil

	case CmdTcacheInvalidate:
		var pairs []Invalidation
		for !cur.IsEmpty() {
			kb, err := cur.ReadByte()
			if err != nil {
				return err
			}
			pairs = append(pairs, Invalidation{Kind: TcacheInvalidateKind(kb), Value: cur.ReadCString()})
		}
		s.handlers.TcacheInvalidate(pairs)
		return nil

	case CmdVerbose:
		level, err := cur.ReadByte()
		if err != nil {
			return err
		}
		s.handlers.Verbose(level)
		return nil

	case CmdEnableNode:
		return s.handlers.EnableNode(cur.ReadRestString())

	case CmdFadeNode:
		return s.handlers.FadeNode(cur.ReadRestString())

	case CmdNodeStatus:
		name := cur.ReadRestString()
		status := s.handlers.NodeStatus(name)
		return s.reply(from, CmdNodeStatus, []byte(name+"\x00"+status))

	case CmdFadeChildren:
		s.handlers.FadeChildren(cur.ReadRestString())
		return nil

	case CmdFlushFilterCache:
		s.handlers.FlushFilterCache(cur.ReadRestString())
		return nil

	case CmdDiscardSession:
		id, err := cur.ReadUint64()
		if err != nil {
			return err
		}
		s.handlers.DiscardSession(id)
		return nil

	case CmdStopwatchPipe:
		return s.handleStopwatchPipe(from)

	case CmdStats:
		return s.reply(from, CmdStats, s.handlers.Stats().Marshal())

	case CmdDumpPools:
		return s.reply(from, CmdDumpPools, dumpPoolsPayload(s.handlers.DumpPools()))

	case CmdDisableZeroconf:
		s.handlers.DisableZeroconf()
		return nil

	case CmdEnableZeroconf:
		s.handlers.EnableZeroconf()
		return nil

	case CmdFlushNFSCache:
		s.handlers.FlushNFSCache()
		return nil

	default:
		return ErrUnknownCommand
	}
}

// reply sends one record back to from over the (connectionless) socket.
func (s *Server) reply(from *net.UnixAddr, cmd Command, payload []byte) error {
	var buf bytes.Buffer
	if err := wireframe.WriteRecord(&buf, uint16(cmd), payload); err != nil {
		return err
	}
	_, err := s.conn.WriteToUnix(buf.Bytes(), from)
	return err
}

// handleStopwatchPipe creates a pipe and sends its read end back to the
// caller as an ancillary fd. The write end is closed when this function
// returns and nothing is written to it, so the caller's read end reports
// EOF without delivering any profiling lines.
func (s *Server) handleStopwatchPipe(from *net.UnixAddr) error {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return err
	}
	readFd, writeFd := p[0], p[1]
	defer unix.Close(writeFd)

	raw, err := s.conn.SyscallConn()
	if err != nil {
		unix.Close(readFd)
		return err
	}

	var sendErr error
	err = raw.Control(func(fd uintptr) {
		rights := unix.UnixRights(readFd)
		sendErr = unix.Sendmsg(int(fd), nil, rights, toSockaddr(from), 0)
	})
	unix.Close(readFd)
	if err != nil {
		return err
	}
	return sendErr
}

func toSockaddr(addr *net.UnixAddr) unix.Sockaddr {
	if addr == nil {
		return nil
	}
	return &unix.SockaddrUnix{Name: addr.Name}
}

// dumpPoolsPayload prefixes the handler's dump with a hex-encoded SHA-256
// fingerprint of its own body, so a monitoring client polling DUMP_POOLS on
// an interval can tell "nothing changed" from one 64-byte comparison
// instead of diffing the whole (potentially large) dump each time.
func dumpPoolsPayload(dump string) []byte {
	sum := encsha.New().Encode([]byte(dump))
	fingerprint := enchex.New().Encode(sum)
	return append(append(fingerprint, '\n'), dump...)
}
