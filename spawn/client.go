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
	"sync"
	"sync/atomic"

	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
	"golang.org/x/sys/unix"
)

// ExitListener receives one callback when its child process exits.
type ExitListener interface {
	OnChildProcessExit(status int)
}

// ErrSpawnerGone surfaces when the spawner socket has been closed and a
// caller still tries to use it - CheckOrAbort's Go counterpart returns an
// error instead of exiting the process outright.
var ErrSpawnerGone = errors.New(uint16(errors.MinPkgSpawn)+2, "spawn: the spawner is gone")

// Client is the main process's handle to the spawner sidecar: one
// AF_LOCAL/SOCK_SEQPACKET socket, single-writer, with an in-memory map of
// pids it has asked the spawner to create.
type Client struct {
	log logger.Level

	mu          sync.Mutex
	fd          int
	processes   map[int32]ExitListener
	shutdown    bool
	nextPid     int32
	onSocketErr func(error)
}

// NewClient wraps an already-connected spawner socket fd (typically the
// local end of a socketpair created before forking the sidecar).
func NewClient(fd int, log logger.Level) *Client {
	return &Client{
		fd:        fd,
		processes: make(map[int32]ExitListener),
		log:       log,
		nextPid:   1,
	}
}

func (c *Client) send(s *Serializer) error {
	c.mu.Lock()
	fd := c.fd
	c.mu.Unlock()

	if fd < 0 {
		return ErrSpawnerGone
	}

	return sendDatagram(fd, s.Payload(), s.FDs())
}

// sendDatagram performs one single-datagram sendmsg with SCM_RIGHTS,
// mirroring Send<MAX_FDS>(fd, payload, fds) exactly: no partial writes, no
// queuing - the spawner socket is a single-writer channel.
func sendDatagram(fd int, payload []byte, fds []int) error {
	var rights []byte
	if len(fds) > 0 {
		rights = unix.UnixRights(fds...)
	}
	return unix.Sendmsg(fd, payload, rights, nil, 0)
}

// Connect creates a fresh socketpair, sends one end to the spawner in a
// CONNECT request and returns the other end; it is used to open additional
// control channels to already-spawned multi-stock children.
func (c *Client) Connect() (int, error) {
	sv, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	localFd, remoteFd := sv[0], sv[1]
	defer unix.Close(remoteFd)

	s := NewRequestSerializer(ReqConnect)
	s.fds = []int{remoteFd}

	if err := c.send(s); err != nil {
		unix.Close(localFd)
		return -1, errors.New(uint16(errors.MinPkgSpawn)+3, "spawn: connect failed", err)
	}
	return localFd, nil
}

// SpawnChildProcess sends one EXEC request and registers listener against
// the pid it allocates, mirroring SpawnServerClient::SpawnChildProcess.
func (c *Client) SpawnChildProcess(name string, p Prepared, listener ExitListener) (int32, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return 0, ErrSpawnerGone
	}
	pid := atomic.AddInt32(&c.nextPid, 1)
	c.mu.Unlock()

	s := NewRequestSerializer(ReqExec)
	if err := s.WriteInt32(pid); err != nil {
		return 0, err
	}
	if err := s.WriteString(name); err != nil {
		return 0, err
	}
	if err := p.SerializeInto(s); err != nil {
		return 0, err
	}

	if err := c.send(s); err != nil {
		return 0, errors.New(uint16(errors.MinPkgSpawn)+4, "spawn: spawn request failed", err)
	}

	c.mu.Lock()
	c.processes[pid] = listener
	c.mu.Unlock()

	return pid, nil
}

// SetExitListener attaches a listener to a pid spawned without one (the
// Connect-then-SpawnChildProcess sequencing the original uses for
// listen-stream children).
func (c *Client) SetExitListener(pid int32, listener ExitListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processes[pid] = listener
}

// KillChildProcess sends a KILL request and forgets the pid; the spawner's
// own EXIT response (or its absence once the socket is gone) is the only
// subsequent signal about this pid.
func (c *Client) KillChildProcess(pid int32, signal int32) error {
	c.mu.Lock()
	delete(c.processes, pid)
	shutdown := c.shutdown
	empty := len(c.processes) == 0
	c.mu.Unlock()

	s := NewRequestSerializer(ReqKill)
	if err := s.WriteInt32(pid); err != nil {
		return err
	}
	if err := s.WriteInt32(signal); err != nil {
		return err
	}

	err := c.send(s)
	if err != nil {
		c.log.LogErrorCtxf(logger.ErrorLevel, "spawn: KILL(%d) send failed", err, pid)
	}

	if shutdown && empty {
		c.Close()
	}
	return err
}

// Shutdown marks the client draining: once every outstanding process has
// exited, the socket is closed.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	empty := len(c.processes) == 0
	c.mu.Unlock()
	if empty {
		c.Close()
	}
}

// Close releases the underlying socket. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
}

func (c *Client) handleExit(payload *Payload) error {
	pid, err := payload.ReadInt32()
	if err != nil {
		return err
	}
	status, err := payload.ReadInt32()
	if err != nil {
		return err
	}
	if !payload.IsEmpty() {
		return ErrMalformedPayload
	}

	c.mu.Lock()
	listener, ok := c.processes[pid]
	delete(c.processes, pid)
	shutdown := c.shutdown
	empty := len(c.processes) == 0
	c.mu.Unlock()

	if ok && listener != nil {
		listener.OnChildProcessExit(int(status))
	}

	if shutdown && empty {
		c.Close()
	}
	return nil
}

// HandleMessage dispatches one received datagram to its response handler.
// Called from the event loop's read-ready callback (OnSocketEvent in the
// original); exported so a caller supplying its own poller can drive it.
func (c *Client) HandleMessage(data []byte, fds []int) error {
	if len(data) == 0 {
		return ErrMalformedPayload
	}
	cmd := ResponseCommand(data[0])
	payload := NewPayload(data[1:], fds)

	switch cmd {
	case ResExit:
		return c.handleExit(payload)
	default:
		return nil
	}
}

// Run reads datagrams from the spawner socket until it closes or stop
// fires, dispatching each to HandleMessage. It replaces the original's
// recvmmsg-based OnSocketEvent with a blocking per-datagram read loop,
// which is the idiomatic Go shape for a dedicated reader goroutine.
func (c *Client) Run(stop <-chan struct{}) error {
	buf := make([]byte, MaxDatagram)
	oob := make([]byte, unix.CmsgSpace(MaxFDs*4))

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		c.mu.Lock()
		fd := c.fd
		c.mu.Unlock()
		if fd < 0 {
			return ErrSpawnerGone
		}

		n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
		if err != nil {
			c.Close()
			return err
		}
		if n == 0 {
			c.Close()
			return nil
		}

		var fds []int
		if oobn > 0 {
			msgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
			if perr == nil {
				for _, m := range msgs {
					got, gerr := unix.ParseUnixRights(&m)
					if gerr == nil {
						fds = append(fds, got...)
					}
				}
			}
		}

		if err := c.HandleMessage(buf[:n], fds); err != nil {
			c.log.LogErrorCtx(logger.ErrorLevel, "spawn: malformed response", err)
		}
	}
}
