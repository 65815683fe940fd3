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
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/bprox/core/childopt"
	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
	"golang.org/x/sys/unix"
)

// ReexecStageEnv marks a re-exec of the spawner binary as the first stage of
// a freshly cloned child: cmd/bp-spawner's main() checks this before doing
// anything else and, if set, calls ChildInit instead of starting the server.
const ReexecStageEnv = "BPROX_SPAWN_STAGE"

// reexecArgv0 is cosmetic only (visible in ps output); the actual dispatch
// is driven by ReexecStageEnv, not argv[0].
const reexecArgv0 = "bprox-spawn-init"

// controlFD and initFD are the fixed descriptor numbers ChildInit finds its
// control-channel fd and its namespace/mount instructions on, regardless of
// which records the EXEC request carried - the Server always passes exactly
// two ExtraFiles, in this order, padding with /dev/null when a slot is
// unused so the layout never shifts.
const (
	controlFD = 3
	initFD    = 4
)

// Server is the spawner sidecar's counterpart to Client: it owns the other
// end of the AF_LOCAL/SOCK_SEQPACKET socket, decodes EXEC/KILL/CONNECT
// requests and performs the actual clone()/execve() work of §4.4.
type Server struct {
	log logger.Level
	fd  int

	mu  sync.Mutex
	run map[int32]*os.Process // request id -> running process
}

// NewServer wraps the spawner's end of an already-connected socket (the
// other half of the pair Client was built on).
func NewServer(fd int, log logger.Level) *Server {
	return &Server{
		fd:  fd,
		log: log,
		run: make(map[int32]*os.Process),
	}
}

func (s *Server) send(r *Serializer) error {
	return sendDatagram(s.fd, r.Payload(), r.FDs())
}

func (s *Server) respondExit(id int32, status int32) {
	r := NewResponseSerializer(ResExit)
	_ = r.WriteInt32(id)
	_ = r.WriteInt32(status)

	if err := s.send(r); err != nil {
		// §5: on EAGAIN the original waits on ppoll up to 10s and retries
		// once; a single retry mirrors that without reintroducing queuing.
		s.log.LogErrorCtxf(logger.ErrorLevel, "spawn: EXIT(%d) send failed, retrying once", err, id)
		_ = s.send(r)
	}
}

func (s *Server) register(id int32, p *os.Process) {
	s.mu.Lock()
	s.run[id] = p
	s.mu.Unlock()
}

func (s *Server) unregister(id int32) {
	s.mu.Lock()
	delete(s.run, id)
	s.mu.Unlock()
}

func (s *Server) lookup(id int32) (*os.Process, bool) {
	s.mu.Lock()
	p, ok := s.run[id]
	s.mu.Unlock()
	return p, ok
}

func (s *Server) handleConnect(payload *Payload) error {
	fd, err := payload.ReadFd()
	if err != nil {
		return err
	}
	// The client already created its own socketpair and keeps the local
	// end (Client.Connect); the remote end only needed to cross the
	// privilege boundary via SCM_RIGHTS, so the spawner's own copy is
	// simply closed once received.
	_ = unix.Close(fd)
	return nil
}

func (s *Server) handleKill(payload *Payload) error {
	id, err := payload.ReadInt32()
	if err != nil {
		return err
	}
	signo, err := payload.ReadInt32()
	if err != nil {
		return err
	}
	if p, ok := s.lookup(id); ok {
		_ = p.Signal(unix.Signal(signo))
	}
	return nil
}

func (s *Server) handleExec(payload *Payload) error {
	id, name, prepared, err := DecodeExec(payload)
	if err != nil {
		return err
	}

	go func() {
		proc, startErr := s.startChild(prepared)
		if startErr != nil {
			s.log.LogErrorCtxf(logger.ErrorLevel, "spawn: EXEC %s(%d) failed to start", startErr, name, id)
			s.respondExit(id, 2)
			return
		}

		s.register(id, proc)
		state, waitErr := proc.Wait()
		s.unregister(id)

		status := int32(2)
		if waitErr == nil && state != nil {
			status = int32(state.ExitCode())
		}
		s.respondExit(id, status)
	}()

	return nil
}

// HandleMessage dispatches one received datagram by its RequestCommand.
func (s *Server) HandleMessage(data []byte, fds []int) error {
	if len(data) == 0 {
		return ErrMalformedPayload
	}
	cmd := RequestCommand(data[0])
	payload := NewPayload(data[1:], fds)

	switch cmd {
	case ReqConnect:
		return s.handleConnect(payload)
	case ReqExec:
		return s.handleExec(payload)
	case ReqKill:
		return s.handleKill(payload)
	default:
		return ErrMalformedPayload
	}
}

// Run reads requests from the main process until the socket closes or stop
// fires. The main process's half going away (§4.4 "Failure isolation") is
// this loop's only shutdown signal short of an explicit stop.
func (s *Server) Run(stop <-chan struct{}) error {
	buf := make([]byte, MaxDatagram)
	oob := make([]byte, unix.CmsgSpace(MaxFDs*4))

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, 0)
		if err != nil {
			return err
		}
		if n == 0 {
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

		if err := s.HandleMessage(buf[:n], fds); err != nil {
			s.log.LogErrorCtx(logger.ErrorLevel, "spawn: malformed request", err)
		}
	}
}

// startChild performs the clone() half of §4.4: it re-execs this same
// binary as a bare "init" stage (ReexecStageEnv set) inside the requested
// namespaces, handing it the mount/sandbox instructions over a plain pipe
// (not the SCM_RIGHTS protocol - no fd ownership needs to cross this
// boundary beyond what ExtraFiles already carries by position). The init
// stage performs the remaining steps (pivot_root, bind mounts, priv drop)
// and execve()s the real target; Wait() on the returned *os.Process
// observes that final process's exit, matching the spawner's EXIT report.
func (s *Server) startChild(p Prepared) (*os.Process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.New(uint16(errors.MinPkgSpawn)+5, "spawn: init pipe", err)
	}
	defer r.Close()

	cmd := exec.Command(selfExePath())
	cmd.Args = []string{reexecArgv0}
	cmd.Env = append(os.Environ(), ReexecStageEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags(p.Options.NS),
	}
	if p.Options.NS.EnableUser {
		cmd.SysProcAttr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
		cmd.SysProcAttr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
		cmd.SysProcAttr.GidMappingsEnableSetgroups = false
	}

	if p.StdinFd >= 0 {
		cmd.Stdin = os.NewFile(uintptr(p.StdinFd), "stdin")
	}
	if p.StdoutFd >= 0 {
		cmd.Stdout = os.NewFile(uintptr(p.StdoutFd), "stdout")
	}
	if p.StderrFd >= 0 {
		cmd.Stderr = os.NewFile(uintptr(p.StderrFd), "stderr")
	}

	control := nullFile()
	if p.ControlFd >= 0 {
		control = os.NewFile(uintptr(p.ControlFd), "control")
	}
	cmd.ExtraFiles = []*os.File{control, r}

	go func() {
		defer w.Close()
		_ = encodeChildInitData(w, childInitData{
			Args:    p.Args,
			Env:     p.Env,
			Options: p.Options,
		})
	}()

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}

func nullFile() *os.File {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil
	}
	return f
}

func selfExePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "/proc/self/exe"
	}
	return exe
}

// cloneFlags maps childopt.Namespace's enable bits onto the clone(2) flags
// Go's exec.Cmd applies at process-creation time. Cloneflags is used here
// because exec.Cmd offers no hook to run code between fork and exec, so
// every namespace that must exist before the child's first instruction has
// to be requested at clone time instead of unshared afterward.
func cloneFlags(ns childopt.Namespace) uintptr {
	var flags uintptr
	if ns.EnableUser {
		flags |= unix.CLONE_NEWUSER
	}
	if ns.EnablePID {
		flags |= unix.CLONE_NEWPID
	}
	if ns.EnableNetwork {
		flags |= unix.CLONE_NEWNET
	}
	if ns.EnableIPC {
		flags |= unix.CLONE_NEWIPC
	}
	if ns.EnableMount {
		flags |= unix.CLONE_NEWNS
	}
	if ns.Hostname != "" {
		flags |= unix.CLONE_NEWUTS
	}
	return flags
}
