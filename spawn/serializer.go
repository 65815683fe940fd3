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
	"encoding/binary"

	"github.com/bprox/core/errors"
)

// ErrPayloadTooLarge mirrors SpawnPayloadTooLargeError: the serialized
// record would exceed MaxDatagram or MaxFDs.
var ErrPayloadTooLarge = errors.New(uint16(errors.MinPkgSpawn), "spawn: payload is too large")

// Serializer accumulates one outgoing datagram: a byte-oriented payload plus
// up to MaxFDs ancillary file descriptors, matching SpawnSerializer's
// single-writer, single-datagram contract.
type Serializer struct {
	buf []byte
	fds []int
}

// NewRequestSerializer starts a request datagram with its leading
// RequestCommand byte.
func NewRequestSerializer(cmd RequestCommand) *Serializer {
	return &Serializer{buf: []byte{byte(cmd)}}
}

// NewResponseSerializer starts a response datagram with its leading
// ResponseCommand byte.
func NewResponseSerializer(cmd ResponseCommand) *Serializer {
	return &Serializer{buf: []byte{byte(cmd)}}
}

func (s *Serializer) WriteByte(b byte) error {
	if len(s.buf) >= MaxDatagram {
		return ErrPayloadTooLarge
	}
	s.buf = append(s.buf, b)
	return nil
}

func (s *Serializer) Write(cmd ExecCommand) error {
	return s.WriteByte(byte(cmd))
}

func (s *Serializer) WriteOptional(cmd ExecCommand, value bool) error {
	if !value {
		return nil
	}
	return s.Write(cmd)
}

func (s *Serializer) WriteBytes(p []byte) error {
	if len(s.buf)+len(p) > MaxDatagram {
		return ErrPayloadTooLarge
	}
	s.buf = append(s.buf, p...)
	return nil
}

func (s *Serializer) WriteInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return s.WriteBytes(b[:])
}

func (s *Serializer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return s.WriteBytes(b[:])
}

func (s *Serializer) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return s.WriteBytes(b[:])
}

// WriteString appends a NUL-terminated string, the wire encoding every
// textual record uses.
func (s *Serializer) WriteString(value string) error {
	return s.WriteBytes(append([]byte(value), 0))
}

func (s *Serializer) WriteTaggedString(cmd ExecCommand, value string) error {
	if err := s.Write(cmd); err != nil {
		return err
	}
	return s.WriteString(value)
}

func (s *Serializer) WriteOptionalString(cmd ExecCommand, value string) error {
	if value == "" {
		return nil
	}
	return s.WriteTaggedString(cmd, value)
}

// WriteFd tags and queues fd for SCM_RIGHTS transfer; it does not duplicate
// or close fd - ownership passes to the datagram.
func (s *Serializer) WriteFd(cmd ExecCommand, fd int) error {
	if len(s.fds) >= MaxFDs {
		return ErrPayloadTooLarge
	}
	if err := s.Write(cmd); err != nil {
		return err
	}
	s.fds = append(s.fds, fd)
	return nil
}

// CheckWriteFd writes fd only if it is a valid descriptor (>= 0).
func (s *Serializer) CheckWriteFd(cmd ExecCommand, fd int) error {
	if fd < 0 {
		return nil
	}
	return s.WriteFd(cmd, fd)
}

func (s *Serializer) Payload() []byte { return s.buf }
func (s *Serializer) FDs() []int      { return s.fds }
