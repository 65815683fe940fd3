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
	"bytes"
	"encoding/binary"

	"github.com/bprox/core/errors"
)

// ErrMalformedPayload mirrors MalformedSpawnPayloadError: a record's fixed
// fields ran past the end of the datagram, or a NUL-terminated string was
// never terminated.
var ErrMalformedPayload = errors.New(uint16(errors.MinPkgSpawn)+1, "spawn: malformed payload")

// Payload is a read cursor over one received datagram's body (after the
// leading command byte has been consumed by the caller).
type Payload struct {
	data []byte
	fds  []int
}

func NewPayload(data []byte, fds []int) *Payload {
	return &Payload{data: data, fds: fds}
}

func (p *Payload) IsEmpty() bool { return len(p.data) == 0 }
func (p *Payload) Len() int      { return len(p.data) }

func (p *Payload) ReadByte() (byte, error) {
	if p.IsEmpty() {
		return 0, ErrMalformedPayload
	}
	b := p.data[0]
	p.data = p.data[1:]
	return b, nil
}

func (p *Payload) ReadBytes(n int) ([]byte, error) {
	if len(p.data) < n {
		return nil, ErrMalformedPayload
	}
	v := p.data[:n]
	p.data = p.data[n:]
	return v, nil
}

func (p *Payload) ReadInt32() (int32, error) {
	b, err := p.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (p *Payload) ReadUint32() (uint32, error) {
	b, err := p.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *Payload) ReadUint64() (uint64, error) {
	b, err := p.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadString consumes bytes up to and including the next NUL and returns
// them without the terminator.
func (p *Payload) ReadString() (string, error) {
	i := bytes.IndexByte(p.data, 0)
	if i < 0 {
		return "", ErrMalformedPayload
	}
	s := string(p.data[:i])
	p.data = p.data[i+1:]
	return s, nil
}

// ReadFd pops the next ancillary fd in arrival order, matching the
// serializer's convention of queuing fds in the order their tag appears.
func (p *Payload) ReadFd() (int, error) {
	if len(p.fds) == 0 {
		return -1, ErrMalformedPayload
	}
	fd := p.fds[0]
	p.fds = p.fds[1:]
	return fd, nil
}
