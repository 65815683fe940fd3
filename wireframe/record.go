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

// Package wireframe is the length-prefixed record framing §6 specifies for
// both the translation-server stream and the control-plane datagrams:
// length:u16 LE, command:u16 LE, length bytes of payload. It is the
// stream/datagram counterpart of package spawn's single-byte-tag datagram
// framing - same little-endian discipline, different envelope, so it lives
// apart rather than being bolted onto spawn's Serializer/Payload.
package wireframe

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/bprox/core/errors"
)

// MaxPayload is the largest payload length a u16 length field can express.
const MaxPayload = 0xFFFF

// ErrRecordTooLarge is returned by WriteRecord when payload exceeds
// MaxPayload - the field simply cannot carry more.
var ErrRecordTooLarge = errors.New(uint16(errors.MinPkgTranslate)+1, "wireframe: record payload exceeds 65535 bytes")

// ErrMalformed is returned by ReadRecord on a truncated header or a length
// the reader is unwilling to honor; per §6 "malformed length is fatal".
var ErrMalformed = errors.New(uint16(errors.MinPkgTranslate)+2, "wireframe: malformed record")

// Record is one decoded length-prefixed record.
type Record struct {
	Command uint16
	Payload []byte
}

// WriteRecord writes one record: length, command, payload, in that order.
func WriteRecord(w io.Writer, command uint16, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrRecordTooLarge
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(hdr[2:4], command)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadRecord reads one record from r. io.EOF is returned verbatim when the
// stream closes cleanly between records (no bytes of a header read yet);
// anything short of a full header or payload is ErrMalformed.
func ReadRecord(r io.Reader) (Record, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, ErrMalformed
	}

	length := binary.LittleEndian.Uint16(hdr[0:2])
	command := binary.LittleEndian.Uint16(hdr[2:4])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Record{}, ErrMalformed
		}
	}

	return Record{Command: command, Payload: payload}, nil
}

// NewReader wraps r for repeated ReadRecord calls with the buffering a
// framed stream protocol wants (the translation server and control clients
// both trickle small records rather than one syscall per record).
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 4096)
}

// Cursor is a read cursor over one record's payload, mirroring spawn's
// Payload but over the simpler (no fds) length-prefixed records.
type Cursor struct {
	data []byte
}

func NewCursor(payload []byte) *Cursor { return &Cursor{data: payload} }

func (c *Cursor) IsEmpty() bool { return len(c.data) == 0 }
func (c *Cursor) Len() int      { return len(c.data) }
func (c *Cursor) Remaining() []byte { return c.data }

func (c *Cursor) ReadByte() (byte, error) {
	if c.IsEmpty() {
		return 0, ErrMalformed
	}
	b := c.data[0]
	c.data = c.data[1:]
	return b, nil
}

func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if len(c.data) < n {
		return nil, ErrMalformed
	}
	v := c.data[:n]
	c.data = c.data[n:]
	return v, nil
}

func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) ReadUint64() (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadCString consumes bytes up to an optional NUL and returns them without
// it; if no NUL remains, the rest of the payload is taken as the string (the
// translation protocol's trailing fields are frequently un-terminated when
// they run to the end of the record).
func (c *Cursor) ReadCString() string {
	for i, b := range c.data {
		if b == 0 {
			s := string(c.data[:i])
			c.data = c.data[i+1:]
			return s
		}
	}
	s := string(c.data)
	c.data = nil
	return s
}

// ReadRestString returns every remaining byte as a string.
func (c *Cursor) ReadRestString() string {
	s := string(c.data)
	c.data = nil
	return s
}

// Writer accumulates records for a stream connection (requests to the
// translation server, responses from the control server).
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) Write(command uint16, payload []byte) error {
	return WriteRecord(w.w, command, payload)
}

func (w *Writer) WriteEmpty(command uint16) error {
	return WriteRecord(w.w, command, nil)
}
