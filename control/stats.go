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

import "encoding/binary"

// Stats is the STATS response: "a fixed struct of big-endian counters" per
// §6. Big-endian here (unlike every little-endian field elsewhere in this
// module) is the wire format itself, not a style choice, so it is encoded
// directly with encoding/binary instead of through wireframe's
// little-endian Cursor/Writer.
type Stats struct {
	IncomingConnections uint32
	OutgoingConnections uint32
	Children            uint32
	Sessions            uint32
	RequestsPerSecond   uint32
	TrafficReceived     uint64
	TrafficSent         uint64
}

// Marshal encodes s as the fixed big-endian struct STATS responds with.
func (s Stats) Marshal() []byte {
	buf := make([]byte, 4*5+8*2)
	binary.BigEndian.PutUint32(buf[0:4], s.IncomingConnections)
	binary.BigEndian.PutUint32(buf[4:8], s.OutgoingConnections)
	binary.BigEndian.PutUint32(buf[8:12], s.Children)
	binary.BigEndian.PutUint32(buf[12:16], s.Sessions)
	binary.BigEndian.PutUint32(buf[16:20], s.RequestsPerSecond)
	binary.BigEndian.PutUint64(buf[20:28], s.TrafficReceived)
	binary.BigEndian.PutUint64(buf[28:36], s.TrafficSent)
	return buf
}
