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

package stock

import (
	"encoding/binary"
	"io"

	"github.com/bprox/core/logger"
)

// Control-channel tags the watchdog recognises on an idle WAS/LHTTP item.
// wasBenign lists tags tolerated (and discarded) while waiting for
// PREMATURE after a STOP; anything else is unexpected data.
const (
	wasNop       byte = 0
	wasPremature byte = 1
)

var wasBenign = map[byte]bool{
	wasNop: true,
}

// watch runs for the lifetime of one idle item: it blocks on the item's
// connection (the Go goroutine-per-item substitute for the original's
// single event-loop MSG_DONTWAIT poll - §4.3's "no blocking reads"
// constraint is about not stalling *other* connections, which per-item
// goroutines already satisfy) and feeds every control frame through
// onFrame until the item is borrowed again (done closed) or it is
// destroyed.
func (s *Stock) watch(it *item, done <-chan struct{}) {
	for {
		tag, count, err := readControlFrame(it.conn)
		if err != nil {
			if err != io.EOF {
				s.log.LogErrorCtxf(logger.ErrorLevel, "stock: watchdog read failed for %s", err, it.name)
			}
			s.evictIdle(it)
			return
		}

		select {
		case <-done:
			return
		default:
		}

		if it.stopping {
			if tag != wasPremature {
				if wasBenign[tag] {
					continue
				}
				s.evictIdle(it)
				return
			}
			if !s.reconcilePremature(it, count) {
				s.evictIdle(it)
				return
			}
			it.stopping = false
			continue
		}

		// Unsolicited data on a connection nobody told to STOP: fatal,
		// per §4.3 "Unexpected data".
		s.evictIdle(it)
		return
	}
}

// reconcilePremature implements scenario 2: validates
// premature_count >= input_received, then drains the difference from the
// data side of the connection. Returns false (destroy) on any mismatch or
// short read.
func (s *Stock) reconcilePremature(it *item, prematureCount uint32) bool {
	received := uint64(it.receivedBytes)
	if uint64(prematureCount) < received {
		return false
	}
	remaining := uint64(prematureCount) - received
	if remaining == 0 {
		return true
	}
	if _, err := io.CopyN(io.Discard, it.conn, int64(remaining)); err != nil {
		return false
	}
	return true
}

// MarkStopping records that this item's caller sent STOP with
// receivedBytes already consumed, so the watchdog knows to expect a
// PREMATURE instead of treating it as unexpected data. Must be called
// before Release.
func (it *item) MarkStopping(receivedBytes int64) {
	it.stopping = true
	it.receivedBytes = receivedBytes
}

// evictIdle removes it from both the pool FIFO and the stock-wide LRU (if
// it is still idle - a race with a concurrent borrow may have already
// removed it, in which case this is a no-op) and destroys the connection.
func (s *Stock) evictIdle(it *item) {
	s.mu.Lock()
	if it.closed {
		s.mu.Unlock()
		return
	}
	if it.poolElem != nil {
		it.pool.removeIdle(it)
	}
	s.removeFromLRU(it)
	s.mu.Unlock()

	s.destroy(it)
}

// readControlFrame reads one tag byte, and for wasPremature a little-endian
// uint32 byte count. Other tags carry no payload in this rewrite's
// simplified control framing.
func readControlFrame(r io.Reader) (tag byte, count uint32, err error) {
	var buf [1]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	tag = buf[0]
	if tag != wasPremature {
		return tag, 0, nil
	}
	var cbuf [4]byte
	if _, err = io.ReadFull(r, cbuf[:]); err != nil {
		return 0, 0, err
	}
	return tag, binary.LittleEndian.Uint32(cbuf[:]), nil
}
