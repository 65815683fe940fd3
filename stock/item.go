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
	"container/list"
	"io"
	"time"
)

// Conn is the duplex handle a pool hands out: a child's control/data
// socket (plain/multi variants) or its listening socket's accepted peer
// (listen variant). Backend-specific framing (HTTP/1.1, FastCGI, WAS
// control+data) is performed by code outside this package (§2's data-flow
// note); stock only owns the handle's lifecycle.
type Conn interface {
	io.ReadWriteCloser
}

// item is the ChildProcess of §3: one stock entry. Multiplexed variants may
// lease the same item up to maxLeases times concurrently; plain/listen/
// remote variants have maxLeases == 1.
type item struct {
	key  Key
	name string
	conn Conn
	tag  string

	pool *pool

	maxLeases int
	leases    int
	fading    bool

	// receivedBytes is the WAS/LHTTP watchdog's running count of input
	// already consumed by the client before a STOP, used to validate a
	// subsequent PREMATURE report (§4.3).
	receivedBytes int64
	stopping      bool

	// poolElem/lruElem are this item's two simultaneous list memberships
	// (§9 design note): one inside its own pool's idle FIFO, one in the
	// stock-wide idle LRU used by DiscardOldestIdle. Both are nil while
	// the item is busy.
	poolElem *list.Element
	lruElem  *list.Element

	exited <-chan int
	closed bool

	// watchDone is closed when the item leaves the idle state, telling its
	// watchdog goroutine (stock.watch) to stop reading.
	watchDone chan struct{}

	// idleTimer enforces §5's wall-clock idle-clear: armed fresh on every
	// release to idle, stopped the moment the item is reused.
	idleTimer *time.Timer
}

func (it *item) isIdle() bool { return it.leases == 0 }

// Lease is the caller-visible handle to one borrow of a ChildProcess.
type Lease struct {
	stock *Stock
	it    *item
}

// Conn returns the leased connection.
func (l *Lease) Conn() Conn { return l.it.conn }

// Tag returns the item's fade-tag, if any.
func (l *Lease) Tag() string { return l.it.tag }

// Key returns the ChildKey this lease was issued against.
func (l *Lease) Key() Key { return l.it.key }

// Release returns the lease to its pool. reuse=false destroys the item
// immediately instead of re-arming its idle watch (§4.1 "release(item,
// reuse)").
func (l *Lease) Release(reuse bool) {
	l.stock.release(l.it, reuse)
}

// Watch returns the channel the SpawnFunc supplied for this item: it is sent
// the process's exit status once and then closed. Watch itself does not
// block.
func (l *Lease) Watch() <-chan int { return l.it.exited }
