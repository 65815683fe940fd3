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

import "github.com/bprox/core/errors"

// Taxonomy from §7, scoped to this package's error range.
var (
	// ErrSpawnFailed surfaces when the spawner reported a non-zero exit
	// before the child finished starting.
	ErrSpawnFailed = errors.New(uint16(errors.MinPkgChildStock), "stock: spawn failed")

	// ErrLimitExceeded names a saturated pool with no idle item. Get and its
	// variants do not return it: they queue the caller until a slot frees
	// up or ctx is done.
	ErrLimitExceeded = errors.New(uint16(errors.MinPkgChildStock)+1, "stock: parallelism limit exceeded")

	// ErrPeerClosed names an idle item whose peer closed between release
	// and borrow. Get does not return it: the watchdog removes such an item
	// from the idle list and destroys it before a lease can see it.
	ErrPeerClosed = errors.New(uint16(errors.MinPkgChildStock)+2, "stock: peer closed")

	// ErrCancelled surfaces when a waiter's context is done before a slot
	// became available; cancellation is prompt and does not wake anyone
	// else (§4.1 "Queue discipline").
	ErrCancelled = errors.New(uint16(errors.MinPkgChildStock)+3, "stock: cancelled")
)
