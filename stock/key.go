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

// Package stock implements the process-pool stock: a keyed map of bounded
// child-process pools, in its plain/listen/multi/remote variants, plus the
// idle-connection watchdog the WAS and LHTTP variants share.
package stock

import (
	"github.com/bprox/core/childopt"
	"github.com/bprox/core/resaddr"
)

// Key is a ChildKey (§3): a stable, deterministic fingerprint of everything
// that influences whether two requests may share a child process. It
// reuses resaddr.StringWithHash's (canonical string, hash) shape so the
// same equality/diagnostic conventions apply.
type Key = resaddr.StringWithHash

// NewKey builds a ChildKey from the spawn parameters. It must never be
// handed per-request data (a URI, a query string) - only exe/argv/env/
// options, which is exactly what childopt.Options.Hash/MakeID already
// restrict themselves to.
func NewKey(exe string, args []string, opts childopt.Options) Key {
	h := uint64(5381)
	h = djb2(h, []byte(exe))
	for _, a := range args {
		h = djb2(h, []byte{' '})
		h = djb2(h, []byte(a))
	}
	h = opts.Hash(h)

	id := exe
	for _, a := range args {
		id += " " + a
	}
	id += opts.MakeID()

	return Key{Value: id, Hash: h}
}

func djb2(h uint64, data []byte) uint64 {
	for _, b := range data {
		h = ((h << 5) + h) + uint64(b)
	}
	return h
}
