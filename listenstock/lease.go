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

package listenstock

import "sync"

// Lease pins one Entry alive; its mount application (the bind-file mount
// appended for the child's namespace, per §4.2) lives in the dispatcher
// that builds the child's childopt.Mount list from Lease.Path, not here.
type Lease struct {
	stock *Stock
	entry *Entry

	once sync.Once
}

// Path is the container-visible socket path this lease pins.
func (l *Lease) Path() string { return l.entry.path }

// State reports the pinned entry's current lifecycle state.
func (l *Lease) State() State { return l.entry.State() }

// Release drops this lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.stock.release(l.entry)
	})
}
