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

package resaddr

import (
	"strings"

	"github.com/bprox/core/childopt"
)

// LHTTPAddress describes "local HTTP": HTTP/1.1 spoken over a private
// AF_LOCAL socket to a process spawned on demand, identical in spirit to a
// FastCGI/WAS backend but framed as plain HTTP.
type LHTTPAddress struct {
	// Path is the executable launched to serve this address; it is also
	// the child-process identity key together with Options/Args.
	Path string
	Args []string

	Options childopt.Options

	HostAndPort string
	URI         string

	Parallelism int
	Concurrency int
	Blocking    bool

	ExpandURI bool
}

func (l LHTTPAddress) IsExpandable() bool { return l.ExpandURI }
func (l LHTTPAddress) HasQueryString() bool {
	return strings.Contains(l.URI, "?")
}
func (l LHTTPAddress) IsValidBase() bool {
	return l.IsExpandable() || IsBase(l.URI)
}

func (l LHTTPAddress) isSameProgram(o LHTTPAddress) bool { return l.Path == o.Path }

// ServerID is the stock key fingerprinting the child process that would
// serve this address: executable path, options and argv - explicitly never
// host_and_port or uri, which are per-request.
func (l LHTTPAddress) ServerID() StringWithHash {
	b := strings.Builder{}
	b.WriteString(l.Path)
	b.WriteString(l.Options.MakeID())
	for _, a := range l.Args {
		b.WriteString("!")
		b.WriteString(a)
	}
	h := childOptionsHash(l.Options, djb2(0, []byte(l.Path)))
	for _, a := range l.Args {
		h = djb2(h, []byte(a))
	}
	return StringWithHash{Value: b.String(), Hash: h}
}

// ID appends the per-request host_and_port/uri fields to ServerID, the way
// GetId() concatenates onto GetServerId().
func (l LHTTPAddress) ID() StringWithHash {
	id := l.ServerID()
	if l.HostAndPort != "" {
		id = StringWithHash{Value: id.Value + ";h=" + l.HostAndPort, Hash: djb2(id.Hash, []byte(l.HostAndPort))}
	}
	if l.URI != "" {
		id = StringWithHash{Value: id.Value + ";u=" + l.URI, Hash: djb2(id.Hash, []byte(l.URI))}
	}
	return id
}

func (l *LHTTPAddress) InsertQueryString(qs string) {
	if i := strings.IndexByte(l.URI, '?'); i >= 0 {
		l.URI = l.URI[:i] + "?" + qs + "&" + l.URI[i+1:]
	} else {
		l.URI = l.URI + "?" + qs
	}
}

func (l *LHTTPAddress) InsertArgs(args, path string) {
	base, query := l.URI, ""
	if i := strings.IndexByte(l.URI, '?'); i >= 0 {
		base, query = l.URI[:i], l.URI[i:]
	}
	l.URI = base + ";" + args + path + query
}

func (l LHTTPAddress) SaveBase(suffix string) (LHTTPAddress, bool) {
	n := BaseString(l.URI, suffix)
	if n == -1 {
		return LHTTPAddress{}, false
	}
	dup := l
	dup.URI = l.URI[:n]
	return dup, true
}

func (l LHTTPAddress) LoadBase(suffix string) (LHTTPAddress, bool) {
	dup := l
	dup.URI = l.URI + suffix
	return dup, true
}

func (l LHTTPAddress) Apply(relative string) (LHTTPAddress, bool) {
	if relative == "" {
		return l, true
	}
	if hasAuthority(relative) {
		return LHTTPAddress{}, false
	}
	dup := l
	dup.URI = Absolute(l.URI, relative)
	return dup, true
}

func (l LHTTPAddress) RelativeTo(base LHTTPAddress) string {
	if !l.isSameProgram(base) {
		return ""
	}
	rel, _ := Relative(base.URI, l.URI)
	return rel
}

func (l LHTTPAddress) RelativeToApplied(applyBase LHTTPAddress, relative string) string {
	if !l.isSameProgram(applyBase) {
		return ""
	}
	if relative != "" && hasAuthority(relative) {
		return ""
	}
	return Absolute(applyBase.URI, relative)
}

// hasAuthority reports whether s starts with "//" (a network-path
// reference), which uri_absolute()/ApplyUri() both refuse to merge into an
// existing local path.
func hasAuthority(s string) bool {
	return strings.HasPrefix(s, "//")
}
