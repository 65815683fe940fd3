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

import "strings"

// HTTPAddress describes a remote HTTP/1.1 or HTTP/2 backend: one or more
// socket addresses (or a host_and_port to resolve/balance across), a scheme,
// and a URI path+query.
type HTTPAddress struct {
	// Addresses is a non-empty list of dial targets when the backend was
	// resolved ahead of time (static cluster members).
	Addresses []string

	// HostAndPort names the backend when resolution happens later
	// (DNS/zeroconf), mutually exclusive in practice with Addresses.
	HostAndPort string

	HTTPS bool
	Host  string
	Path  string

	Expandable bool
}

// Scheme returns "https" or "http".
func (h HTTPAddress) Scheme() string {
	if h.HTTPS {
		return "https"
	}
	return "http"
}

// AbsoluteURI renders scheme://host-and-authority + path, the value used as
// the HTTP/LHTTP cache id.
func (h HTTPAddress) AbsoluteURI() string {
	authority := h.HostAndPort
	if authority == "" && h.Host != "" {
		authority = h.Host
	}
	return h.Scheme() + "://" + authority + h.Path
}

func (h HTTPAddress) HasQueryString() bool {
	return strings.Contains(h.Path, "?")
}

func (h HTTPAddress) IsExpandable() bool { return h.Expandable }

// IsValidBase reports whether Path ends with '/', the precondition for using
// this address as a cache base.
func (h HTTPAddress) IsValidBase() bool { return IsBase(h.Path) }

// InsertQueryString splices qs into Path, mutating the receiver's copy.
func (h *HTTPAddress) InsertQueryString(qs string) {
	if i := strings.IndexByte(h.Path, '?'); i >= 0 {
		h.Path = h.Path[:i] + "?" + qs + "&" + h.Path[i+1:]
	} else {
		h.Path = h.Path + "?" + qs
	}
}

// InsertArgs inserts ";args/path" ahead of any query string in Path.
func (h *HTTPAddress) InsertArgs(args, path string) {
	query := ""
	base := h.Path
	if i := strings.IndexByte(h.Path, '?'); i >= 0 {
		base = h.Path[:i]
		query = h.Path[i:]
	}
	h.Path = base + ";" + args + path + query
}

func (h HTTPAddress) SaveBase(suffix string) (HTTPAddress, bool) {
	end, ok := FindUnescapedSuffix(h.Path, suffix)
	if !ok {
		return HTTPAddress{}, false
	}
	dup := h
	dup.Path = h.Path[:end]
	return dup, true
}

func (h HTTPAddress) LoadBase(suffix string) (HTTPAddress, bool) {
	dup := h
	dup.Path = h.Path + suffix
	return dup, true
}

func (h HTTPAddress) Apply(relative string) (HTTPAddress, bool) {
	dup := h
	dup.Path = Absolute(h.AbsoluteURI(), relative)
	if i := strings.Index(dup.Path, "://"); i >= 0 {
		if j := strings.IndexByte(dup.Path[i+3:], '/'); j >= 0 {
			dup.Path = dup.Path[i+3+j:]
		} else {
			dup.Path = ""
		}
	}
	return dup, true
}

func (h HTTPAddress) RelativeTo(base HTTPAddress) string {
	rel, _ := Relative(base.AbsoluteURI(), h.AbsoluteURI())
	return rel
}
