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

// Package resaddr implements the resource-address value and its algebra: the
// tagged sum of backend descriptions produced by the translation server, and
// the pure operations the cache and the URL rewriter use to derive cache
// keys, match a request against a base, and rewrite path/query/args.
//
// Every operation here is pure - no I/O, no shared mutable state - so the
// same ResourceAddress value can be safely reused across requests and
// goroutines.
package resaddr

import (
	"github.com/bprox/core/childopt"
	"github.com/bprox/core/errors"
)

// Kind is the tag of the ResourceAddress sum.
type Kind uint8

const (
	KindNone Kind = iota
	KindLocal
	KindHTTP
	KindLHTTP
	KindPipe
	KindCGI
	KindFastCGI
	KindWAS
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLocal:
		return "local"
	case KindHTTP:
		return "http"
	case KindLHTTP:
		return "lhttp"
	case KindPipe:
		return "pipe"
	case KindCGI:
		return "cgi"
	case KindFastCGI:
		return "fastcgi"
	case KindWAS:
		return "was"
	default:
		return "unknown"
	}
}

// isCgiFamily reports whether k is one of pipe/cgi/fastcgi/was, which all
// share the CgiAddress payload and its operations.
func (k Kind) isCgiFamily() bool {
	return k == KindPipe || k == KindCGI || k == KindFastCGI || k == KindWAS
}

// Address is the tagged sum {None, Local, Http, Lhttp, Pipe, Cgi, Fastcgi,
// Was}. Only the field matching Kind is meaningful; the others are the zero
// value. Values are immutable by convention - every transformation below
// returns a new Address rather than mutating the receiver.
type Address struct {
	Kind Kind

	File  FileAddress
	HTTP  HTTPAddress
	LHTTP LHTTPAddress
	CGI   CgiAddress
}

// IsDefined reports whether the address carries a real backend. A
// successfully completed translation must never leave a request with
// IsDefined() == false.
func (a Address) IsDefined() bool {
	return a.Kind != KindNone
}

// None is the zero address.
var None = Address{Kind: KindNone}

func NewLocal(f FileAddress) Address   { return Address{Kind: KindLocal, File: f} }
func NewHTTP(h HTTPAddress) Address    { return Address{Kind: KindHTTP, HTTP: h} }
func NewLHTTP(l LHTTPAddress) Address  { return Address{Kind: KindLHTTP, LHTTP: l} }
func NewPipe(c CgiAddress) Address     { return Address{Kind: KindPipe, CGI: c} }
func NewCGI(c CgiAddress) Address      { return Address{Kind: KindCGI, CGI: c} }
func NewFastCGI(c CgiAddress) Address  { return Address{Kind: KindFastCGI, CGI: c} }
func NewWAS(c CgiAddress) Address      { return Address{Kind: KindWAS, CGI: c} }

// WithPath returns a copy with the URI path replaced, for the variants that
// carry one (Http, Lhttp). Any other variant is a programming error: the
// translation dispatcher must never call WithPath on a file/pipe/cgi
// address, mirroring the unreachable() branch in the source.
func (a Address) WithPath(path string) Address {
	switch a.Kind {
	case KindHTTP:
		h := a.HTTP
		h.Path = path
		return NewHTTP(h)
	case KindLHTTP:
		l := a.LHTTP
		l.URI = path
		return NewLHTTP(l)
	default:
		panic("resaddr: WithPath called on a variant without a URI path: " + a.Kind.String())
	}
}

// WithQueryStringFrom parses the query component out of uri and splices it
// into the address, for variants that support one. File/pipe are a no-op.
func (a Address) WithQueryStringFrom(uri string) Address {
	qs, ok := uriQuery(uri)

	switch a.Kind {
	case KindNone, KindLocal, KindPipe:
		return a

	case KindHTTP:
		if !ok {
			return a
		}
		h := a.HTTP
		h.InsertQueryString(qs)
		return NewHTTP(h)

	case KindLHTTP:
		if !ok {
			return a
		}
		l := a.LHTTP
		l.InsertQueryString(qs)
		return NewLHTTP(l)

	case KindCGI, KindFastCGI, KindWAS:
		if !ok {
			return a
		}
		c := a.CGI
		c.InsertQueryString(qs)
		return Address{Kind: a.Kind, CGI: c}

	default:
		return a
	}
}

// WithArgs inserts ";args/path" into the URI-bearing field of the address,
// for path-bearing variants and CGI-family addresses with a uri or
// path-info. File/pipe are a no-op.
func (a Address) WithArgs(args, path string) Address {
	switch a.Kind {
	case KindHTTP:
		h := a.HTTP
		h.InsertArgs(args, path)
		return NewHTTP(h)

	case KindLHTTP:
		l := a.LHTTP
		l.InsertArgs(args, path)
		return NewLHTTP(l)

	case KindCGI, KindFastCGI, KindWAS:
		if a.CGI.URI == "" && a.CGI.PathInfo == "" {
			return a
		}
		c := a.CGI
		c.InsertArgs(args, path)
		return Address{Kind: a.Kind, CGI: c}

	default:
		return a
	}
}

// AutoBase is only defined for CGI-family addresses: it returns a prefix of
// uri usable as an implicit base, or ("", false) if none applies.
func (a Address) AutoBase(uri string) (string, bool) {
	if !a.Kind.isCgiFamily() {
		return "", false
	}
	return a.CGI.AutoBase(uri)
}

// SaveBase returns a copy with suffix stripped from whichever field holds it
// (uri, path, path_info depending on variant). ok is false if no
// variant-appropriate field ends with suffix.
func (a Address) SaveBase(suffix string) (Address, bool) {
	switch a.Kind {
	case KindNone, KindPipe:
		return None, false

	case KindCGI, KindFastCGI, KindWAS:
		c, ok := a.CGI.SaveBase(suffix)
		if !ok {
			return None, false
		}
		return Address{Kind: a.Kind, CGI: c}, true

	case KindLocal:
		f, ok := a.File.SaveBase(suffix)
		if !ok {
			return None, false
		}
		return NewLocal(f), true

	case KindHTTP:
		h, ok := a.HTTP.SaveBase(suffix)
		if !ok {
			return None, false
		}
		return NewHTTP(h), true

	case KindLHTTP:
		l, ok := a.LHTTP.SaveBase(suffix)
		if !ok {
			return None, false
		}
		return NewLHTTP(l), true

	default:
		return None, false
	}
}

// LoadBase is the inverse of SaveBase: it appends the unescaped suffix to
// the base-holding field. ok is false if unescaping fails or the variant has
// no such field.
func (a Address) LoadBase(suffix string) (Address, bool) {
	switch a.Kind {
	case KindCGI, KindFastCGI, KindWAS:
		c, ok := a.CGI.LoadBase(suffix)
		if !ok {
			return None, false
		}
		return Address{Kind: a.Kind, CGI: c}, true

	case KindLocal:
		f, ok := a.File.LoadBase(suffix)
		if !ok {
			return None, false
		}
		return NewLocal(f), true

	case KindHTTP:
		h, ok := a.HTTP.LoadBase(suffix)
		if !ok {
			return None, false
		}
		return NewHTTP(h), true

	case KindLHTTP:
		l, ok := a.LHTTP.LoadBase(suffix)
		if !ok {
			return None, false
		}
		return NewLHTTP(l), true

	default:
		return None, false
	}
}

// ErrBaseMismatch surfaces as 502 BAD_GATEWAY to the HTTP front-end: the
// translation server's BASE packet does not prefix the request URI.
var ErrBaseMismatch = errors.New(uint16(errors.MinPkgResAddr), "base mismatch: uri does not start with the translated base")

// CacheStore implements the cache's save path: given the freshly translated
// src address, the request uri and the BASE the translation server
// announced, decide what to actually keep in the cache entry.
//
//   - base == "": copy src unchanged.
//   - base set, easyBase or expandable: copy src unchanged (the tail is not
//     stripped because future requests will re-expand/re-translate anyway).
//   - base set, otherwise: replace self with src.SaveBase(tail); a "None" src
//     is allowed through unchanged as a documented special case.
//
// Returns ErrBaseMismatch when the uri does not fit base, or when SaveBase
// fails on a defined src.
func CacheStore(src Address, uri, base string, easyBase, expandable bool) (Address, error) {
	if base == "" {
		return src, nil
	}

	tail, ok := BaseTail(uri, base)
	if !ok {
		return None, ErrBaseMismatch
	}

	if easyBase || expandable {
		return src, nil
	}

	if src.Kind == KindNone {
		return None, nil
	}

	saved, ok := src.SaveBase(tail)
	if !ok {
		return None, ErrBaseMismatch
	}
	return saved, nil
}

// ErrMalformedURI surfaces as 400 BAD_REQUEST: the normalized tail failed the
// paranoid path check.
var ErrMalformedURI = errors.New(uint16(errors.MinPkgResAddr)+1, "malformed uri: base tail does not normalize to a safe path")

// CacheLoad implements the cache's load path, the inverse of CacheStore: it
// reconstructs a full address from the cached src (possibly base-relative)
// given the request's own uri and the cached base.
func CacheLoad(src Address, uri, base string, unsafeBase, expandable bool) (Address, error) {
	if base == "" || expandable {
		return src, nil
	}

	tail := RequireBaseTail(uri, base)
	for len(tail) > 0 && tail[0] == '/' {
		tail = tail[1:]
	}

	normalized, ok := Compress(tail)
	if !ok {
		return None, ErrMalformedURI
	}

	if !unsafeBase && !paranoidVerify(normalized) {
		return None, ErrMalformedURI
	}

	if src.Kind == KindNone {
		return None, nil
	}

	loaded, ok := src.LoadBase(normalized)
	if !ok {
		return src, nil
	}
	return loaded, nil
}

// paranoidVerify rejects normalized paths containing NUL bytes or a leading
// "/" escape that would otherwise be indistinguishable from an absolute
// filesystem path once concatenated with a base directory.
func paranoidVerify(p string) bool {
	if len(p) > 0 && p[0] == '/' {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] == 0 {
			return false
		}
	}
	return true
}

// Apply applies RFC-3986 relative resolution to the URI-bearing field.
// None/File/Pipe are the identity.
func (a Address) Apply(relative string) (Address, bool) {
	if relative == "" {
		return a, true
	}

	switch a.Kind {
	case KindNone:
		return None, false

	case KindLocal, KindPipe:
		return a, true

	case KindHTTP:
		h, ok := a.HTTP.Apply(relative)
		if !ok {
			return None, false
		}
		return NewHTTP(h), true

	case KindLHTTP:
		l, ok := a.LHTTP.Apply(relative)
		if !ok {
			return None, false
		}
		return NewLHTTP(l), true

	case KindCGI, KindFastCGI, KindWAS:
		c, ok := a.CGI.Apply(relative)
		if !ok {
			return None, false
		}
		return Address{Kind: a.Kind, CGI: c}, true

	default:
		return None, false
	}
}

// RelativeTo computes the relative reference of a against base, which must
// be of the same Kind. Returns "" when the two addresses are not comparable
// (e.g. different host or different program).
func (a Address) RelativeTo(base Address) string {
	if base.Kind != a.Kind {
		return ""
	}

	switch a.Kind {
	case KindHTTP:
		return a.HTTP.RelativeTo(base.HTTP)
	case KindLHTTP:
		return a.LHTTP.RelativeTo(base.LHTTP)
	case KindCGI, KindFastCGI, KindWAS:
		return a.CGI.RelativeTo(base.CGI)
	default:
		return ""
	}
}

// RelativeToApplied computes RelativeTo after first applying rel to
// applyBase, letting callers fold a rewrite and the inverse computation into
// one call the way LHTTP/CGI addresses do natively (HTTP/None/Local fall
// back to Apply-then-RelativeTo).
func (a Address) RelativeToApplied(applyBase Address, rel string) string {
	if applyBase.Kind != a.Kind {
		return ""
	}

	switch a.Kind {
	case KindLHTTP:
		return a.LHTTP.RelativeToApplied(applyBase.LHTTP, rel)
	case KindCGI, KindFastCGI, KindWAS:
		return a.CGI.RelativeToApplied(applyBase.CGI, rel)
	default:
		applied, ok := applyBase.Apply(rel)
		if !ok || !applied.IsDefined() {
			return ""
		}
		return applied.RelativeTo(a)
	}
}

// ID returns a stable (string, hash) pair identifying this address for cache
// keying. File addresses key on the path; http/lhttp on the absolute URI;
// cgi-family addresses on ChildID plus the per-request fields (§4.6.1).
func (a Address) ID() StringWithHash {
	switch a.Kind {
	case KindNone:
		return StringWithHash{}

	case KindLocal:
		return StringWithHash{Value: a.File.Path}

	case KindHTTP:
		return StringWithHash{Value: a.HTTP.AbsoluteURI()}

	case KindLHTTP:
		return a.LHTTP.ID()

	case KindPipe, KindCGI, KindFastCGI, KindWAS:
		return a.CGI.ID()

	default:
		return StringWithHash{}
	}
}

// StringWithHash is a cheap cache key: a canonical diagnostic string plus its
// rolling hash, computed once and compared by both fields.
type StringWithHash struct {
	Value string
	Hash  uint64
}

// Equal compares two StringWithHash values field-by-field, matching the
// testable property that equal ChildKeys produce equal first components.
func (s StringWithHash) Equal(o StringWithHash) bool {
	return s.Hash == o.Hash && s.Value == o.Value
}

func uriQuery(uri string) (string, bool) {
	for i := 0; i < len(uri); i++ {
		if uri[i] == '?' {
			return uri[i+1:], true
		}
	}
	return "", false
}

// childOptionsHash exposes childopt.Options.Hash to this package's ID
// builders without creating an import cycle back from childopt.
func childOptionsHash(o childopt.Options, seed uint64) uint64 {
	return o.Hash(seed)
}

// djb2 is the same incremental djb_hash used by childopt.Options.Hash,
// reimplemented here so CgiAddress/LHTTPAddress can fold individual
// argv/uri fields into a StringWithHash without exporting childopt's
// internal hash helper.
func djb2(h uint64, data []byte) uint64 {
	if h == 0 {
		h = 5381
	}
	for _, b := range data {
		h = ((h << 5) + h) + uint64(b)
	}
	return h
}
