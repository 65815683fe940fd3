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
	"github.com/bprox/core/errors"
)

// CgiAddress is the shared payload of the pipe/CGI/FastCGI/WAS variants:
// they differ only in how the proxy talks to the spawned child, not in how
// the address is built, cached or rewritten.
type CgiAddress struct {
	// Path is the executable to spawn; Action, when set, overrides Path
	// as the actual program run (e.g. an interpreter invoked on Path).
	Path   string
	Action string

	Args   []string
	Params []string

	Options childopt.Options

	Interpreter string

	URI          string
	ScriptName   string
	PathInfo     string
	QueryString  string
	DocumentRoot string

	// Addresses, when non-empty, names pre-spawned Remote-WAS/FastCGI
	// backends to dial instead of spawning a child process.
	Addresses []string

	// Parallelism caps concurrent child processes of this kind; zero
	// means unbounded.
	Parallelism int

	// Concurrency is the maximum number of concurrent requests per
	// Multi-WAS child instance; zero disables Multi-WAS.
	Concurrency int

	Disposable bool

	RequestURIVerbatim bool

	ExpandPath         bool
	ExpandURI          bool
	ExpandScriptName   bool
	ExpandPathInfo     bool
	ExpandDocumentRoot bool

	// cachedChildID memoizes ChildID() once IsChildExpandable() is
	// false, the way PostCacheStore does after a cache insert.
	cachedChildID    StringWithHash
	hasCachedChildID bool
}

// GetPathInfo returns PathInfo, or "" if unset - PathInfo is always
// comparable even when never assigned.
func (c CgiAddress) GetPathInfo() string { return c.PathInfo }

func hasTrailingSlash(s string) bool { return strings.HasSuffix(s, "/") }

// GetURI reconstructs REQUEST_URI from ScriptName/PathInfo/QueryString when
// URI itself was not given verbatim.
func (c CgiAddress) GetURI() string {
	if c.URI != "" {
		return c.URI
	}

	sn := c.ScriptName
	if sn == "" {
		sn = "/"
	}

	pi := c.PathInfo
	qs := c.QueryString
	qm := ""

	if pi == "" && qs == "" {
		return sn
	}
	if qs != "" {
		qm = "?"
	}

	if strings.HasPrefix(pi, "/") && hasTrailingSlash(sn) {
		pi = pi[1:]
	}

	return sn + pi + qm + qs
}

// IsChildExpandable reports whether the fields folded into ChildID can
// still change via Expand(), in which case the id must never be cached.
func (c CgiAddress) IsChildExpandable() bool {
	return c.Options.IsExpandable()
}

// IsExpandable reports whether any field of this address still needs
// Expand() before it can be used.
func (c CgiAddress) IsExpandable() bool {
	return c.Options.IsExpandable() ||
		c.ExpandPath || c.ExpandURI || c.ExpandScriptName ||
		c.ExpandPathInfo || c.ExpandDocumentRoot
}

func (c CgiAddress) HasQueryString() bool { return c.QueryString != "" }

// buildChildID folds the program identity (action or path), argv and env
// into a StringWithHash, the part of the id that depends only on what
// process gets spawned.
func (c CgiAddress) buildChildID() StringWithHash {
	hash := c.Options.Hash(0)

	b := strings.Builder{}
	program := c.Action
	if program == "" {
		program = c.Path
	}
	b.WriteString(program)
	hash = djb2(hash, []byte(program))

	for _, a := range c.Args {
		b.WriteString("!")
		b.WriteString(a)
		hash = djb2(hash, []byte(a))
	}

	for _, e := range c.Options.Env {
		b.WriteString("$")
		b.WriteString(e)
		hash = djb2(hash, []byte(e))
	}

	b.WriteString(c.Options.MakeID())

	return StringWithHash{Value: b.String(), Hash: hash}
}

// ChildID returns the stock key for the child process that would serve this
// address, using the cached value once PostCacheStore (see CacheStore) has
// populated it.
func (c CgiAddress) ChildID() StringWithHash {
	if c.hasCachedChildID {
		return c.cachedChildID
	}
	return c.buildChildID()
}

// PostCacheStore memoizes ChildID on a copy, the way the cache does right
// after inserting an entry whose child identity will never change again.
func (c CgiAddress) PostCacheStore() CgiAddress {
	if (c.Action != "" || !c.ExpandPath) && !c.IsChildExpandable() {
		dup := c
		dup.cachedChildID = c.buildChildID()
		dup.hasCachedChildID = true
		return dup
	}
	return c
}

// ID returns the full cache key: ChildID plus every per-request field that
// distinguishes one request to the same child from another.
func (c CgiAddress) ID() StringWithHash {
	id := c.ChildID()
	b := strings.Builder{}
	b.WriteString(id.Value)
	hash := id.Hash

	if c.Action != "" {
		b.WriteString(";p=")
		hash = djb2(hash, []byte(c.Path))
		b.WriteString(c.Path)
	}

	if c.DocumentRoot != "" {
		b.WriteString(";d=")
		b.WriteString(c.DocumentRoot)
	}

	if c.Interpreter != "" {
		b.WriteString(";i=")
		b.WriteString(c.Interpreter)
		hash = djb2(hash, []byte(c.Interpreter))
	}

	for _, p := range c.Params {
		b.WriteString("!")
		b.WriteString(p)
		hash = djb2(hash, []byte(p))
	}

	if c.URI != "" {
		b.WriteString(";u=")
		b.WriteString(c.URI)
		hash = djb2(hash, []byte(c.URI))
	} else if c.ScriptName != "" {
		b.WriteString(";s=")
		b.WriteString(c.ScriptName)
		hash = djb2(hash, []byte(c.ScriptName))
	}

	if c.PathInfo != "" {
		b.WriteString(";p=")
		b.WriteString(c.PathInfo)
		hash = djb2(hash, []byte(c.PathInfo))
	}

	if c.QueryString != "" {
		b.WriteString("?")
		b.WriteString(c.QueryString)
		hash = djb2(hash, []byte(c.QueryString))
	}

	return StringWithHash{Value: b.String(), Hash: hash}
}

// ErrMissingConcurrency, ErrTooManyAddresses and ErrRemoteWASRequiresLocal
// are the Check() failures for malformed Remote-WAS addresses.
var (
	ErrMissingConcurrency     = errors.New(uint16(errors.MinPkgResAddr)+2, "cgi: missing concurrency for remote WAS")
	ErrTooManyAddresses       = errors.New(uint16(errors.MinPkgResAddr)+3, "cgi: too many remote WAS addresses")
	ErrRemoteWASRequiresLocal = errors.New(uint16(errors.MinPkgResAddr)+4, "cgi: remote WAS requires an AF_LOCAL address")
)

// Check validates the invariants Check(is_was) enforces in the original: a
// Remote-WAS address (one with a pre-spawned backend list) must carry
// exactly one AF_LOCAL address and a non-zero Concurrency.
func (c CgiAddress) Check(isWAS bool) error {
	if isWAS && len(c.Addresses) > 0 {
		if c.Concurrency == 0 {
			return ErrMissingConcurrency
		}
		if len(c.Addresses) != 1 {
			return ErrTooManyAddresses
		}
		if !strings.HasPrefix(c.Addresses[0], "local:") {
			return ErrRemoteWASRequiresLocal
		}
	}
	return nil
}

func (c CgiAddress) IsSameProgram(o CgiAddress) bool { return c.Path == o.Path }

func (c CgiAddress) IsSameBase(o CgiAddress) bool {
	return c.IsSameProgram(o) && c.ScriptName == o.ScriptName
}

func (c *CgiAddress) InsertQueryString(qs string) {
	if c.QueryString != "" {
		c.QueryString = qs + "&" + c.QueryString
	} else {
		c.QueryString = qs
	}
}

func (c *CgiAddress) InsertArgs(args, pathInfo string) {
	if c.URI != "" {
		base, query := c.URI, ""
		if i := strings.IndexByte(c.URI, '?'); i >= 0 {
			base, query = c.URI[:i], c.URI[i:]
		}
		c.URI = base + ";" + args + pathInfo + query
	}
	if c.PathInfo != "" {
		c.PathInfo = c.PathInfo + ";" + args + pathInfo
	}
}

func (c CgiAddress) IsValidBase() bool {
	if c.IsExpandable() {
		return true
	}
	if c.PathInfo == "" {
		return c.ScriptName != "" && IsBase(c.ScriptName)
	}
	return IsBase(c.PathInfo)
}

// AutoBase derives an implicit cache base from requestURI and PathInfo,
// requiring script_name to already end in '/' or path_info to start with
// one (the leading slash is then dropped before matching).
func (c CgiAddress) AutoBase(requestURI string) (string, bool) {
	pi := c.GetPathInfo()

	if c.ScriptName == "" || !IsBase(c.ScriptName) {
		if !strings.HasPrefix(pi, "/") {
			return "", false
		}
		pi = pi[1:]
	}

	n := BaseString(requestURI, pi)
	if n <= 0 {
		return "", false
	}
	return requestURI[:n], true
}

func (c CgiAddress) SaveBase(suffix string) (CgiAddress, bool) {
	uriLen := -1
	if c.URI != "" {
		n, ok := FindUnescapedSuffix(c.URI, suffix)
		if !ok {
			return CgiAddress{}, false
		}
		uriLen = n
	}

	piEnd, ok := FindUnescapedSuffix(c.GetPathInfo(), suffix)
	if !ok {
		return CgiAddress{}, false
	}

	dup := c
	if uriLen >= 0 {
		dup.URI = c.URI[:uriLen]
	}
	dup.PathInfo = c.GetPathInfo()[:piEnd]
	return dup, true
}

func (c CgiAddress) LoadBase(suffix string) (CgiAddress, bool) {
	dup := c
	if c.URI != "" {
		dup.URI = c.URI + suffix
	}
	dup.PathInfo = c.GetPathInfo() + suffix
	return dup, true
}

// unescapeApplyPathInfo resolves relativeEscaped against basePathInfo,
// refusing "//authority" references the way UnescapeApplyPathInfo does.
func unescapeApplyPathInfo(basePathInfo, relativeEscaped string) (string, bool) {
	if relativeEscaped == "" {
		return basePathInfo, true
	}
	if hasAuthority(relativeEscaped) {
		return "", false
	}
	return Absolute(basePathInfo, relativeEscaped), true
}

func (c CgiAddress) Apply(relative string) (CgiAddress, bool) {
	newPathInfo, ok := unescapeApplyPathInfo(c.PathInfo, relative)
	if !ok {
		return CgiAddress{}, false
	}
	dup := c
	dup.PathInfo = newPathInfo
	return dup, true
}

func (c CgiAddress) RelativeTo(base CgiAddress) string {
	if !c.IsSameProgram(base) {
		return ""
	}
	if c.PathInfo == "" || base.PathInfo == "" {
		return ""
	}
	rel, _ := Relative(base.PathInfo, c.PathInfo)
	return rel
}

func (c CgiAddress) RelativeToApplied(applyBase CgiAddress, relative string) string {
	if !c.IsSameProgram(applyBase) {
		return ""
	}
	if c.PathInfo == "" {
		return ""
	}
	newPathInfo, ok := unescapeApplyPathInfo(applyBase.PathInfo, relative)
	if !ok {
		return ""
	}
	rel, _ := Relative(c.PathInfo, newPathInfo)
	return rel
}
