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

// IsBase reports whether s is a valid base URI, i.e. ends with a slash.
func IsBase(s string) bool {
	return strings.HasSuffix(s, "/")
}

// BaseTail returns the remainder of uri after base, or ("", false) if base is
// not a valid base or uri does not start with it.
func BaseTail(uri, base string) (string, bool) {
	if !IsBase(base) {
		return "", false
	}
	if !strings.HasPrefix(uri, base) {
		return "", false
	}
	return uri[len(base):], true
}

// RequireBaseTail is BaseTail for callers that have already established the
// match holds (e.g. after a successful cache lookup); it never fails.
func RequireBaseTail(uri, base string) string {
	return uri[len(base):]
}

// BaseString returns the length of the prefix of uri such that uri ends with
// tail and the byte before that suffix is '/'. It mirrors base_string(): when
// uri and tail have equal length, the only match is exact equality, returning
// 0. Returns -1 when no such prefix exists.
func BaseString(uri, tail string) int {
	if len(uri) == len(tail) {
		if uri == tail {
			return 0
		}
		return -1
	}

	if len(uri) > len(tail) &&
		uri[len(uri)-len(tail)-1] == '/' &&
		strings.HasSuffix(uri, tail) {
		return len(uri) - len(tail)
	}
	return -1
}

// FindUnescapedSuffix walks uri and escapedSuffix backward, comparing uri's
// raw bytes against escapedSuffix after %HH-decoding each of its characters.
// It returns the index in uri where the unescaped suffix begins, and false if
// uri is too short, the suffix is malformed, or no match exists.
func FindUnescapedSuffix(uri, escapedSuffix string) (int, bool) {
	ui := len(uri)
	si := len(escapedSuffix)

	for {
		if si == 0 {
			return ui, true
		}
		if ui == 0 {
			return 0, false
		}

		ui--
		si--
		ch := escapedSuffix[si]

		if ch == '%' {
			return 0, false
		}

		if si >= 2 && escapedSuffix[si-2] == '%' {
			d1, ok1 := hexDigit(ch)
			if !ok1 {
				return 0, false
			}
			si--
			d2, ok2 := hexDigit(escapedSuffix[si])
			if !ok2 {
				return 0, false
			}
			si--
			ch = byte(d2<<4 | d1)
		}

		if uri[ui] != ch {
			return 0, false
		}
	}
}

func hexDigit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

// Compress eliminates "//", "/./" and "/.." segments from uri with
// backtracking, the way uri_compress() does. It returns ("", false) when a
// ".." would climb above the root. A canonical input is returned unchanged
// (and, per the pure-string contract, callers may rely on ok==true and
// result==uri to mean "nothing to do").
func Compress(uri string) (string, bool) {
	for strings.HasPrefix(uri, "./") {
		uri = uri[2:]
	}

	if uri == "." {
		return "", true
	}

	if strings.HasPrefix(uri, "..") && (len(uri) == 2 || uri[2] == '/') {
		return "", false
	}

	if !strings.Contains(uri, "//") && !strings.Contains(uri, "/./") && !strings.Contains(uri, "/..") {
		return uri, true
	}

	dest := []byte(uri)

	for {
		i := indexBytes(dest, "//")
		if i < 0 {
			break
		}
		dest = append(dest[:i+1], dest[i+2:]...)
	}

	for {
		i := indexBytes(dest, "/./")
		if i < 0 {
			break
		}
		dest = append(dest[:i+1], dest[i+3:]...)
	}

	for {
		i := indexBytes(dest, "/../")
		if i < 0 {
			break
		}
		if i == 0 {
			return "", false
		}
		q := i - 1
		for q >= 0 && dest[q] != '/' {
			q--
		}
		dest = append(dest[:q+1], dest[i+4:]...)
	}

	if idx := strings.LastIndexByte(string(dest), '/'); idx >= 0 {
		rest := string(dest[idx:])
		switch {
		case rest == "/.":
			dest = dest[:idx+1]
		case rest == "/..":
			if idx == 0 {
				return "", false
			}
			dest = dest[:idx]
			idx2 := strings.LastIndexByte(string(dest), '/')
			if idx2 < 0 {
				return "", true
			}
			dest = dest[:idx2+1]
		}
	}

	if string(dest) == "." {
		return "", true
	}

	return string(dest), true
}

func indexBytes(b []byte, sub string) int {
	return strings.Index(string(b), sub)
}

// Absolute resolves rel against base following the same ad-hoc subset of
// RFC-3986 reference resolution as uri_absolute(): scheme-qualified and
// "//authority" references are returned verbatim, absolute paths replace the
// base's path, a leading "?" keeps the base's path and swaps the query, and
// anything else is resolved relative to the base's last path segment.
func Absolute(base, rel string) string {
	if rel == "" {
		return base
	}

	if hasScheme(rel) {
		return rel
	}

	var baseLen int
	switch {
	case strings.HasPrefix(rel, "//"):
		if i := strings.Index(base, "://"); i >= 0 {
			baseLen = i + 1
		} else {
			baseLen = 0
		}

	case strings.HasPrefix(rel, "/"):
		if strings.HasPrefix(base, "/") && !strings.HasPrefix(base, "//") {
			return rel
		}

		bp, ok := pathPart(base)
		if !ok {
			return base + rel
		}
		baseLen = bp

	case strings.HasPrefix(rel, "?"):
		if i := strings.IndexByte(base, '?'); i >= 0 {
			baseLen = i
		} else {
			baseLen = len(base)
		}

	default:
		if i := strings.LastIndexByte(afterLastSlashBase(base), '/'); i >= 0 {
			baseLen = i + 1
		} else {
			return base + "/" + rel
		}
	}

	return base[:baseLen] + rel
}

func afterLastSlashBase(base string) string {
	p, ok := pathPart(base)
	if !ok {
		return base
	}
	return base[p:]
}

// pathPart returns the offset of the path component within an absolute URI
// (after "scheme://authority"), or false if base has no discernible path
// boundary (e.g. it has no scheme).
func pathPart(base string) (int, bool) {
	i := strings.Index(base, "://")
	if i < 0 {
		return 0, false
	}
	rest := base[i+3:]
	j := strings.IndexByte(rest, '/')
	if j < 0 {
		return len(base), true
	}
	return i + 3 + j, true
}

func hasScheme(s string) bool {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return false
	}
	for _, c := range s[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

// Relative returns the suffix of uri after base when base is a literal
// prefix, with one special case: "http://host" (no trailing slash) relative
// to base "http://host/" yields "". Returns ("", false) when uri is not
// reachable from base.
func Relative(base, uri string) (string, bool) {
	if base == "" || uri == "" {
		return "", false
	}

	if strings.HasPrefix(uri, base) {
		return uri[len(base):], true
	}

	if len(uri) == len(base)-1 && strings.HasPrefix(base, uri) &&
		strings.HasSuffix(base, "/") && hasScheme(uri) &&
		!strings.Contains(afterScheme(uri), "/") {
		return "", true
	}

	return "", false
}

func afterScheme(s string) string {
	i := strings.Index(s, "://")
	if i < 0 {
		return s
	}
	return s[i+3:]
}
