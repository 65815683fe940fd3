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

// FileAddress describes a local, statically served file: the simplest
// backend, with no URI-rewriting support at all.
type FileAddress struct {
	Path string

	// ContentType overrides the served Content-Type.
	ContentType string

	// DocumentRoot anchors FastCGI/CGI-style PATH_TRANSLATED computations
	// for delegated static handlers; empty when not applicable.
	DocumentRoot string

	Expandable bool
}

func (f FileAddress) HasQueryString() bool { return false }
func (f FileAddress) IsExpandable() bool   { return f.Expandable }

// IsValidBase is always true: a file address has no base-relative state to
// invalidate.
func (f FileAddress) IsValidBase() bool { return true }

// SaveBase strips suffix from Path. A file address can be its own base only
// when Path itself ends with suffix.
func (f FileAddress) SaveBase(suffix string) (FileAddress, bool) {
	end, ok := FindUnescapedSuffix(f.Path, suffix)
	if !ok {
		return FileAddress{}, false
	}
	dup := f
	dup.Path = f.Path[:end]
	return dup, true
}

// LoadBase appends suffix to Path.
func (f FileAddress) LoadBase(suffix string) (FileAddress, bool) {
	dup := f
	dup.Path = f.Path + suffix
	return dup, true
}
