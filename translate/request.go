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

package translate

import (
	"io"

	"github.com/bprox/core/wireframe"
)

// ProtocolVersion is the BEGIN payload the client advertises; the server
// may reply with a different (lower) version in its own BEGIN echo, which
// this client does not currently negotiate down from.
const ProtocolVersion = 1

// Request is the descriptor the external HTTP front-end hands the
// translation client on a miss, per §G's "marshals the request descriptor".
type Request struct {
	URI         string
	Host        string
	ListenerTag string
	RemoteHost  string
	UserAgent   string
	QueryString string
	Params      []string
}

func writeString(w *wireframe.Writer, cmd Command, v string) error {
	if v == "" {
		return nil
	}
	return w.Write(uint16(cmd), []byte(v))
}

// Marshal writes BEGIN, the populated request fields, then END.
func (r Request) Marshal(w io.Writer) error {
	fw := wireframe.NewWriter(w)

	if err := fw.Write(uint16(CmdBegin), []byte{ProtocolVersion}); err != nil {
		return err
	}
	if err := writeString(fw, CmdURI, r.URI); err != nil {
		return err
	}
	if err := writeString(fw, CmdHost, r.Host); err != nil {
		return err
	}
	if err := writeString(fw, CmdListenerTag, r.ListenerTag); err != nil {
		return err
	}
	if err := writeString(fw, CmdRemoteHost, r.RemoteHost); err != nil {
		return err
	}
	if err := writeString(fw, CmdUserAgent, r.UserAgent); err != nil {
		return err
	}
	if err := writeString(fw, CmdQueryString, r.QueryString); err != nil {
		return err
	}
	for _, p := range r.Params {
		if err := fw.Write(uint16(CmdParam), []byte(p)); err != nil {
			return err
		}
	}
	return fw.WriteEmpty(uint16(CmdEnd))
}
