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
	"context"
	"net"

	"github.com/bprox/core/errors"
	"github.com/bprox/core/logger"
)

// Dialer opens one connection to the translation server; satisfied by
// net.Dialer.DialContext or a test double.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is the translation client of §G: one request/response exchange per
// Query call, each over its own short-lived connection (the translation
// server in the original implementation is a trivial local daemon this
// module treats as an external collaborator per §1 Non-goals, so pooling its
// connections is out of scope here).
type Client struct {
	dialer  Dialer
	network string
	address string
	log     logger.Level
}

// New builds a Client dialing address (typically a UNIX socket path) with d.
func New(d Dialer, network, address string, log logger.Level) *Client {
	return &Client{dialer: d, network: network, address: address, log: log}
}

// Query sends req and returns the parsed response, or ctx's error if it is
// cancelled before the exchange completes.
func (c *Client) Query(ctx context.Context, req Request) (*TranslateResponse, error) {
	conn, err := c.dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, errors.New(uint16(errors.MinPkgTranslate)+4, "translate: connect failed", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	done := make(chan struct{})
	var resp *TranslateResponse
	var qerr error

	go func() {
		defer close(done)
		if werr := req.Marshal(conn); werr != nil {
			qerr = werr
			return
		}
		resp, qerr = ParseResponse(conn)
	}()

	select {
	case <-done:
		return resp, qerr
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return nil, ctx.Err()
	}
}

type netDialer struct{ d net.Dialer }

// NewNetDialer adapts the standard net.Dialer to Dialer.
func NewNetDialer() Dialer { return &netDialer{} }

func (n *netDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return n.d.DialContext(ctx, network, address)
}
