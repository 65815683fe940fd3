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

// Package control is the control-plane server of §6: clients connect on a
// UNIX socket (conventionally the Linux abstract-namespace path
// "@bp-control") and send datagrams framed exactly like the translation
// protocol's length-prefixed records (package wireframe), one record per
// command.
package control

// Command is the control-plane protocol's record discriminator, covering
// every command §6 lists.
type Command uint16

const (
	CmdNop Command = iota + 1
	CmdTcacheInvalidate
	CmdVerbose
	CmdEnableNode
	CmdFadeNode
	CmdNodeStatus
	CmdFadeChildren
	CmdFlushFilterCache
	CmdDiscardSession
	CmdStopwatchPipe
	CmdStats
	CmdDumpPools
	CmdDisableZeroconf
	CmdEnableZeroconf
	CmdFlushNFSCache
)

// TcacheInvalidateKind is one (command, value) pair's key inside a
// TCACHE_INVALIDATE payload.
type TcacheInvalidateKind uint8

const (
	InvalidateURI TcacheInvalidateKind = iota + 1
	InvalidateSite
	InvalidateHost
	InvalidateLanguage
	InvalidateUserAgent
	InvalidateQueryString
	InvalidateRemoteHost
	InvalidateListenerTag
	InvalidateParam
	InvalidateUser
	InvalidateInternalRedirect
	InvalidateENOTDIR
	InvalidateSession
	InvalidateRealmSession
)
