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

// Package translate is the translation client of §G: it marshals a request
// descriptor to the translation server over wireframe's length-prefixed
// records and parses the typed response stream into a TranslateResponse the
// dispatcher can hand straight to a stock.Key / resaddr.Address pair.
package translate

// Command is the translation protocol's record discriminator. Only the
// subset §6 calls out as "responses the core must parse" is implemented;
// everything else is tolerated and skipped (see Cursor handling in
// response.go), matching "unknown commands are tolerated and ignored".
type Command uint16

const (
	CmdBegin Command = iota + 1
	CmdEnd

	// Request-side fields.
	CmdURI
	CmdHost
	CmdListenerTag
	CmdRemoteHost
	CmdUserAgent
	CmdQueryString
	CmdParam

	// Response-side fields.
	CmdStatus
	CmdExecute
	CmdArg
	CmdChildOptions
	CmdMountListenStream

	// Resource-address kinds.
	CmdPath
	CmdAction
	CmdScriptName
	CmdPathInfo
	CmdDocumentRoot
	CmdInterpreter
	CmdAddressHTTP
	CmdAddressLHTTP
	CmdAddressCGI
	CmdAddressFastCGI
	CmdAddressWAS
	CmdAddressPipe
	CmdHostAndPort
	CmdHTTPS
	CmdParallelism
	CmdConcurrency

	// Nested CHILD_OPTIONS sub-fields, valid only between a CHILD_OPTIONS
	// record and the next record that is not one of these.
	CmdEnv
	CmdRlimit
	CmdUserNS
	CmdPIDNS
	CmdNetworkNS
	CmdIPCNS
	CmdMountNS
	CmdMountProc
	CmdPivotRoot
	CmdMountHome
	CmdMountTmpTmpfs
	CmdMountTmpfs
	CmdBindMount
	CmdHostname
	CmdUidGid
	CmdNoNewPrivs
	CmdCgroup
	CmdCgroupSet
	CmdPriority
	CmdChroot
	CmdRefence
)

func (c Command) isChildOptionField() bool {
	return c >= CmdEnv && c <= CmdRefence
}
