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

// Package spawn implements the privilege-separated spawner protocol: a
// single-writer AF_LOCAL/SOCK_SEQPACKET datagram channel between the main
// process and a sandboxing sidecar, carrying length-implicit typed records
// plus ancillary file descriptors.
package spawn

// RequestCommand is byte 0 of every datagram sent to the spawner.
type RequestCommand uint8

const (
	ReqConnect RequestCommand = iota
	ReqExec
	ReqKill
)

// ExecCommand tags each sub-record of a ReqExec payload.
type ExecCommand uint8

const (
	ExecArg ExecCommand = iota
	ExecSetenv
	ExecStdin
	ExecStdout
	ExecStderr
	ExecControl
	ExecRefence
	ExecUserNS
	ExecPIDNS
	ExecNetworkNS
	ExecIPCNS
	ExecMountNS
	ExecMountProc
	ExecPivotRoot
	ExecMountHome
	ExecMountTmpTmpfs
	ExecMountTmpfs
	ExecBindMount
	ExecHostname
	ExecRlimit
	ExecUidGid
	ExecNoNewPrivs
	ExecCgroup
	ExecCgroupSet
	ExecPriority
	ExecChroot
)

// ResponseCommand is byte 0 of every datagram sent back by the spawner.
type ResponseCommand uint8

const ResExit ResponseCommand = 0x00

// MaxDatagram is the largest payload a single send/recv may carry, per the
// wire protocol's fixed limit.
const MaxDatagram = 65536

// MaxFDs bounds the ancillary file descriptors carried by SCM_RIGHTS on one
// datagram: stdin, stdout, stderr, control, plus headroom.
const MaxFDs = 8
