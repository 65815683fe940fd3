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

package control

import (
	"fmt"
	"sync"

	"github.com/bprox/core/cluster"
	"github.com/bprox/core/errors"
)

// ErrUnknownNode is returned by FadeNode/EnableNode for a name this
// membership table has never heard NODE_STATUS or the LB/Zeroconf layer
// register - the control command still fails cleanly rather than silently
// creating the name.
var ErrUnknownNode = errors.New(uint16(errors.MinPkgControl)+2, "control: unknown node")

// NodeMembership implements the ENABLE_NODE/FADE_NODE/NODE_STATUS slice of
// Handlers. §6 calls these "cluster-member ops" but the names are plain
// strings (Zeroconf service names or LB backend labels), not the
// (clusterID, nodeID uint64) pairs a raft Cluster addresses its members by
// - the two are different membership concepts that happen to share the word
// "node" (see DESIGN.md's Open Question on this). A NodeMembership tracks
// fade state for the string-addressed members itself and, when it is given
// a raft cluster.Cluster handle, decorates NODE_STATUS with that NodeHost's
// own identity so an operator can correlate the two namespaces.
type NodeMembership struct {
	mu    sync.Mutex
	known map[string]bool // name -> faded
	local cluster.Cluster // optional; nil when this instance runs no raft membership
}

// NewNodeMembership returns an empty membership table. local may be nil.
func NewNodeMembership(local cluster.Cluster) *NodeMembership {
	return &NodeMembership{known: make(map[string]bool), local: local}
}

// Register adds name as a known member, defaulting to enabled. Called by
// the (out-of-scope) Zeroconf/LB glue whenever a backend is discovered;
// NODE_STATUS and FADE_NODE only accept names that went through Register.
func (n *NodeMembership) Register(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.known[name]; !ok {
		n.known[name] = false
	}
}

// EnableNode clears a prior fade.
func (n *NodeMembership) EnableNode(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.known[name]; !ok {
		return ErrUnknownNode
	}
	n.known[name] = false
	return nil
}

// FadeNode marks name so the LB/Zeroconf glue stops choosing it.
func (n *NodeMembership) FadeNode(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.known[name]; !ok {
		return ErrUnknownNode
	}
	n.known[name] = true
	return nil
}

// NodeStatus answers the CONTROL_NODE_STATUS query: "name NUL status" per
// §6, with the status payload built here (the server attaches the NUL).
func (n *NodeMembership) NodeStatus(name string) string {
	n.mu.Lock()
	faded, ok := n.known[name]
	n.mu.Unlock()

	if !ok {
		return "unknown"
	}

	status := "up"
	if faded {
		status = "faded"
	}
	if n.local != nil {
		status = fmt.Sprintf("%s raft=%s@%s", status, n.local.ID(), n.local.RaftAddress())
	}
	return status
}
