/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package gateway holds the per-connection Context that every handler
// mutates cooperatively, and the Handler Module ABI each authentication
// check implements against it.
package gateway

import (
	"net"
	"sync"

	"github.com/authgate/authgate/framework/log"
)

// Disposition is the composite verdict the Engine returns to the MTA
// at end-of-message. It only ever moves toward strictness within one
// message (Continue -> {Reject, Tempfail, Quarantine, Discard}),
// enforced by the Set* setters below.
type Disposition int

const (
	Continue Disposition = iota
	Accept
	Quarantine
	Discard
	Tempfail
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case Quarantine:
		return "quarantine"
	case Discard:
		return "discard"
	case Tempfail:
		return "tempfail"
	case Reject:
		return "reject"
	default:
		return "continue"
	}
}

// strictness ranks Reject over Tempfail over Quarantine over Discard
// over Accept over Continue, so disposition only ratchets upward.
func (d Disposition) strictness() int {
	switch d {
	case Reject:
		return 5
	case Tempfail:
		return 4
	case Quarantine:
		return 3
	case Discard:
		return 2
	case Accept:
		return 1
	default:
		return 0
	}
}

// Fragment is one entry destined for the Authentication-Results
// header: method=result plus an ordered list of key=value properties
// and an optional free-text comment.
type Fragment struct {
	Method     string
	Result     string
	Comment    string
	Properties []Property

	// CommentOnly marks an auxiliary fragment (add_c_auth_header) that
	// is informational and never folded into the canonical
	// Authentication-Results line.
	CommentOnly bool
}

type Property struct {
	Key, Value string
}

// Context is constructed once per accepted connection, mutated only
// from within a handler's own callback (dispatch is strictly
// sequential, see internal/pipeline), and destroyed at connection
// close.
type Context struct {
	ClientIP    net.IP
	ClientRDNS  string
	VerifiedPTR bool
	HeloName    string

	IsLocalIPAddress   bool
	IsTrustedIPAddress bool
	IsAuthenticated    bool

	EnvelopeFrom string
	EnvelopeRcpt []string

	QueueID string

	ExitOnClose      bool
	ExitOnCloseError bool

	disposition Disposition
	dispReason  string

	mu              sync.Mutex
	handlerState    map[string]interface{}
	resultFragments []Fragment

	Log log.Logger
}

// NewContext constructs a Context for a freshly accepted connection.
func NewContext(clientIP net.IP, logger log.Logger) *Context {
	return &Context{
		ClientIP:     clientIP,
		handlerState: make(map[string]interface{}),
		Log:          logger,
	}
}

// WithQueueID records the MTA-assigned queue id and correlates the
// context's log lines to it, per spec.md §4.C.
func (c *Context) WithQueueID(queueID string) {
	c.QueueID = queueID
	c.Log = c.Log.WithQueueID(queueID)
}

// State returns the handler's private per-message scratch slot, or nil
// if the handler has not stored one with SetState.
func (c *Context) State(handler string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlerState[handler]
}

// SetState stores v as handler's private per-message scratch slot.
func (c *Context) SetState(handler string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerState[handler] = v
}

// AddAuthHeader appends f to the ordered, append-only fragment list
// that Results assembles into Authentication-Results at eom.
func (c *Context) AddAuthHeader(f Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultFragments = append(c.resultFragments, f)
}

// AddCAuthHeader appends a comment-only auxiliary fragment: recorded
// alongside the canonical fragments but skipped by the assembler.
func (c *Context) AddCAuthHeader(f Fragment) {
	f.CommentOnly = true
	c.AddAuthHeader(f)
}

// Fragments returns a snapshot of the fragments accumulated so far.
func (c *Context) Fragments() []Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Fragment, len(c.resultFragments))
	copy(out, c.resultFragments)
	return out
}

// Disposition returns the current composite disposition and the
// reason last attached to it, if any.
func (c *Context) Disposition() (Disposition, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposition, c.dispReason
}

func (c *Context) raise(d Disposition, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.strictness() > c.disposition.strictness() {
		c.disposition = d
		c.dispReason = reason
	}
}

func (c *Context) SetReject(reason string)     { c.raise(Reject, reason) }
func (c *Context) SetQuarantine(reason string) { c.raise(Quarantine, reason) }
func (c *Context) SetTempfail(reason string)   { c.raise(Tempfail, reason) }
func (c *Context) SetDiscard(reason string)    { c.raise(Discard, reason) }

// Abort discards the message-scoped fragments and handler_state after
// an MTA ABORT, logging how much was thrown away, and resets the
// disposition for the next message on this connection. The connection
// identity (client IP, HELO, trust flags) survives unchanged.
func (c *Context) Abort() {
	c.mu.Lock()
	discarded := len(c.resultFragments)
	c.resultFragments = nil
	c.handlerState = make(map[string]interface{})
	c.disposition = Continue
	c.dispReason = ""
	c.EnvelopeFrom = ""
	c.EnvelopeRcpt = nil
	c.mu.Unlock()

	if discarded > 0 {
		c.Log.Debugf("abort: discarded %d result fragment(s)", discarded)
	}
}
