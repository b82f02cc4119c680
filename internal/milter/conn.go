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

package milter

import (
	"bufio"
	"context"
	"net"

	"github.com/authgate/authgate/framework/exterrors"
	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/authres"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/pipeline"
)

// state is the connection FSM position, per spec.md §4.F.
type state int

const (
	stateIdle state = iota
	stateNegotiated
	stateConnected
	stateHeloSeen
	stateEnvFromSeen
	stateEnvRcptSeen
	stateHeadersStreaming
	stateEOH
	stateBodyStreaming
)

// Engine serves one or more milter connections against a shared
// Scheduler, exactly one goroutine per connection (spec.md §5: no
// intra-connection parallelism, inter-connection only).
type Engine struct {
	Scheduler *pipeline.Scheduler
	ServerID  string
	Log       log.Logger
}

// Serve accepts connections from ln until it returns an error (e.g.
// the listener is closed by the supervisor during shutdown/reload).
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go e.HandleConn(ctx, nc)
	}
}

// HandleConn drives one connection's FSM until QUIT or a fatal
// protocol error, then closes the socket. Exported so
// internal/supervisor can run its own accept loop (worker-slot request
// budgeting) and hand each accepted connection to the engine directly,
// instead of going through Serve's own unbounded accept loop.
func (e *Engine) HandleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	r := bufio.NewReader(nc)
	w := bufio.NewWriter(nc)

	host, _, _ := net.SplitHostPort(nc.RemoteAddr().String())
	clientIP := net.ParseIP(host)

	c := gateway.NewContext(clientIP, e.Log)
	st := stateIdle
	macros := map[string]string{}

	for {
		fr, err := readFrame(r)
		if err != nil {
			return
		}

		next, closeConn, err := e.step(ctx, c, st, fr, w, macros)
		if err != nil {
			c.Log.Debugf("milter: %v", err)
			return
		}
		st = next
		if closeConn {
			return
		}
	}
}

// step handles one frame against the current state, returning the
// next state. Unknown commands at a given state are a protocol error
// that closes the connection, per spec.md §4.F.
func (e *Engine) step(ctx context.Context, c *gateway.Context, st state, fr frame, w *bufio.Writer, macros map[string]string) (state, bool, error) {
	if fr.cmd == SMFIC_MACRO {
		_, kv := decodeMacros(fr.payload)
		for i := 0; i+1 < len(kv); i += 2 {
			macros[kv[i]] = kv[i+1]
		}
		if qid, ok := macroValue(kv, "i"); ok && qid != "" {
			c.WithQueueID(qid)
		}
		return st, false, nil
	}

	switch st {
	case stateIdle:
		if fr.cmd != SMFIC_OPTNEG {
			return st, true, &exterrors.ProtocolError{Reason: "expected OPTNEG before any other command"}
		}
		if _, _, _, err := decodeOptNeg(fr.payload); err != nil {
			return st, true, err
		}
		if err := writeFrame(w, SMFIC_OPTNEG, encodeOptNeg(ProtocolVersion, actionMask, protocolMask)); err != nil {
			return st, true, err
		}
		return stateNegotiated, false, nil

	case stateNegotiated:
		if fr.cmd != SMFIC_CONNECT {
			return st, true, &exterrors.ProtocolError{Reason: "expected CONNECT after negotiation"}
		}
		info, err := decodeConnect(fr.payload)
		if err != nil {
			return st, true, err
		}
		if ip := info.ip(); ip != nil {
			c.ClientIP = ip
		}
		e.dispatchConnect(ctx, c)
		if err := e.reply(w, c); err != nil {
			return st, true, err
		}
		return stateConnected, false, nil

	case stateConnected, stateHeloSeen:
		switch fr.cmd {
		case SMFIC_HELO:
			helo := string(trimNUL(fr.payload))
			e.dispatchHelo(ctx, c, helo)
			if err := e.reply(w, c); err != nil {
				return st, true, err
			}
			return stateHeloSeen, false, nil
		case SMFIC_MAIL:
			from := decodeAddrCmd(fr.payload)
			e.dispatchEnvFrom(ctx, c, from)
			if err := e.reply(w, c); err != nil {
				return st, true, err
			}
			return stateEnvFromSeen, false, nil
		case SMFIC_QUIT:
			e.dispatchClose(ctx, c)
			return st, true, nil
		}
		return st, true, &exterrors.ProtocolError{Reason: "unexpected command " + fr.cmd.String() + " in connected state"}

	case stateEnvFromSeen, stateEnvRcptSeen:
		switch fr.cmd {
		case SMFIC_RCPT:
			rcpt := decodeAddrCmd(fr.payload)
			e.dispatchEnvRcpt(ctx, c, rcpt)
			if err := e.reply(w, c); err != nil {
				return st, true, err
			}
			return stateEnvRcptSeen, false, nil
		case SMFIC_HEADER:
			name, value := decodeHeader(fr.payload)
			e.dispatchHeader(ctx, c, name, value)
			if err := e.reply(w, c); err != nil {
				return st, true, err
			}
			return stateHeadersStreaming, false, nil
		case SMFIC_EOH:
			return e.handleEOH(ctx, c, w)
		case SMFIC_ABORT:
			c.Abort()
			if err := writeFrame(w, SMFIR_CONTINUE, nil); err != nil {
				return st, true, err
			}
			return stateConnected, false, nil
		case SMFIC_QUIT:
			e.dispatchClose(ctx, c)
			return st, true, nil
		}
		return st, true, &exterrors.ProtocolError{Reason: "unexpected command " + fr.cmd.String() + " after MAIL/RCPT"}

	case stateHeadersStreaming:
		switch fr.cmd {
		case SMFIC_HEADER:
			name, value := decodeHeader(fr.payload)
			e.dispatchHeader(ctx, c, name, value)
			if err := e.reply(w, c); err != nil {
				return st, true, err
			}
			return stateHeadersStreaming, false, nil
		case SMFIC_EOH:
			return e.handleEOH(ctx, c, w)
		case SMFIC_ABORT:
			c.Abort()
			if err := writeFrame(w, SMFIR_CONTINUE, nil); err != nil {
				return st, true, err
			}
			return stateConnected, false, nil
		case SMFIC_QUIT:
			e.dispatchClose(ctx, c)
			return st, true, nil
		}
		return st, true, &exterrors.ProtocolError{Reason: "unexpected command " + fr.cmd.String() + " while streaming headers"}

	case stateEOH, stateBodyStreaming:
		switch fr.cmd {
		case SMFIC_BODY:
			e.dispatchBody(ctx, c, fr.payload)
			if err := e.reply(w, c); err != nil {
				return st, true, err
			}
			return stateBodyStreaming, false, nil
		case SMFIC_BODYEOB:
			return e.handleEOM(ctx, c, w)
		case SMFIC_ABORT:
			c.Abort()
			if err := writeFrame(w, SMFIR_CONTINUE, nil); err != nil {
				return st, true, err
			}
			return stateConnected, false, nil
		case SMFIC_QUIT:
			e.dispatchClose(ctx, c)
			return st, true, nil
		}
		return st, true, &exterrors.ProtocolError{Reason: "unexpected command " + fr.cmd.String() + " in body phase"}
	}

	return st, true, &exterrors.ProtocolError{Reason: "unreachable state"}
}

func (e *Engine) handleEOH(ctx context.Context, c *gateway.Context, w *bufio.Writer) (state, bool, error) {
	e.Scheduler.Dispatch(ctx, c, gateway.StageEOH, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EOH(ctx, c)
	})
	if err := e.reply(w, c); err != nil {
		return stateEOH, true, err
	}
	return stateEOH, false, nil
}

func (e *Engine) handleEOM(ctx context.Context, c *gateway.Context, w *bufio.Writer) (state, bool, error) {
	e.Scheduler.Dispatch(ctx, c, gateway.StageEOM, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EOM(ctx, c)
	})

	header := authres.Format(e.ServerID, c.Fragments())
	if err := writeFrame(w, SMFIR_INSHEADER, encodeInsHeader(0, "Authentication-Results", header)); err != nil {
		return stateBodyStreaming, true, err
	}
	if aux := authres.FormatAuxiliary(c.Fragments()); aux != "" {
		if err := writeFrame(w, SMFIR_ADDHEADER, append(encodeCString("X-Auth-Gateway-Info"), encodeCString(aux)...)); err != nil {
			return stateBodyStreaming, true, err
		}
	}

	if err := e.replyFinal(w, c); err != nil {
		return stateBodyStreaming, true, err
	}
	return stateConnected, false, nil
}

func (e *Engine) dispatchConnect(ctx context.Context, c *gateway.Context) {
	e.Scheduler.Dispatch(ctx, c, gateway.StageConnect, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Connect(ctx, c)
	})
}

func (e *Engine) dispatchHelo(ctx context.Context, c *gateway.Context, helo string) {
	e.Scheduler.Dispatch(ctx, c, gateway.StageHelo, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Helo(ctx, c, helo)
	})
}

func (e *Engine) dispatchEnvFrom(ctx context.Context, c *gateway.Context, from string) {
	c.EnvelopeFrom = from
	e.Scheduler.Dispatch(ctx, c, gateway.StageEnvFrom, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvFrom(ctx, c, from)
	})
}

func (e *Engine) dispatchEnvRcpt(ctx context.Context, c *gateway.Context, rcpt string) {
	c.EnvelopeRcpt = append(c.EnvelopeRcpt, rcpt)
	e.Scheduler.Dispatch(ctx, c, gateway.StageEnvRcpt, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvRcpt(ctx, c, rcpt)
	})
}

func (e *Engine) dispatchHeader(ctx context.Context, c *gateway.Context, name, value string) {
	e.Scheduler.Dispatch(ctx, c, gateway.StageHeader, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Header(ctx, c, name, value)
	})
}

func (e *Engine) dispatchBody(ctx context.Context, c *gateway.Context, chunk []byte) {
	cp := append([]byte(nil), chunk...)
	e.Scheduler.Dispatch(ctx, c, gateway.StageBody, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Body(ctx, c, cp)
	})
}

func (e *Engine) dispatchClose(ctx context.Context, c *gateway.Context) {
	e.Scheduler.Dispatch(ctx, c, gateway.StageClose, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Close(ctx, c)
	})
}

// reply answers the current mid-message disposition: CONTINUE unless a
// handler has already raised a stronger verdict, in which case the
// stronger code is returned immediately (the pipeline still finishes
// running on every handler at EOM regardless, per spec.md §4.E; this
// reply only affects what the MTA sees for this particular step).
func (e *Engine) reply(w *bufio.Writer, c *gateway.Context) error {
	d, reason := c.Disposition()
	switch d {
	case gateway.Reject:
		return writeFrame(w, SMFIR_REJECT, nil)
	case gateway.Tempfail:
		return writeFrame(w, SMFIR_TEMPFAIL, nil)
	case gateway.Discard:
		return writeFrame(w, SMFIR_DISCARD, nil)
	case gateway.Quarantine:
		// Quarantine is only actionable at EOM; mid-message, continue.
		_ = reason
		return writeFrame(w, SMFIR_CONTINUE, nil)
	default:
		return writeFrame(w, SMFIR_CONTINUE, nil)
	}
}

// replyFinal answers the EOM disposition, including QUARANTINE which
// only has meaning once the whole message has been seen.
func (e *Engine) replyFinal(w *bufio.Writer, c *gateway.Context) error {
	d, reason := c.Disposition()
	switch d {
	case gateway.Reject:
		return writeFrame(w, SMFIR_REJECT, nil)
	case gateway.Tempfail:
		return writeFrame(w, SMFIR_TEMPFAIL, nil)
	case gateway.Discard:
		return writeFrame(w, SMFIR_DISCARD, nil)
	case gateway.Quarantine:
		if err := writeFrame(w, SMFIR_QUARANTINE, encodeCString(reason)); err != nil {
			return err
		}
		return writeFrame(w, SMFIR_ACCEPT, nil)
	default:
		return writeFrame(w, SMFIR_CONTINUE, nil)
	}
}

func trimNUL(b []byte) []byte {
	for i, v := range b {
		if v == 0 {
			return b[:i]
		}
	}
	return b
}
