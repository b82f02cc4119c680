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

// Package smtpfront is the alternate front-end for deployments without
// milter support (spec.md §4.G): a github.com/emersion/go-smtp server,
// grounded 1:1 on internal/endpoint/smtp/smtp.go's Backend/Session
// shape, whose callbacks translate SMTP command events into the same
// lifecycle stage calls internal/milter issues against the same
// gateway.Context and pipeline.Scheduler, so the two front-ends are
// observably equivalent with respect to which handlers run, in which
// order, and what fragments they emit. Actual relay to an upstream MTA
// is out of scope (spec.md §1 non-goals: the core does not deliver
// mail) — Deliver, if set, is invoked with the finished message for a
// caller to forward; left nil, Data accepts the message without
// relaying it anywhere.
package smtpfront

import (
	"bufio"
	"context"
	"io"
	"net"

	emmessage "github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"

	"github.com/authgate/authgate/framework/buffer"
	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/authres"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/pipeline"
)

const bodyChunkSize = 32 * 1024

// Backend adapts pipeline.Scheduler to go-smtp's Backend interface.
type Backend struct {
	Scheduler *pipeline.Scheduler
	ServerID  string
	Log       log.Logger

	// Deliver, if non-nil, receives the finished header+body for
	// onward relay. Out of scope for this gateway's core (spec.md §1),
	// so it is an optional hook rather than a built-in client.
	Deliver func(ctx context.Context, header emmessage.Header, body buffer.Buffer) error
}

// Session implements smtp.Session, driving the same lifecycle stages
// internal/milter drives against a fresh gateway.Context per
// connection.
type Session struct {
	be  *Backend
	ctx *gateway.Context
}

func (be *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	host, _, _ := net.SplitHostPort(c.Conn().RemoteAddr().String())
	ip := net.ParseIP(host)

	gc := gateway.NewContext(ip, be.Log)
	be.Scheduler.Dispatch(context.Background(), gc, gateway.StageConnect, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Connect(ctx, c)
	})

	// go-smtp resolves EHLO/HELO before constructing the session, same
	// as internal/endpoint/smtp/smtp.go's newSession; the helo stage
	// runs here rather than from a dedicated hook.
	helo := c.Hostname()
	gc.HeloName = helo
	be.Scheduler.Dispatch(context.Background(), gc, gateway.StageHelo, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Helo(ctx, c, helo)
	})

	return &Session{be: be, ctx: gc}, nil
}

func (s *Session) AuthMechanisms() []string { return nil }

func (s *Session) Reset() {}

func (s *Session) Logout() error {
	s.be.Scheduler.Dispatch(context.Background(), s.ctx, gateway.StageClose, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.Close(ctx, c)
	})
	return nil
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.ctx.EnvelopeFrom = from
	s.be.Scheduler.Dispatch(context.Background(), s.ctx, gateway.StageEnvFrom, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvFrom(ctx, c, from)
	})
	return nil
}

func (s *Session) Rcpt(to string) error {
	s.ctx.EnvelopeRcpt = append(s.ctx.EnvelopeRcpt, to)
	s.be.Scheduler.Dispatch(context.Background(), s.ctx, gateway.StageEnvRcpt, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvRcpt(ctx, c, to)
	})
	return nil
}

func (s *Session) Data(r io.Reader) error {
	ctx := context.Background()

	bufr := bufio.NewReader(r)
	header, err := emmessage.ReadHeader(bufr)
	if err != nil {
		return err
	}

	for f := header.Fields(); f.Next(); {
		s.be.Scheduler.Dispatch(ctx, s.ctx, gateway.StageHeader, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
			return h.Header(ctx, c, f.Key(), f.Value())
		})
	}

	s.be.Scheduler.Dispatch(ctx, s.ctx, gateway.StageEOH, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EOH(ctx, c)
	})

	buf, err := buffer.BufferInMemory(bufr)
	if err != nil {
		return err
	}
	if err := s.streamBody(ctx, buf); err != nil {
		return err
	}

	s.be.Scheduler.Dispatch(ctx, s.ctx, gateway.StageEOM, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EOM(ctx, c)
	})

	if line := authres.Format(s.be.ServerID, s.ctx.Fragments()); line != "" {
		header.Add("Authentication-Results", line)
	}
	if aux := authres.FormatAuxiliary(s.ctx.Fragments()); aux != "" {
		header.Add("X-Auth-Gateway-Info", aux)
	}

	if s.be.Deliver != nil {
		if err := s.be.Deliver(ctx, header, buf); err != nil {
			return err
		}
	}

	return dispositionError(s.ctx)
}

func (s *Session) streamBody(ctx context.Context, buf buffer.Buffer) error {
	rc, err := buf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	chunk := make([]byte, bodyChunkSize)
	for {
		n, err := rc.Read(chunk)
		if n > 0 {
			s.be.Scheduler.Dispatch(ctx, s.ctx, gateway.StageBody, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
				return h.Body(ctx, c, chunk[:n])
			})
		}
		if err != nil {
			break
		}
	}
	return nil
}

// dispositionError translates the accumulated disposition into the
// SMTP-level error go-smtp returns to the client, mirroring
// spec.md §4.F's milter reply codes so both front-ends behave
// equivalently at end-of-message.
func dispositionError(c *gateway.Context) error {
	d, reason := c.Disposition()
	switch d {
	case gateway.Reject:
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 7, 1}, Message: reason}
	case gateway.Tempfail:
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 7, 1}, Message: reason}
	case gateway.Quarantine, gateway.Discard:
		return nil
	default:
		return nil
	}
}
