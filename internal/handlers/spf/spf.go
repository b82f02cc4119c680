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

// Package spf wraps blitiri.com.ar/go/spf to evaluate the envelope
// sender's SPF policy against the connecting client IP, emitting an
// spf= fragment with smtp.mailfrom/smtp.helo properties per spec.md
// §4.D.
package spf

import (
	"context"
	"strings"

	"blitiri.com.ar/go/spf"

	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "spf"

type Handler struct {
	gateway.BaseHandler
}

func New() *Handler { return &Handler{} }

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:            Name,
		SupportedStages: []gateway.Stage{gateway.StageEnvFrom},
		// dmarc reads our fragment at eom; that edge is declared on
		// dmarc's side (RequiresBefore), so nothing is declared here.
		RequiredAfter: map[gateway.Stage][]string{},
	}
}

func (h *Handler) EnvFrom(ctx context.Context, c *gateway.Context, from string) error {
	c.EnvelopeFrom = from

	if c.IsLocalIPAddress || c.IsTrustedIPAddress || c.IsAuthenticated {
		c.AddAuthHeader(gateway.Fragment{Method: "spf", Result: "none"})
		return nil
	}

	fromDomain := domainOf(from)

	res, err := spf.CheckHostWithSender(c.ClientIP, heloOrDefault(c.HeloName), senderFor(from, fromDomain), spf.WithContext(ctx))

	result := resultString(res)
	var comment string
	if err != nil {
		comment = err.Error()
	}

	c.AddAuthHeader(gateway.Fragment{
		Method:  "spf",
		Result:  result,
		Comment: comment,
		Properties: []gateway.Property{
			{Key: "smtp.mailfrom", Value: fromDomain},
			{Key: "smtp.helo", Value: c.HeloName},
		},
	})

	return nil
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return addr
}

// senderFor builds the "MAIL FROM" identity the spf package expects;
// a null reverse-path (postmaster notifications) uses postmaster@domain
// per RFC 7208 §4.3.
func senderFor(addr, domain string) string {
	if addr == "" {
		return "postmaster@" + domain
	}
	return addr
}

func heloOrDefault(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

func resultString(res spf.Result) string {
	switch res {
	case spf.Pass:
		return "pass"
	case spf.Fail:
		return "fail"
	case spf.SoftFail:
		return "softfail"
	case spf.Neutral:
		return "neutral"
	case spf.TempError:
		return "temperror"
	case spf.PermError:
		return "permerror"
	default:
		return "none"
	}
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(), nil
	})
}
