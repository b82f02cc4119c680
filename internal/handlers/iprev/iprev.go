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

// Package iprev implements the PTR/iprev check (RFC 8601 §2.7.3): the
// reverse lookup of the client IP is forward-confirmed and compared
// against the HELO argument. It is skipped for local, trusted, or
// already-authenticated clients, per spec.md §4.D.
package iprev

import (
	"context"
	"fmt"
	"strings"

	"github.com/authgate/authgate/framework/dns"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "iprev"

type Handler struct {
	gateway.BaseHandler
	resolver *dns.Resolver
}

func New(resolver *dns.Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// SetResolver installs the process-wide resolver after construction;
// internal/supervisor calls this once after registry.Build, mirroring
// every other DNS-consuming handler in this package tree.
func (h *Handler) SetResolver(resolver *dns.Resolver) { h.resolver = resolver }

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:            Name,
		SupportedStages: []gateway.Stage{gateway.StageHelo},
	}
}

func (h *Handler) Helo(ctx context.Context, c *gateway.Context, helo string) error {
	c.HeloName = helo

	if c.IsLocalIPAddress || c.IsTrustedIPAddress || c.IsAuthenticated {
		return nil
	}

	result, lookupName := h.check(ctx, c, helo)
	c.ClientRDNS = lookupName
	c.VerifiedPTR = result == "pass"

	c.AddAuthHeader(gateway.Fragment{
		Method: "x-ptr",
		Result: result,
		Properties: []gateway.Property{
			{Key: "x-ptr-helo", Value: helo},
			{Key: "x-ptr-lookup", Value: lookupName},
		},
	})
	return nil
}

// check performs the reverse lookup, forward-confirms each PTR name
// against the client IP, and compares the resulting verified_ptr to
// helo per spec.md §4.D: "pass" requires a forward-confirmed PTR name
// that equals helo, not merely that some PTR name forward-confirms.
// It returns "pass" or "fail" plus the PTR name used for the
// comparison (the forward-confirmed name matching helo if one exists,
// otherwise the first forward-confirmed name, otherwise the first PTR
// name returned by the reverse lookup).
func (h *Handler) check(ctx context.Context, c *gateway.Context, helo string) (string, string) {
	arpa, err := reverseName(c.ClientIP.String())
	if err != nil {
		return "fail", ""
	}

	names, err := h.resolver.PTR(ctx, arpa)
	if err != nil || len(names) == 0 {
		return "fail", ""
	}

	forward := make(map[string][]string, len(names))
	for _, name := range names {
		addrs, err := h.resolver.A(ctx, name)
		if err != nil {
			continue
		}
		forward[name] = addrs
	}

	return matchHeloAgainstPTR(names, forward, c.ClientIP.String(), helo)
}

// matchHeloAgainstPTR holds the pure comparison spec.md §4.D describes:
// among the PTR names that forward-confirm to clientIP, "pass" requires
// one equal to helo; otherwise it returns the first forward-confirmed
// name, falling back to the first PTR name if none confirm.
func matchHeloAgainstPTR(names []string, forward map[string][]string, clientIP, helo string) (string, string) {
	helo = strings.TrimSuffix(helo, ".")

	var firstConfirmed string
	for _, name := range names {
		for _, a := range forward[name] {
			if a != clientIP {
				continue
			}
			confirmed := strings.TrimSuffix(name, ".")
			if firstConfirmed == "" {
				firstConfirmed = confirmed
			}
			if strings.EqualFold(confirmed, helo) {
				return "pass", confirmed
			}
		}
	}

	if firstConfirmed != "" {
		return "fail", firstConfirmed
	}
	if len(names) > 0 {
		return "fail", strings.TrimSuffix(names[0], ".")
	}
	return "fail", ""
}

func reverseName(ip string) (string, error) {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return "", fmt.Errorf("iprev: unsupported address %q", ip)
	}
	return fmt.Sprintf("%s.%s.%s.%s.in-addr.arpa.", parts[3], parts[2], parts[1], parts[0]), nil
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(nil), nil
	})
}
