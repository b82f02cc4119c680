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

// Package dnsbl queries a configurable set of DNS blocklist zones for
// the connecting client IP and reports an x-dnsbl fragment. It is a
// supplemented feature beyond spec.md's core methods, modeled after
// the reputation-checking pattern the reference message pipeline uses
// for outbound delivery, but reduced to a single pass/fail reputation
// signal instead of per-zone score adjustment. Skipped for local,
// trusted, or already-authenticated clients, matching every other
// reputation-adjacent handler in this package tree.
package dnsbl

import (
	"context"
	"strconv"
	"strings"

	"github.com/authgate/authgate/framework/dns"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "dnsbl"

// DefaultZones mirrors the single-zone default the reference dnsbl
// check ships with before any inline zone list is configured.
var DefaultZones = []string{"zen.spamhaus.org"}

type Handler struct {
	gateway.BaseHandler
	resolver *dns.Resolver
	zones    []string
}

func New(resolver *dns.Resolver, zones []string) *Handler {
	if len(zones) == 0 {
		zones = DefaultZones
	}
	return &Handler{resolver: resolver, zones: zones}
}

// SetResolver installs the process-wide resolver after construction,
// following the same late-binding convention as iprev/dkim/dmarc.
func (h *Handler) SetResolver(resolver *dns.Resolver) { h.resolver = resolver }

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:            Name,
		SupportedStages: []gateway.Stage{gateway.StageConnect},
	}
}

func (h *Handler) Connect(ctx context.Context, c *gateway.Context) error {
	if c.IsLocalIPAddress || c.IsTrustedIPAddress || c.IsAuthenticated {
		return nil
	}

	query, err := reverseQuery(c.ClientIP.String())
	if err != nil {
		return nil
	}

	for _, zone := range h.zones {
		listed, reason := h.checkZone(ctx, query, zone)
		if !listed {
			continue
		}
		c.AddAuthHeader(gateway.Fragment{
			Method:  "x-dnsbl",
			Result:  "listed",
			Comment: reason,
			Properties: []gateway.Property{
				{Key: "x-dnsbl-zone", Value: zone},
			},
		})
		return nil
	}

	c.AddAuthHeader(gateway.Fragment{Method: "x-dnsbl", Result: "clear"})
	return nil
}

// checkZone reports whether query+"."+zone resolves to any address,
// and if so, an explanatory reason pulled from the zone's TXT record
// when one is published (most meta-BLs map addresses to reasons there).
func (h *Handler) checkZone(ctx context.Context, query, zone string) (bool, string) {
	name := query + "." + zone

	addrs, err := h.resolver.A(ctx, name)
	if err != nil || len(addrs) == 0 {
		return false, ""
	}

	txts, err := h.resolver.TXT(ctx, name)
	if err != nil || len(txts) == 0 {
		return true, strings.Join(addrs, "; ")
	}
	return true, strings.Join(txts, "; ")
}

// reverseQuery builds the reversed-octet label DNSBL zones expect,
// IPv4-only like iprev's reverseName but without the in-addr.arpa
// suffix since the zone name is appended by the caller instead.
func reverseQuery(ip string) (string, error) {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return "", strconv.ErrSyntax
	}
	return parts[3] + "." + parts[2] + "." + parts[1] + "." + parts[0], nil
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(nil, nil), nil
	})
}
