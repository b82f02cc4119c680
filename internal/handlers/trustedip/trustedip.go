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

// Package trustedip classifies the connecting client IP against the
// configured local/trusted CIDR lists (spec.md §3 is_local_ip_address/
// is_trusted_ip_address). It runs first, at connect, since every other
// handler's short-circuit condition depends on its result.
package trustedip

import (
	"context"
	"net"

	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "trustedip"

// Options mirrors the parsed local_networks/trusted_networks CIDR
// lists from framework/config.Config.
type Options struct {
	LocalNets   []*net.IPNet
	TrustedNets []*net.IPNet
}

// Handler is exported so internal/supervisor can type-assert the
// instance registry.Build returned and call SetNetworks on it.
type Handler struct {
	gateway.BaseHandler
	opts Options
}

// New builds the handler from parsed CIDR lists.
func New(opts Options) *Handler {
	return &Handler{opts: opts}
}

// SetNetworks updates the CIDR lists after construction: this
// handler's configuration comes from the top-level local_networks/
// trusted_networks fields rather than its own handlers.trustedip
// subtree, so internal/supervisor calls this once after
// registry.Build resolves load_handlers.
func (h *Handler) SetNetworks(opts Options) { h.opts = opts }

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:            Name,
		SupportedStages: []gateway.Stage{gateway.StageConnect},
		// dnsbl also runs at connect and skips local/trusted clients.
		RequiredAfter: map[gateway.Stage][]string{gateway.StageConnect: {"dnsbl"}},
	}
}

func (h *Handler) Connect(_ context.Context, c *gateway.Context) error {
	for _, n := range h.opts.LocalNets {
		if n.Contains(c.ClientIP) {
			c.IsLocalIPAddress = true
			break
		}
	}
	for _, n := range h.opts.TrustedNets {
		if n.Contains(c.ClientIP) {
			c.IsTrustedIPAddress = true
			break
		}
	}
	return nil
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(Options{}), nil
	})
}
