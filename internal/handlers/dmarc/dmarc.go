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

// Package dmarc fetches the RFC5322.From domain's DMARC policy and
// evaluates SPF/DKIM alignment against it, consuming the spf and dkim
// fragments already appended to the Context by upstream handlers
// (spec.md §4.D's dmarc ordering).
package dmarc

import (
	"context"
	"net/mail"
	"strings"

	"github.com/emersion/go-msgauth/dmarc"
	"golang.org/x/net/publicsuffix"

	"github.com/authgate/authgate/framework/dns"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "dmarc"

type Handler struct {
	gateway.BaseHandler
	resolver *dns.Resolver
}

func New(resolver *dns.Resolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) SetResolver(resolver *dns.Resolver) { h.resolver = resolver }

type state struct {
	fromHeader string
}

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:            Name,
		SupportedStages: []gateway.Stage{gateway.StageHeader, gateway.StageEOM},
		RequiresBefore: map[gateway.Stage][]string{
			gateway.StageEOM: {"spf", "dkim"},
		},
	}
}

func (h *Handler) Header(_ context.Context, c *gateway.Context, name, value string) error {
	if !strings.EqualFold(name, "From") {
		return nil
	}
	st, _ := c.State(Name).(*state)
	if st == nil {
		st = &state{}
		c.SetState(Name, st)
	}
	st.fromHeader = value
	return nil
}

func (h *Handler) EOM(ctx context.Context, c *gateway.Context) error {
	st, _ := c.State(Name).(*state)
	if st == nil || st.fromHeader == "" {
		c.AddAuthHeader(gateway.Fragment{Method: "dmarc", Result: "none"})
		return nil
	}

	fromDomain, err := fromDomain(st.fromHeader)
	if err != nil {
		c.AddAuthHeader(gateway.Fragment{Method: "dmarc", Result: "permerror", Comment: err.Error()})
		return nil
	}

	policyDomain, record, err := fetchRecord(ctx, h.resolver, fromDomain)
	if err != nil {
		c.AddAuthHeader(gateway.Fragment{Method: "dmarc", Result: "temperror", Comment: err.Error()})
		return nil
	}
	if record == nil {
		c.AddAuthHeader(gateway.Fragment{Method: "dmarc", Result: "none"})
		return nil
	}

	spfAligned := matchesFragment(c, "spf", "pass", "smtp.mailfrom", fromDomain, record.SPFAlignment == dmarc.AlignmentStrict)
	dkimAligned := matchesFragment(c, "dkim", "pass", "header.d", fromDomain, record.DKIMAlignment == dmarc.AlignmentStrict)

	result := "fail"
	if spfAligned || dkimAligned {
		result = "pass"
	}

	policy := record.Policy
	if !strings.EqualFold(policyDomain, fromDomain) && record.SubdomainPolicy != "" {
		policy = record.SubdomainPolicy
	}

	if result == "fail" {
		switch policy {
		case dmarc.PolicyReject:
			c.SetReject("DMARC policy violation (p=reject)")
		case dmarc.PolicyQuarantine:
			c.SetQuarantine("DMARC policy violation (p=quarantine)")
		}
	}

	c.AddAuthHeader(gateway.Fragment{
		Method: "dmarc",
		Result: result,
		Properties: []gateway.Property{
			{Key: "header.from", Value: fromDomain},
		},
	})
	return nil
}

// matchesFragment scans c's accumulated fragments for method, looking
// for a passing result whose identity property (smtp.mailfrom/
// header.d) is aligned with fromDomain: exact match always counts;
// under relaxed alignment (the common case), an organizational-domain
// match also counts.
func matchesFragment(c *gateway.Context, method, wantResult, propKey, fromDomain string, strict bool) bool {
	for _, f := range c.Fragments() {
		if f.Method != method || f.Result != wantResult {
			continue
		}
		for _, p := range f.Properties {
			if p.Key != propKey || p.Value == "" {
				continue
			}
			if strings.EqualFold(p.Value, fromDomain) {
				return true
			}
			if !strict && sameOrgDomain(p.Value, fromDomain) {
				return true
			}
		}
	}
	return false
}

func sameOrgDomain(a, b string) bool {
	orgA, errA := publicsuffix.EffectiveTLDPlusOne(a)
	orgB, errB := publicsuffix.EffectiveTLDPlusOne(b)
	return errA == nil && errB == nil && strings.EqualFold(orgA, orgB)
}

func fromDomain(headerValue string) (string, error) {
	addr, err := mail.ParseAddress(headerValue)
	if err != nil {
		return "", err
	}
	i := strings.LastIndexByte(addr.Address, '@')
	if i < 0 {
		return "", err
	}
	return addr.Address[i+1:], nil
}

// fetchRecord looks up the DMARC policy at _dmarc.<fromDomain>,
// falling back to the organizational domain, mirroring RFC 7489 §6.6.3.
func fetchRecord(ctx context.Context, r *dns.Resolver, fromDomain string) (policyDomain string, rec *dmarc.Record, err error) {
	policyDomain = fromDomain

	txts, err := r.TXT(ctx, "_dmarc."+fromDomain)
	if err != nil {
		if lerr, ok := err.(*dns.LookupError); !ok || lerr.Kind != dns.NXDomain {
			return "", nil, err
		}
	}

	if len(txts) == 0 {
		orgDomain, oerr := publicsuffix.EffectiveTLDPlusOne(fromDomain)
		if oerr != nil {
			return "", nil, nil
		}
		policyDomain = orgDomain

		txts, err = r.TXT(ctx, "_dmarc."+orgDomain)
		if err != nil {
			if lerr, ok := err.(*dns.LookupError); !ok || lerr.Kind != dns.NXDomain {
				return "", nil, err
			}
		}
		if len(txts) == 0 {
			return "", nil, nil
		}
	}

	var policies []string
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=DMARC1") {
			policies = append(policies, txt)
		}
	}
	if len(policies) != 1 {
		return "", nil, nil
	}

	rec, err = dmarc.Parse(policies[0])
	return policyDomain, rec, err
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(nil), nil
	})
}
