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

// Package dkim creates its per-message verifier state at the first
// header callback, accumulates the header block and body during header/
// eoh/body, and finalizes at eom, per spec.md §4.D. It opportunistically
// rewrites a bare X-Google-DKIM-Signature into a synthesized
// DKIM-Signature so Google-relayed mail still verifies.
package dkim

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	emmessage "github.com/emersion/go-message/textproto"
	"github.com/emersion/go-msgauth/dkim"

	"github.com/authgate/authgate/framework/dns"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "dkim"

// NoSignatureMode mirrors config's check_dkim: Report (the default)
// emits "dkim=none (no signatures found)"; Suppress emits no dkim
// fragment at all for a message with no DKIM-Signature headers.
type NoSignatureMode int

const (
	ReportNoSignature NoSignatureMode = iota + 1
	SuppressNoSignature
)

type Handler struct {
	gateway.BaseHandler
	resolver  *dns.Resolver
	noSigMode NoSignatureMode

	mu      sync.Mutex
	keyBits map[string]int // selector._domainkey.domain -> RSA modulus bits
}

func New(resolver *dns.Resolver) *Handler {
	return &Handler{resolver: resolver, noSigMode: ReportNoSignature, keyBits: make(map[string]int)}
}

func (h *Handler) SetResolver(resolver *dns.Resolver) { h.resolver = resolver }

// SetNoSignatureMode installs the configured check_dkim behavior;
// internal/supervisor calls this once after registry.Build, mirroring
// the SetResolver/SetNetworks late-binding convention.
func (h *Handler) SetNoSignatureMode(mode NoSignatureMode) { h.noSigMode = mode }

type state struct {
	header emmessage.Header
	body   bytes.Buffer
	sawAny bool
}

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name: Name,
		SupportedStages: []gateway.Stage{
			gateway.StageHeader, gateway.StageEOH, gateway.StageBody, gateway.StageEOM,
		},
	}
}

func (h *Handler) Header(_ context.Context, c *gateway.Context, name, value string) error {
	st, _ := c.State(Name).(*state)
	if st == nil {
		st = &state{}
		c.SetState(Name, st)
	}

	if strings.EqualFold(name, "X-Google-DKIM-Signature") && !st.header.Has("DKIM-Signature") {
		st.header.Add("DKIM-Signature", value)
		st.sawAny = true
	} else {
		st.header.Add(name, value)
		if strings.EqualFold(name, "DKIM-Signature") {
			st.sawAny = true
		}
	}
	return nil
}

func (h *Handler) Body(_ context.Context, c *gateway.Context, chunk []byte) error {
	st, _ := c.State(Name).(*state)
	if st == nil {
		return nil
	}
	st.body.Write(chunk)
	return nil
}

func (h *Handler) EOM(ctx context.Context, c *gateway.Context) error {
	st, _ := c.State(Name).(*state)
	if st == nil || !st.sawAny {
		if h.noSigMode == SuppressNoSignature {
			return nil
		}
		c.AddAuthHeader(gateway.Fragment{Method: "dkim", Result: "none", Comment: "no signatures found"})
		return nil
	}

	var headerBuf bytes.Buffer
	if err := emmessage.WriteHeader(&headerBuf, st.header); err != nil {
		return err
	}

	verifications, err := dkim.VerifyWithOptions(
		io.MultiReader(&headerBuf, bytes.NewReader(st.body.Bytes())),
		&dkim.VerifyOptions{
			LookupTXT: h.lookupTXT(ctx),
		},
	)
	if err != nil {
		c.AddAuthHeader(gateway.Fragment{Method: "dkim", Result: "temperror", Comment: err.Error()})
		return nil
	}

	for _, v := range verifications {
		result := "pass"
		var comment string
		if v.Err != nil {
			result = "fail"
			comment = strings.TrimPrefix(v.Err.Error(), "dkim: ")
			if dkim.IsPermFail(v.Err) {
				result = "permerror"
			}
			if dkim.IsTempFail(v.Err) {
				result = "temperror"
			}
		}

		props := []gateway.Property{
			{Key: "header.d", Value: v.Domain},
			{Key: "header.i", Value: v.Identifier},
			{Key: "header.b", Value: signatureSnippet(st.header, v.Domain)},
		}
		if bits := h.keySize(v.Domain); bits > 0 {
			comment = strings.TrimSpace(fmt.Sprintf("%d-bit rsa key %s", bits, comment))
		}

		c.AddAuthHeader(gateway.Fragment{Method: "dkim", Result: result, Comment: comment, Properties: props})
	}

	return nil
}

// lookupTXT wraps the resolver's TXT lookup to also sniff the RSA
// public key size from the DKIM key record's p= tag, since
// go-msgauth/dkim does not expose the verified key back to the caller.
func (h *Handler) lookupTXT(ctx context.Context) func(domain string) ([]string, error) {
	return func(domain string) ([]string, error) {
		txts, err := h.resolver.TXT(ctx, domain)
		if err != nil {
			return nil, err
		}
		h.recordKeySize(domain, txts)
		return txts, nil
	}
}

func (h *Handler) recordKeySize(domain string, txts []string) {
	for _, txt := range txts {
		for _, tag := range strings.Split(txt, ";") {
			tag = strings.TrimSpace(tag)
			if !strings.HasPrefix(tag, "p=") {
				continue
			}
			der, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(tag, "p="))
			if err != nil {
				continue
			}
			pub, err := x509.ParsePKIXPublicKey(der)
			if err != nil {
				continue
			}
			if rsaPub, ok := pub.(interface{ Size() int }); ok {
				h.mu.Lock()
				h.keyBits[domain] = rsaPub.Size() * 8
				h.mu.Unlock()
			}
		}
	}
}

func (h *Handler) keySize(domain string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, bits := range h.keyBits {
		if strings.Contains(key, domain) {
			return bits
		}
	}
	return 0
}

// signatureSnippet returns the first 8 characters of the b= tag of
// the DKIM-Signature header most likely associated with domain,
// matching spec.md §4.D's "header.b" property.
func signatureSnippet(header emmessage.Header, domain string) string {
	fields := header.FieldsByKey("DKIM-Signature")
	for fields.Next() {
		val := fields.Value()
		if !strings.Contains(val, "d="+domain) {
			continue
		}
		for _, tag := range strings.Split(val, ";") {
			tag = strings.TrimSpace(tag)
			if strings.HasPrefix(tag, "b=") {
				b := strings.Map(func(r rune) rune {
					if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
						return -1
					}
					return r
				}, strings.TrimPrefix(tag, "b="))
				if len(b) > 8 {
					return b[:8]
				}
				return b
			}
		}
	}
	return ""
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(nil), nil
	})
}
