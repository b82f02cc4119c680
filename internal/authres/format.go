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

// Package authres assembles the accumulated gateway.Fragment list into
// the final Authentication-Results header (spec.md §4.H), and
// separately renders any comment-only auxiliary fragments.
//
// github.com/emersion/go-msgauth/authres formats the well-known
// methods (spf, dkim, dmarc) but its Result type only covers those
// IANA-registered methods; it cannot carry the extension methods this
// gateway's own handlers emit (x-ptr, x-dnsbl, per spec.md §4.D/4.E
// examples). The formatter below reproduces the same RFC 8601 grammar
// go-msgauth/authres itself follows, so both a standard result and an
// extension result share one deterministic code path rather than two.
package authres

import (
	"fmt"
	"strings"

	"github.com/authgate/authgate/internal/gateway"
)

// Format concatenates fragments into one Authentication-Results value
// (everything after the header name), given the server identity that
// names the authenticating host. Fragments are emitted in the order
// given; callers are responsible for passing a stable, deterministic
// order (gateway.Context.Fragments already preserves append order).
func Format(serverID string, fragments []gateway.Fragment) string {
	var b strings.Builder
	b.WriteString(serverID)

	canonical := 0
	for _, f := range fragments {
		if f.CommentOnly {
			continue
		}
		canonical++
		b.WriteString("; ")
		writeFragment(&b, f)
	}

	if canonical == 0 {
		b.WriteString("; none")
	}

	return b.String()
}

// FormatAuxiliary renders the comment-only (add_c_auth_header)
// fragments as a separate, purely informational header value. Returns
// "" when there are none, so callers can skip emitting the header.
func FormatAuxiliary(fragments []gateway.Fragment) string {
	var parts []string
	for _, f := range fragments {
		if !f.CommentOnly {
			continue
		}
		var b strings.Builder
		writeFragment(&b, f)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "; ")
}

func writeFragment(b *strings.Builder, f gateway.Fragment) {
	fmt.Fprintf(b, "%s=%s", f.Method, f.Result)
	if f.Comment != "" {
		fmt.Fprintf(b, " (%s)", normalizeWhitespace(f.Comment))
	}
	for _, p := range f.Properties {
		fmt.Fprintf(b, " %s=%s", p.Key, p.Value)
	}
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
