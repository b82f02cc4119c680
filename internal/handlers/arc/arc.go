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

// Package arc validates the structural shape of an ARC chain:
// instance numbering, cv= monotonicity, and matching set counts across
// ARC-Seal/ARC-Message-Signature/ARC-Authentication-Results. Full
// per-seal cryptographic chain-of-custody replay is not implemented:
// no library in this module's dependency stack verifies ARC seals
// end-to-end, so this handler never fabricates an "arc=pass" result —
// see DESIGN.md for the grounding of this limitation.
package arc

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/registry"
)

const Name = "arc"

type Handler struct {
	gateway.BaseHandler
}

func New() *Handler { return &Handler{} }

type seal struct {
	instance int
	cv       string
}

type state struct {
	seals     []seal
	sigCount  int
	aarCount  int
}

func (h *Handler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{
		Name:            Name,
		SupportedStages: []gateway.Stage{gateway.StageHeader, gateway.StageEOM},
	}
}

var instanceTag = regexp.MustCompile(`i=(\d+)`)
var cvTag = regexp.MustCompile(`cv=(\w+)`)

func (h *Handler) Header(_ context.Context, c *gateway.Context, name, value string) error {
	st, _ := c.State(Name).(*state)
	if st == nil {
		st = &state{}
		c.SetState(Name, st)
	}

	switch {
	case strings.EqualFold(name, "ARC-Seal"):
		inst := parseInt(instanceTag.FindStringSubmatch(value))
		cv := parseStr(cvTag.FindStringSubmatch(value))
		st.seals = append(st.seals, seal{instance: inst, cv: cv})
	case strings.EqualFold(name, "ARC-Message-Signature"):
		st.sigCount++
	case strings.EqualFold(name, "ARC-Authentication-Results"):
		st.aarCount++
	}
	return nil
}

func parseInt(m []string) int {
	if len(m) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func parseStr(m []string) string {
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func (h *Handler) EOM(_ context.Context, c *gateway.Context) error {
	st, _ := c.State(Name).(*state)
	if st == nil || len(st.seals) == 0 {
		c.AddAuthHeader(gateway.Fragment{Method: "arc", Result: "none"})
		return nil
	}

	if st.sigCount != len(st.seals) || st.aarCount != len(st.seals) {
		c.AddAuthHeader(gateway.Fragment{
			Method:  "arc",
			Result:  "fail",
			Comment: "mismatched ARC set counts",
		})
		return nil
	}

	sorted := make([]seal, len(st.seals))
	copy(sorted, st.seals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].instance < sorted[j].instance })

	for i, s := range sorted {
		if s.instance != i+1 {
			c.AddAuthHeader(gateway.Fragment{
				Method:  "arc",
				Result:  "fail",
				Comment: "non-contiguous ARC instance numbering",
			})
			return nil
		}
		// Only the oldest instance (i=1) may claim cv=none; every
		// later instance must chain with cv=pass or mark the break
		// with cv=fail, never silently reset to none.
		if i == 0 {
			continue
		}
		if s.cv == "none" {
			c.AddAuthHeader(gateway.Fragment{
				Method:  "arc",
				Result:  "fail",
				Comment: "cv=none at non-initial ARC instance",
			})
			return nil
		}
		if s.cv == "fail" {
			c.AddAuthHeader(gateway.Fragment{Method: "arc", Result: "fail"})
			return nil
		}
	}

	// Structural checks passed, but no cryptographic seal verification
	// was performed: report temperror rather than fabricate a pass.
	c.AddAuthHeader(gateway.Fragment{
		Method:  "arc",
		Result:  "temperror",
		Comment: "structural validation only, seal signatures not verified",
		Properties: []gateway.Property{
			{Key: "header.oldest-pass", Value: strconv.Itoa(sorted[0].instance)},
		},
	})
	return nil
}

func init() {
	registry.Register(Name, func() (gateway.Handler, error) {
		return New(), nil
	})
}
