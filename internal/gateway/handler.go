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

package gateway

import "context"

// Stage is one point in the connection lifecycle at which the
// scheduler invokes handler callbacks (spec.md §3 "Lifecycle Stages").
type Stage string

const (
	StageConnect Stage = "connect"
	StageHelo    Stage = "helo"
	StageEnvFrom Stage = "envfrom"
	StageEnvRcpt Stage = "envrcpt"
	StageHeader  Stage = "header"
	StageEOH     Stage = "eoh"
	StageBody    Stage = "body"
	StageEOM     Stage = "eom"
	StageAbort   Stage = "abort"
	StageClose   Stage = "close"
)

// Stages lists every stage in lifecycle order; the protocol engines
// walk this slice to drive the connection FSM.
var Stages = []Stage{
	StageConnect, StageHelo, StageEnvFrom, StageEnvRcpt,
	StageHeader, StageEOH, StageBody, StageEOM, StageAbort, StageClose,
}

// Handler is the Handler Module ABI (spec.md §4.D): lifecycle
// callbacks receive the shared Context plus stage-specific arguments.
// Every method may be a no-op; a handler need only implement the
// callbacks for the stages it declares in its Descriptor.
type Handler interface {
	Descriptor() Descriptor

	Connect(ctx context.Context, c *Context) error
	Helo(ctx context.Context, c *Context, helo string) error
	EnvFrom(ctx context.Context, c *Context, from string) error
	EnvRcpt(ctx context.Context, c *Context, rcpt string) error
	Header(ctx context.Context, c *Context, name, value string) error
	EOH(ctx context.Context, c *Context) error
	Body(ctx context.Context, c *Context, chunk []byte) error
	EOM(ctx context.Context, c *Context) error
	Abort(ctx context.Context, c *Context) error
	Close(ctx context.Context, c *Context) error
}

// Descriptor is the static metadata a handler exports once; the
// scheduler uses it to build the per-stage dependency graph.
type Descriptor struct {
	Name string

	// SupportedStages restricts dispatch: the scheduler only ever
	// calls a handler's callback for a stage listed here.
	SupportedStages []Stage

	// RequiresBefore[stage] lists peer handler names that must run
	// before this handler at that stage.
	RequiresBefore map[Stage][]string

	// RequiredAfter[stage] lists peer handler names that must run
	// after this handler at that stage (the mirror relation: the
	// scheduler injects a RequiresBefore edge on the peer instead).
	RequiredAfter map[Stage][]string
}

// SupportsStage reports whether d declares callbacks for stage.
func (d Descriptor) SupportsStage(stage Stage) bool {
	for _, s := range d.SupportedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Factory constructs a fresh Handler instance. It takes no options:
// handlers that need configured resources receive them after
// construction through setters such as SetResolver or SetNetworks.
// This is the function internal/registry stores keyed by handler name.
type Factory func() (Handler, error)

// BaseHandler implements every Handler method as a no-op; concrete
// handlers embed it and override only the callbacks they need, the
// same partial-implementation convention the teacher uses for modules
// that only implement a subset of a larger interface.
type BaseHandler struct{}

func (BaseHandler) Connect(context.Context, *Context) error             { return nil }
func (BaseHandler) Helo(context.Context, *Context, string) error        { return nil }
func (BaseHandler) EnvFrom(context.Context, *Context, string) error     { return nil }
func (BaseHandler) EnvRcpt(context.Context, *Context, string) error     { return nil }
func (BaseHandler) Header(context.Context, *Context, string, string) error { return nil }
func (BaseHandler) EOH(context.Context, *Context) error                { return nil }
func (BaseHandler) Body(context.Context, *Context, []byte) error       { return nil }
func (BaseHandler) EOM(context.Context, *Context) error                { return nil }
func (BaseHandler) Abort(context.Context, *Context) error              { return nil }
func (BaseHandler) Close(context.Context, *Context) error               { return nil }
