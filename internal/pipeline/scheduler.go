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

// Package pipeline builds, once per worker, one topologically sorted
// call order per lifecycle stage (spec.md §4.E) and dispatches
// connection events through it. Dispatch is strictly sequential:
// parallelism in this system is inter-connection only (distinct
// workers), never intra-connection, so handler ordering is the sole
// coordination primitive and the Context needs no internal locking
// discipline beyond what gateway.Context already does for safety.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/authgate/authgate/framework/exterrors"
	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/metrics"
)

// Scheduler holds the active handler set and its cached per-stage
// order, built once at worker startup and reused for every connection
// the worker handles.
type Scheduler struct {
	handlers map[string]gateway.Handler
	order    map[gateway.Stage][]gateway.Handler
	metrics  *metrics.Registry
}

// SetMetrics installs the worker's metrics registry so Dispatch can
// record per-stage latency and recordError can count handler errors by
// name and kind; internal/supervisor calls this once per worker,
// mirroring the handler SetResolver/SetNetworks wiring convention.
func (s *Scheduler) SetMetrics(reg *metrics.Registry) { s.metrics = reg }

// New builds the per-stage order for handlers. It fails with
// *exterrors.FatalGlobal if any stage's dependency graph has a cycle,
// since no worker can make progress under that configuration.
func New(handlers []gateway.Handler) (*Scheduler, error) {
	byName := make(map[string]gateway.Handler, len(handlers))
	for _, h := range handlers {
		byName[h.Descriptor().Name] = h
	}

	s := &Scheduler{
		handlers: byName,
		order:    make(map[gateway.Stage][]gateway.Handler),
	}

	for _, stage := range gateway.Stages {
		order, err := buildStageOrder(handlers, stage)
		if err != nil {
			return nil, err
		}
		s.order[stage] = order
	}

	return s, nil
}

// buildStageOrder implements spec.md §4.E steps 1-3: lexicographic
// seed, edge construction from RequiresBefore/RequiredAfter, and
// Kahn's-algorithm iterative emission.
func buildStageOrder(handlers []gateway.Handler, stage gateway.Stage) ([]gateway.Handler, error) {
	active := make([]gateway.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h.Descriptor().SupportsStage(stage) {
			active = append(active, h)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Descriptor().Name < active[j].Descriptor().Name
	})

	byName := make(map[string]gateway.Handler, len(active))
	for _, h := range active {
		byName[h.Descriptor().Name] = h
	}

	// requiresBefore[X] = set of names that must run before X at this stage.
	requiresBefore := make(map[string]map[string]bool, len(active))
	for _, h := range active {
		requiresBefore[h.Descriptor().Name] = make(map[string]bool)
	}

	for _, h := range active {
		name := h.Descriptor().Name
		for _, peer := range h.Descriptor().RequiresBefore[stage] {
			if _, ok := byName[peer]; ok {
				requiresBefore[name][peer] = true
			}
		}
		// RequiredAfter[stage] containing peer P means P must run
		// after this handler: inject a RequiresBefore edge on P
		// toward this handler.
		for _, peer := range h.Descriptor().RequiredAfter[stage] {
			if _, ok := byName[peer]; ok {
				requiresBefore[peer][name] = true
			}
		}
	}

	var out []gateway.Handler
	satisfied := make(map[string]bool, len(active))
	todo := make([]string, len(active))
	for i, h := range active {
		todo[i] = h.Descriptor().Name
	}

	for len(out) < len(active) {
		progressed := false
		remaining := todo[:0]
		for _, name := range todo {
			if satisfied[name] {
				continue
			}
			ready := true
			for req := range requiresBefore[name] {
				if !satisfied[req] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, byName[name])
				satisfied[name] = true
				progressed = true
			} else {
				remaining = append(remaining, name)
			}
		}
		todo = remaining
		if !progressed {
			return nil, &exterrors.FatalGlobal{Reason: fmt.Sprintf("pipeline: could not build order list for stage %q (dependency cycle among: %v)", stage, todo)}
		}
	}

	return out, nil
}

// Order returns the cached dispatch order for stage.
func (s *Scheduler) Order(stage gateway.Stage) []gateway.Handler {
	return s.order[stage]
}

// errorKind classifies a handler error into the fragment verdict the
// dispatcher records on the handler's behalf, per spec.md §7: a
// handler error never propagates out of the pipeline and never stops
// the other handlers from running.
func errorKind(err error) exterrors.HandlerErrorKind {
	if herr, ok := err.(*exterrors.HandlerError); ok {
		return herr.Kind
	}
	return exterrors.TempError
}

func (s *Scheduler) recordError(c *gateway.Context, logger log.Logger, name string, err error) {
	kind := errorKind(err)
	logger.Debugf("handler %s error: %v", name, err)
	c.AddAuthHeader(gateway.Fragment{Method: name, Result: kind.String()})
	if s.metrics != nil {
		s.metrics.HandlerErrors.WithLabelValues(name, kind.String()).Inc()
	}
}

// Dispatch invokes every handler's callback for stage, in the cached
// order, via fn (which closes over the stage-specific arguments). A
// handler error is recorded as a fragment and swallowed; dispatch
// always continues to the next handler. The whole stage's wall time is
// observed under the stage's label, per spec.md §4.J's per-stage
// latency requirement.
func (s *Scheduler) Dispatch(ctx context.Context, c *gateway.Context, stage gateway.Stage, fn func(context.Context, gateway.Handler, *gateway.Context) error) {
	start := time.Now()
	for _, h := range s.Order(stage) {
		if err := fn(ctx, h, c); err != nil {
			s.recordError(c, c.Log, h.Descriptor().Name, err)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveStage(stage, time.Since(start).Seconds())
	}
}
