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

// Package metrics serves Prometheus scrapes on a dedicated listener,
// grounded 1:1 on internal/endpoint/openmetrics/om.go's
// promhttp.Handler()-on-a-ServeMux shape, extended with the framework
// counters spec.md §4.J names plus per-stage latency histograms.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/gateway"
)

// Registry owns the framework-level counters every worker updates.
type Registry struct {
	ForkedChildren *prometheus.CounterVec
	ReapedChildren *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	HandlerErrors  *prometheus.CounterVec

	reg *prometheus.Registry
}

// NewRegistry builds a fresh, independent registry. internal/supervisor
// builds one per Supervisor, and every worker slot in its pool updates
// that same registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ForkedChildren: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_forked_children_total",
			Help: "Worker slots started by the supervisor.",
		}, []string{"reason"}),
		ReapedChildren: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_reaped_children_total",
			Help: "Worker slots retired by the supervisor.",
		}, []string{"reason"}),
		StageLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_stage_latency_seconds",
			Help:    "Handler dispatch latency per lifecycle stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		HandlerErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_handler_errors_total",
			Help: "Errors recorded by handler name and error kind.",
		}, []string{"handler", "kind"}),
	}
	return r
}

// ObserveStage records the wall time a stage's Dispatch call took.
func (r *Registry) ObserveStage(stage gateway.Stage, seconds float64) {
	r.StageLatency.WithLabelValues(string(stage)).Observe(seconds)
}

// Listener serves scrapes on a dedicated address, kept deliberately
// separate from the data ports so a scrape storm can never touch
// connection handling (spec.md §4.J: scrapes are stateless, read-only,
// and never touch connection state).
type Listener struct {
	log log.Logger
	reg *Registry
	srv http.Server
	wg  sync.WaitGroup
}

func NewListener(reg *Registry, logger log.Logger) *Listener {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{}))
	return &Listener{
		log: logger,
		reg: reg,
		srv: http.Server{Handler: mux},
	}
}

// Serve runs the metrics HTTP server on ln until Close is called.
func (l *Listener) Serve(ln net.Listener) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("metrics listener stopped", err)
		}
	}()
}

func (l *Listener) Close() error {
	err := l.srv.Shutdown(context.Background())
	l.wg.Wait()
	return err
}

// SameAddress reports whether a and b resolve to the same (network,
// address) tuple, used to refuse startup when metric_connection
// collides with a data connection (spec.md §9 Open Question
// resolution: metric-port collision).
func SameAddress(network, address, network2, address2 string) bool {
	return network == network2 && address == address2
}
