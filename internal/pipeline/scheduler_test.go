package pipeline

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/authgate/authgate/framework/exterrors"
	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/metrics"
)

func testLogger() log.Logger { return log.Logger{} }

// fakeHandler records its own name into a shared call log on every
// invoked callback, so ordering can be asserted without caring about
// the fragments a real check would produce.
type fakeHandler struct {
	gateway.BaseHandler
	desc gateway.Descriptor
	log  *[]string
}

func (h *fakeHandler) Descriptor() gateway.Descriptor { return h.desc }

func (h *fakeHandler) EnvFrom(_ context.Context, _ *gateway.Context, _ string) error {
	*h.log = append(*h.log, h.desc.Name)
	return nil
}

func newFake(name string, log *[]string, before, after map[gateway.Stage][]string) *fakeHandler {
	return &fakeHandler{
		desc: gateway.Descriptor{
			Name:            name,
			SupportedStages: []gateway.Stage{gateway.StageEnvFrom},
			RequiresBefore:  before,
			RequiredAfter:   after,
		},
		log: log,
	}
}

func TestSchedulerOrdersByRequiresBefore(t *testing.T) {
	var calls []string
	// c must run after a and b; a and b have no mutual constraint, so
	// the lexicographic seed breaks their tie.
	a := newFake("a", &calls, nil, nil)
	b := newFake("b", &calls, nil, nil)
	c := newFake("c", &calls, map[gateway.Stage][]string{gateway.StageEnvFrom: {"a", "b"}}, nil)

	sched, err := New([]gateway.Handler{c, b, a})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := gateway.NewContext(nil, testLogger())
	sched.Dispatch(context.Background(), ctx, gateway.StageEnvFrom, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvFrom(ctx, c, "sender@example.com")
	})

	if got, want := calls, []string{"a", "b", "c"}; !equalSlices(got, want) {
		t.Fatalf("call order = %v, want %v", got, want)
	}
}

func TestSchedulerHonorsRequiredAfter(t *testing.T) {
	var calls []string
	// a declares that x must run after it; x itself declares nothing.
	a := newFake("a", &calls, nil, map[gateway.Stage][]string{gateway.StageEnvFrom: {"x"}})
	x := newFake("x", &calls, nil, nil)

	sched, err := New([]gateway.Handler{x, a})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := gateway.NewContext(nil, testLogger())
	sched.Dispatch(context.Background(), ctx, gateway.StageEnvFrom, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvFrom(ctx, c, "sender@example.com")
	})

	if got, want := calls, []string{"a", "x"}; !equalSlices(got, want) {
		t.Fatalf("call order = %v, want %v", got, want)
	}
}

func TestSchedulerDetectsCycle(t *testing.T) {
	var calls []string
	a := newFake("a", &calls, map[gateway.Stage][]string{gateway.StageEnvFrom: {"b"}}, nil)
	b := newFake("b", &calls, map[gateway.Stage][]string{gateway.StageEnvFrom: {"a"}}, nil)

	_, err := New([]gateway.Handler{a, b})
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
	if _, ok := err.(*exterrors.FatalGlobal); !ok {
		t.Fatalf("expected *exterrors.FatalGlobal, got %T: %v", err, err)
	}
}

func TestSchedulerSkipsUnsupportedStage(t *testing.T) {
	var calls []string
	a := newFake("a", &calls, nil, nil)

	sched, err := New([]gateway.Handler{a})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := sched.Order(gateway.StageEOM); len(got) != 0 {
		t.Fatalf("Order(StageEOM) = %v, want empty (handler only supports envfrom)", got)
	}
}

func TestDispatchRecordsHandlerErrorAsFragmentAndContinues(t *testing.T) {
	var calls []string
	ok := newFake("ok", &calls, nil, nil)
	failing := &erroringHandler{name: "failing"}

	sched, err := New([]gateway.Handler{failing, ok})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := gateway.NewContext(nil, testLogger())
	sched.Dispatch(context.Background(), ctx, gateway.StageEnvFrom, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvFrom(ctx, c, "sender@example.com")
	})

	if got, want := calls, []string{"ok"}; !equalSlices(got, want) {
		t.Fatalf("call order = %v, want %v (failing handler must not block ok)", got, want)
	}

	frags := ctx.Fragments()
	if len(frags) != 1 || frags[0].Method != "failing" || frags[0].Result != "permerror" {
		t.Fatalf("fragments = %+v, want one permerror fragment for 'failing'", frags)
	}
}

func TestDispatchObservesStageLatencyAndHandlerErrorsWhenMetricsInstalled(t *testing.T) {
	var calls []string
	ok := newFake("ok", &calls, nil, nil)
	failing := &erroringHandler{name: "failing"}

	sched, err := New([]gateway.Handler{failing, ok})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reg := metrics.NewRegistry()
	sched.SetMetrics(reg)

	ctx := gateway.NewContext(nil, testLogger())
	sched.Dispatch(context.Background(), ctx, gateway.StageEnvFrom, func(ctx context.Context, h gateway.Handler, c *gateway.Context) error {
		return h.EnvFrom(ctx, c, "sender@example.com")
	})

	if n := testutil.CollectAndCount(reg.StageLatency); n == 0 {
		t.Fatal("ObserveStage should have registered a sample for envfrom")
	}
	if got := testutil.ToFloat64(reg.HandlerErrors.WithLabelValues("failing", "permerror")); got != 1 {
		t.Fatalf("HandlerErrors{failing,permerror} = %v, want 1", got)
	}
}

type erroringHandler struct {
	gateway.BaseHandler
	name string
}

func (h *erroringHandler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{Name: h.name, SupportedStages: []gateway.Stage{gateway.StageEnvFrom}}
}

func (h *erroringHandler) EnvFrom(context.Context, *gateway.Context, string) error {
	return &exterrors.HandlerError{Handler: h.name, Kind: exterrors.PermError, Err: errTest}
}

var errTest = &exterrors.ProtocolError{Reason: "boom"}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
