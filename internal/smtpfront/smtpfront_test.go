package smtpfront

import (
	"context"
	"strings"
	"testing"

	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/pipeline"
)

func TestDispositionErrorNilForContinueQuarantineDiscard(t *testing.T) {
	tests := []struct {
		name  string
		raise func(*gateway.Context)
	}{
		{"continue", func(*gateway.Context) {}},
		{"quarantine", func(c *gateway.Context) { c.SetQuarantine("listed") }},
		{"discard", func(c *gateway.Context) { c.SetDiscard("spam") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := gateway.NewContext(nil, log.Logger{})
			tt.raise(c)
			if err := dispositionError(c); err != nil {
				t.Fatalf("dispositionError = %v, want nil", err)
			}
		})
	}
}

func TestDispositionErrorCarriesReasonForRejectAndTempfail(t *testing.T) {
	reject := gateway.NewContext(nil, log.Logger{})
	reject.SetReject("spf fail")
	if err := dispositionError(reject); err == nil || !strings.Contains(err.Error(), "spf fail") {
		t.Fatalf("reject error = %v, want it to carry the reason", err)
	}

	tempfail := gateway.NewContext(nil, log.Logger{})
	tempfail.SetTempfail("dns timeout")
	if err := dispositionError(tempfail); err == nil || !strings.Contains(err.Error(), "dns timeout") {
		t.Fatalf("tempfail error = %v, want it to carry the reason", err)
	}
}

// recordingHandler appends an Authentication-Results fragment at eom so
// Session.Data's header-assembly path has something to fold in.
type recordingHandler struct {
	gateway.BaseHandler
}

func (recordingHandler) Descriptor() gateway.Descriptor {
	return gateway.Descriptor{Name: "spf", SupportedStages: []gateway.Stage{gateway.StageEOM}}
}

func (recordingHandler) EOM(_ context.Context, c *gateway.Context) error {
	c.AddAuthHeader(gateway.Fragment{Method: "spf", Result: "pass"})
	return nil
}

func TestSessionDataDispatchesEOMAndRecordsFragments(t *testing.T) {
	sched, err := pipeline.New([]gateway.Handler{recordingHandler{}})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	s := &Session{be: &Backend{Scheduler: sched, ServerID: "mx.test"}, ctx: gateway.NewContext(nil, log.Logger{})}

	msg := "Subject: hello\r\n\r\nbody text\r\n"
	if err := s.Data(strings.NewReader(msg)); err != nil {
		t.Fatalf("Data: %v", err)
	}

	frags := s.ctx.Fragments()
	if len(frags) != 1 || frags[0].Method != "spf" || frags[0].Result != "pass" {
		t.Fatalf("fragments = %+v, want a single spf=pass fragment from eom dispatch", frags)
	}
}

func TestMailAndRcptUpdateEnvelope(t *testing.T) {
	sched, err := pipeline.New(nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	s := &Session{be: &Backend{Scheduler: sched, ServerID: "mx.test"}, ctx: gateway.NewContext(nil, log.Logger{})}

	if err := s.Mail("sender@example.com", nil); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if s.ctx.EnvelopeFrom != "sender@example.com" {
		t.Fatalf("EnvelopeFrom = %q", s.ctx.EnvelopeFrom)
	}

	if err := s.Rcpt("rcpt1@example.com"); err != nil {
		t.Fatalf("Rcpt: %v", err)
	}
	if err := s.Rcpt("rcpt2@example.com"); err != nil {
		t.Fatalf("Rcpt: %v", err)
	}
	if len(s.ctx.EnvelopeRcpt) != 2 {
		t.Fatalf("EnvelopeRcpt = %v, want 2 recipients", s.ctx.EnvelopeRcpt)
	}
}
