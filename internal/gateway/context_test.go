package gateway

import (
	"testing"

	"github.com/authgate/authgate/framework/log"
)

func TestDispositionRatchetsTowardStrictnessOnly(t *testing.T) {
	c := NewContext(nil, log.Logger{})

	c.SetQuarantine("suspicious")
	if d, _ := c.Disposition(); d != Quarantine {
		t.Fatalf("Disposition = %v, want Quarantine", d)
	}

	c.SetDiscard("lower priority than quarantine")
	if d, _ := c.Disposition(); d != Quarantine {
		t.Fatalf("Disposition after a weaker SetDiscard = %v, want unchanged Quarantine", d)
	}

	c.SetReject("forged sender")
	if d, reason := c.Disposition(); d != Reject || reason != "forged sender" {
		t.Fatalf("Disposition = %v/%q, want Reject/forged sender", d, reason)
	}

	c.SetTempfail("transient backend error")
	if d, reason := c.Disposition(); d != Reject {
		t.Fatalf("Disposition after a weaker SetTempfail = %v/%q, want unchanged Reject", d, reason)
	}
}

func TestAbortClearsMessageStateButKeepsConnectionIdentity(t *testing.T) {
	c := NewContext(nil, log.Logger{})
	c.ClientIP = nil
	c.HeloName = "mail.example.com"
	c.IsTrustedIPAddress = true
	c.EnvelopeFrom = "user@example.com"
	c.EnvelopeRcpt = []string{"rcpt@example.com"}
	c.SetState("spf", "some-state")
	c.AddAuthHeader(Fragment{Method: "spf", Result: "pass"})
	c.SetReject("bad sender")

	c.Abort()

	if c.EnvelopeFrom != "" || c.EnvelopeRcpt != nil {
		t.Fatalf("envelope not cleared: from=%q rcpt=%v", c.EnvelopeFrom, c.EnvelopeRcpt)
	}
	if len(c.Fragments()) != 0 {
		t.Fatalf("fragments not cleared: %v", c.Fragments())
	}
	if c.State("spf") != nil {
		t.Fatal("handler state not cleared after Abort")
	}
	if d, _ := c.Disposition(); d != Continue {
		t.Fatalf("Disposition after Abort = %v, want Continue", d)
	}
	if c.HeloName != "mail.example.com" || !c.IsTrustedIPAddress {
		t.Fatal("connection identity must survive Abort")
	}
}

func TestStateRoundTripsPerHandler(t *testing.T) {
	c := NewContext(nil, log.Logger{})
	c.SetState("dkim", 42)
	c.SetState("spf", "pass")

	if got := c.State("dkim"); got != 42 {
		t.Fatalf("State(dkim) = %v, want 42", got)
	}
	if got := c.State("spf"); got != "pass" {
		t.Fatalf("State(spf) = %v, want pass", got)
	}
	if got := c.State("unset"); got != nil {
		t.Fatalf("State(unset) = %v, want nil", got)
	}
}

func TestAddCAuthHeaderMarksCommentOnly(t *testing.T) {
	c := NewContext(nil, log.Logger{})
	c.AddCAuthHeader(Fragment{Method: "x-note", Comment: "informational"})

	frags := c.Fragments()
	if len(frags) != 1 || !frags[0].CommentOnly {
		t.Fatalf("fragments = %+v, want one CommentOnly fragment", frags)
	}
}

func TestFragmentsReturnsASnapshotCopy(t *testing.T) {
	c := NewContext(nil, log.Logger{})
	c.AddAuthHeader(Fragment{Method: "spf", Result: "pass"})

	frags := c.Fragments()
	frags[0].Result = "mutated"

	if got := c.Fragments(); got[0].Result != "pass" {
		t.Fatalf("Fragments()[0].Result = %q after mutating a prior snapshot, want unaffected pass", got[0].Result)
	}
}

func TestWithQueueIDAnnotatesLogger(t *testing.T) {
	c := NewContext(nil, log.Logger{})
	c.WithQueueID("abc123")
	if c.QueueID != "abc123" {
		t.Fatalf("QueueID = %q, want abc123", c.QueueID)
	}
}
