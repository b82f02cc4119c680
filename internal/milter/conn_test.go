package milter

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/authgate/authgate/framework/log"
	"github.com/authgate/authgate/internal/gateway"
	"github.com/authgate/authgate/internal/pipeline"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	sched, err := pipeline.New(nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return &Engine{Scheduler: sched, ServerID: "authgate.test"}
}

func readReply(t *testing.T, r *bufio.Reader) frame {
	t.Helper()
	fr, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	return fr
}

func TestStepIdleRejectsNonOptNeg(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)

	_, closeConn, err := e.step(context.Background(), c, stateIdle, frame{cmd: SMFIC_HELO}, w, map[string]string{})
	if err == nil || !closeConn {
		t.Fatalf("expected a protocol error closing the connection, got closeConn=%v err=%v", closeConn, err)
	}
}

func TestStepNegotiatesThenConnects(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	r := bufio.NewReader(&out)
	macros := map[string]string{}

	st, closeConn, err := e.step(context.Background(), c, stateIdle, frame{cmd: SMFIC_OPTNEG, payload: encodeOptNeg(ProtocolVersion, 0, 0)}, w, macros)
	if err != nil || closeConn {
		t.Fatalf("OPTNEG: st=%v closeConn=%v err=%v", st, closeConn, err)
	}
	if st != stateNegotiated {
		t.Fatalf("state after OPTNEG = %v, want stateNegotiated", st)
	}
	if fr := readReply(t, r); fr.cmd != SMFIC_OPTNEG {
		t.Fatalf("reply command = %v, want OPTNEG echo", fr.cmd)
	}

	connectPayload := append([]byte("mail.example.com\x00"), SMFIA_UNKNOWN)
	st, closeConn, err = e.step(context.Background(), c, st, frame{cmd: SMFIC_CONNECT, payload: connectPayload}, w, macros)
	if err != nil || closeConn {
		t.Fatalf("CONNECT: st=%v closeConn=%v err=%v", st, closeConn, err)
	}
	if st != stateConnected {
		t.Fatalf("state after CONNECT = %v, want stateConnected", st)
	}
	if fr := readReply(t, r); fr.cmd != SMFIR_CONTINUE {
		t.Fatalf("reply command = %v, want CONTINUE", fr.cmd)
	}
}

func TestStepConnectedAcceptsHeloAndMail(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	r := bufio.NewReader(&out)
	macros := map[string]string{}

	st, _, err := e.step(context.Background(), c, stateConnected, frame{cmd: SMFIC_HELO, payload: []byte("mail.example.com\x00")}, w, macros)
	if err != nil || st != stateHeloSeen {
		t.Fatalf("HELO: st=%v err=%v", st, err)
	}
	readReply(t, r)

	st, _, err = e.step(context.Background(), c, st, frame{cmd: SMFIC_MAIL, payload: []byte("user@example.com\x00")}, w, macros)
	if err != nil || st != stateEnvFromSeen {
		t.Fatalf("MAIL: st=%v err=%v", st, err)
	}
	readReply(t, r)
	if c.EnvelopeFrom != "user@example.com" {
		t.Fatalf("EnvelopeFrom = %q, want user@example.com", c.EnvelopeFrom)
	}
}

func TestStepQuitClosesFromAnyPostConnectState(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)

	_, closeConn, err := e.step(context.Background(), c, stateConnected, frame{cmd: SMFIC_QUIT}, w, map[string]string{})
	if err != nil || !closeConn {
		t.Fatalf("QUIT: closeConn=%v err=%v, want closeConn=true err=nil", closeConn, err)
	}
}

func TestStepAbortReturnsToConnectedAndClearsEnvelope(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	c.EnvelopeFrom = "user@example.com"
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	r := bufio.NewReader(&out)

	st, closeConn, err := e.step(context.Background(), c, stateEnvFromSeen, frame{cmd: SMFIC_ABORT}, w, map[string]string{})
	if err != nil || closeConn {
		t.Fatalf("ABORT: st=%v closeConn=%v err=%v", st, closeConn, err)
	}
	if st != stateConnected {
		t.Fatalf("state after ABORT = %v, want stateConnected", st)
	}
	if c.EnvelopeFrom != "" {
		t.Fatalf("EnvelopeFrom = %q after Abort, want cleared", c.EnvelopeFrom)
	}
	if fr := readReply(t, r); fr.cmd != SMFIR_CONTINUE {
		t.Fatalf("reply command = %v, want CONTINUE", fr.cmd)
	}
}

func TestStepMacroUpdatesQueueIDWithoutChangingState(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	macros := map[string]string{}

	payload := append([]byte{'C'}, encodeCString("i")...)
	payload = append(payload, encodeCString("abc123")...)

	st, closeConn, err := e.step(context.Background(), c, stateConnected, frame{cmd: SMFIC_MACRO, payload: payload}, w, macros)
	if err != nil || closeConn {
		t.Fatalf("MACRO: st=%v closeConn=%v err=%v", st, closeConn, err)
	}
	if st != stateConnected {
		t.Fatalf("state after MACRO = %v, want unchanged stateConnected", st)
	}
	if c.QueueID != "abc123" {
		t.Fatalf("QueueID = %q, want abc123", c.QueueID)
	}
	if out.Len() != 0 {
		t.Fatal("MACRO frame should not produce a reply")
	}
}

func TestStepHeaderStreamingThenEOHThenBodyThenEOM(t *testing.T) {
	e := newTestEngine(t)
	e.ServerID = "authgate.test"
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	r := bufio.NewReader(&out)
	macros := map[string]string{}

	st, _, err := e.step(context.Background(), c, stateEnvFromSeen, frame{cmd: SMFIC_HEADER, payload: append(encodeCString("Subject"), encodeCString("hi")...)}, w, macros)
	if err != nil || st != stateHeadersStreaming {
		t.Fatalf("HEADER: st=%v err=%v", st, err)
	}
	readReply(t, r)

	st, _, err = e.step(context.Background(), c, st, frame{cmd: SMFIC_EOH}, w, macros)
	if err != nil || st != stateEOH {
		t.Fatalf("EOH: st=%v err=%v", st, err)
	}
	readReply(t, r)

	st, _, err = e.step(context.Background(), c, st, frame{cmd: SMFIC_BODY, payload: []byte("hello")}, w, macros)
	if err != nil || st != stateBodyStreaming {
		t.Fatalf("BODY: st=%v err=%v", st, err)
	}
	readReply(t, r)

	st, closeConn, err := e.step(context.Background(), c, st, frame{cmd: SMFIC_BODYEOB}, w, macros)
	if err != nil || closeConn {
		t.Fatalf("BODYEOB: st=%v closeConn=%v err=%v", st, closeConn, err)
	}
	if st != stateConnected {
		t.Fatalf("state after BODYEOB = %v, want stateConnected", st)
	}

	if fr := readReply(t, r); fr.cmd != SMFIR_INSHEADER {
		t.Fatalf("first EOM reply = %v, want INSHEADER carrying Authentication-Results", fr.cmd)
	}
	if fr := readReply(t, r); fr.cmd != SMFIR_ACCEPT && fr.cmd != SMFIR_CONTINUE {
		t.Fatalf("final EOM disposition reply = %v, want ACCEPT or CONTINUE", fr.cmd)
	}
}

func TestStepUnexpectedCommandInConnectedStateIsProtocolError(t *testing.T) {
	e := newTestEngine(t)
	c := gateway.NewContext(nil, log.Logger{})
	var out bytes.Buffer
	w := bufio.NewWriter(&out)

	_, closeConn, err := e.step(context.Background(), c, stateConnected, frame{cmd: SMFIC_RCPT}, w, map[string]string{})
	if err == nil || !closeConn {
		t.Fatalf("expected a protocol error for RCPT before MAIL, got closeConn=%v err=%v", closeConn, err)
	}
}
