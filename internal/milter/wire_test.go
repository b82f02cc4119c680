package milter

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	payload := []byte("example.com\x00")
	if err := writeFrame(w, SMFIC_HELO, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	r := bufio.NewReader(&buf)
	f, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.cmd != SMFIC_HELO {
		t.Fatalf("cmd = %v, want %v", f.cmd, SMFIC_HELO)
	}
	if !bytes.Equal(f.payload, payload) {
		t.Fatalf("payload = %q, want %q", f.payload, payload)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	if _, err := readFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected an error for a zero-length frame")
	}
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := readFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected an error for a frame exceeding maxFrame")
	}
}

func TestSplitCStrings(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []string
	}{
		{"empty", nil, nil},
		{"one terminated", []byte("a\x00"), []string{"a"}},
		{"two terminated", []byte("a\x00b\x00"), []string{"a", "b"}},
		{"trailing unterminated", []byte("a\x00b"), []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCStrings(tt.payload)
			if len(got) != len(tt.want) {
				t.Fatalf("splitCStrings(%q) = %v, want %v", tt.payload, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("splitCStrings(%q)[%d] = %q, want %q", tt.payload, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWriteFrameMultipleThenReadInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := writeFrame(w, SMFIC_MAIL, encodeCString("sender@example.com")); err != nil {
		t.Fatalf("writeFrame mail: %v", err)
	}
	if err := writeFrame(w, SMFIC_RCPT, encodeCString("rcpt@example.com")); err != nil {
		t.Fatalf("writeFrame rcpt: %v", err)
	}

	r := bufio.NewReader(&buf)
	f1, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame 1: %v", err)
	}
	f2, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame 2: %v", err)
	}
	if f1.cmd != SMFIC_MAIL || f2.cmd != SMFIC_RCPT {
		t.Fatalf("frame order = %v, %v; want MAIL, RCPT", f1.cmd, f2.cmd)
	}
}
