package dnsbl

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/authgate/authgate/framework/dns"
	"github.com/authgate/authgate/internal/gateway"
)

func noServerResolver() *dns.Resolver {
	return dns.NewResolver(nil, time.Second, 0)
}

func TestReverseQueryReversesOctets(t *testing.T) {
	got, err := reverseQuery("192.0.2.1")
	if err != nil {
		t.Fatalf("reverseQuery: %v", err)
	}
	if got != "1.2.0.192" {
		t.Fatalf("reverseQuery = %q, want 1.2.0.192", got)
	}
}

func TestReverseQueryRejectsNonIPv4(t *testing.T) {
	if _, err := reverseQuery("2001:db8::1"); err == nil {
		t.Fatal("expected an error for a non-dotted-quad address")
	}
}

func TestConnectSkippedForLocalTrustedAndAuthenticated(t *testing.T) {
	h := New(noServerResolver(), nil)

	for _, c := range []*gateway.Context{
		{ClientIP: net.ParseIP("10.0.0.1"), IsLocalIPAddress: true},
		{ClientIP: net.ParseIP("10.0.0.2"), IsTrustedIPAddress: true},
		{ClientIP: net.ParseIP("10.0.0.3"), IsAuthenticated: true},
	} {
		if err := h.Connect(context.Background(), c); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if len(c.Fragments()) != 0 {
			t.Fatalf("expected no fragment recorded for a skipped connection, got %+v", c.Fragments())
		}
	}
}

func TestConnectReportsClearWhenZoneLookupFails(t *testing.T) {
	h := New(noServerResolver(), []string{"zen.spamhaus.org"})
	c := &gateway.Context{ClientIP: net.ParseIP("192.0.2.1")}

	if err := h.Connect(context.Background(), c); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frags := c.Fragments()
	if len(frags) != 1 || frags[0].Method != "x-dnsbl" || frags[0].Result != "clear" {
		t.Fatalf("fragments = %+v, want a single clear x-dnsbl fragment", frags)
	}
}

func TestNewDefaultsZonesWhenNoneGiven(t *testing.T) {
	h := New(noServerResolver(), nil)
	if len(h.zones) != 1 || h.zones[0] != "zen.spamhaus.org" {
		t.Fatalf("zones = %v, want default zone list", h.zones)
	}
}

func TestDescriptorOnlySupportsConnect(t *testing.T) {
	d := New(noServerResolver(), nil).Descriptor()
	if len(d.SupportedStages) != 1 || d.SupportedStages[0] != gateway.StageConnect {
		t.Fatalf("SupportedStages = %v, want [connect]", d.SupportedStages)
	}
}
