package trustedip

import (
	"context"
	"net"
	"testing"

	"github.com/authgate/authgate/internal/gateway"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func TestConnectMarksLocalAndTrustedIndependently(t *testing.T) {
	h := New(Options{
		LocalNets:   []*net.IPNet{mustCIDR(t, "127.0.0.0/8")},
		TrustedNets: []*net.IPNet{mustCIDR(t, "10.0.0.0/8")},
	})

	c := &gateway.Context{ClientIP: net.ParseIP("10.1.2.3")}
	if err := h.Connect(context.Background(), c); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.IsLocalIPAddress {
		t.Fatal("IsLocalIPAddress = true, want false for a trusted-only address")
	}
	if !c.IsTrustedIPAddress {
		t.Fatal("IsTrustedIPAddress = false, want true")
	}
}

func TestConnectNoMatchLeavesBothFalse(t *testing.T) {
	h := New(Options{
		LocalNets:   []*net.IPNet{mustCIDR(t, "127.0.0.0/8")},
		TrustedNets: []*net.IPNet{mustCIDR(t, "10.0.0.0/8")},
	})

	c := &gateway.Context{ClientIP: net.ParseIP("203.0.113.5")}
	if err := h.Connect(context.Background(), c); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.IsLocalIPAddress || c.IsTrustedIPAddress {
		t.Fatalf("expected neither flag set for an unmatched address, got local=%v trusted=%v",
			c.IsLocalIPAddress, c.IsTrustedIPAddress)
	}
}

func TestSetNetworksReplacesOptionsAfterConstruction(t *testing.T) {
	h := New(Options{})
	h.SetNetworks(Options{LocalNets: []*net.IPNet{mustCIDR(t, "127.0.0.0/8")}})

	c := &gateway.Context{ClientIP: net.ParseIP("127.0.0.1")}
	if err := h.Connect(context.Background(), c); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsLocalIPAddress {
		t.Fatal("IsLocalIPAddress = false, want true after SetNetworks installed a matching CIDR")
	}
}

func TestDescriptorOnlySupportsConnect(t *testing.T) {
	d := New(Options{}).Descriptor()
	if len(d.SupportedStages) != 1 || d.SupportedStages[0] != gateway.StageConnect {
		t.Fatalf("SupportedStages = %v, want [connect]", d.SupportedStages)
	}
}
