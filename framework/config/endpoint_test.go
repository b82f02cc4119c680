package config

import "testing"

func TestParseEndpointInet(t *testing.T) {
	ep, err := ParseEndpoint("inet:3333@127.0.0.1")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Network() != "tcp" || ep.Address() != "127.0.0.1:3333" {
		t.Fatalf("Network/Address = %q/%q, want tcp/127.0.0.1:3333", ep.Network(), ep.Address())
	}
}

func TestParseEndpointInetDefaultsHostToAllInterfaces(t *testing.T) {
	ep, err := ParseEndpoint("inet:3333@")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Host != "0.0.0.0" {
		t.Fatalf("Host = %q, want 0.0.0.0", ep.Host)
	}
}

func TestParseEndpointUnixAbsolutePath(t *testing.T) {
	ep, err := ParseEndpoint("unix:/run/authgate/authgate.sock")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Network() != "unix" || ep.Address() != "/run/authgate/authgate.sock" {
		t.Fatalf("Network/Address = %q/%q", ep.Network(), ep.Address())
	}
}

func TestParseEndpointRejectsMissingScheme(t *testing.T) {
	if _, err := ParseEndpoint("127.0.0.1:3333"); err == nil {
		t.Fatal("expected an error for a scheme-less endpoint")
	}
}

func TestParseEndpointRejectsUnknownScheme(t *testing.T) {
	if _, err := ParseEndpoint("udp:3333@127.0.0.1"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}

func TestParseEndpointRejectsInvalidPort(t *testing.T) {
	if _, err := ParseEndpoint("inet:notaport@127.0.0.1"); err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
}
