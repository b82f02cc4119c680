package registry

import (
	"context"
	"testing"

	"github.com/authgate/authgate/internal/gateway"
)

type stubHandler struct{ gateway.BaseHandler }

func (stubHandler) Descriptor() gateway.Descriptor { return gateway.Descriptor{Name: "test-stub"} }
func (stubHandler) Connect(context.Context, *gateway.Context) error { return nil }

func TestRegisterGetBuild(t *testing.T) {
	Register("test-stub", func() (gateway.Handler, error) { return stubHandler{}, nil })

	if Get("test-stub") == nil {
		t.Fatal("Get(\"test-stub\") = nil after Register")
	}

	handlers, err := Build([]string{"test-stub"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(handlers) != 1 || handlers[0].Descriptor().Name != "test-stub" {
		t.Fatalf("Build = %+v, want one test-stub handler", handlers)
	}
}

func TestBuildUnknownHandlerNameFails(t *testing.T) {
	if _, err := Build([]string{"does-not-exist"}); err == nil {
		t.Fatal("expected an error for an unregistered handler name")
	}
}

func TestRegisterDuplicateNamePanics(t *testing.T) {
	Register("test-stub-dup", func() (gateway.Handler, error) { return stubHandler{}, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic on a duplicate name")
		}
	}()
	Register("test-stub-dup", func() (gateway.Handler, error) { return stubHandler{}, nil })
}
