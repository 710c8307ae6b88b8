package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/greentic-ai/messaging-gateway/internal/registry"
)

func TestListRegistryFiltersByKind(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(registry.Descriptor{Name: "slack-default", Kind: registry.KindIngressEgress}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(registry.Descriptor{Name: "webex-default", Kind: registry.KindEgress}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s := NewServer(nil, reg, zerolog.Nop())
	mux := s.NewRouter()

	req := httptest.NewRequest("GET", "/admin/registry?kind=Egress", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !containsSubstring(rec.Body.String(), "webex-default") {
		t.Fatalf("expected webex-default in response, got %s", rec.Body.String())
	}
}

func TestGetRegistryEntryNotFound(t *testing.T) {
	s := NewServer(nil, registry.New(), zerolog.Nop())
	mux := s.NewRouter()

	req := httptest.NewRequest("GET", "/admin/registry/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListDLQWithoutConfiguredQueueReturns503(t *testing.T) {
	s := NewServer(nil, registry.New(), zerolog.Nop())
	mux := s.NewRouter()

	req := httptest.NewRequest("GET", "/admin/dlq?tenant=acme&stage=ingress", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
