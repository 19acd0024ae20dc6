package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func decodeJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", raw, err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodGet, "/api/health", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeJSON(t, rr.Body.Bytes())["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpointHealthy(t *testing.T) {
	h := newHarness(t)
	h.service.probes = []Probe{{Name: "cache", Check: func(context.Context) error { return nil }}}

	rr := h.do(t, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr.Body.Bytes())
	if payload["status"] != "ready" {
		t.Fatalf("expected status=ready, got %v", payload["status"])
	}
	checks := payload["checks"].(map[string]any)
	if _, ok := checks["cache"]; !ok {
		t.Fatalf("expected cache probe in checks: %v", checks)
	}
}

func TestReadyEndpointReportsFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		failed string
	}{
		{
			name:   "database down",
			setup:  func(h *harness) { h.store.pingFn = func(context.Context) error { return errors.New("connection refused") } },
			failed: "database",
		},
		{
			name: "probe down",
			setup: func(h *harness) {
				h.service.probes = []Probe{{Name: "search", Check: func(context.Context) error { return errors.New("meilisearch unhealthy") }}}
			},
			failed: "search",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			rr := h.do(t, http.MethodGet, "/api/ready", "", "")
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected status 503, got %d", rr.Code)
			}
			payload := decodeJSON(t, rr.Body.Bytes())
			if payload["ok"] != false || payload["status"] != "not_ready" {
				t.Fatalf("unexpected payload: %v", payload)
			}
			check := payload["checks"].(map[string]any)[tt.failed].(map[string]any)
			if check["status"] != "error" {
				t.Fatalf("expected %s status=error, got %v", tt.failed, check)
			}
		})
	}
}

func TestOptionsPreflight(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodOptions, "/api/contents", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatal("expected CORS headers")
	}
}
