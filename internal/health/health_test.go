package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLivenessBeforeAnyProgressIsOKWithinStartupGrace(t *testing.T) {
	m := New(prometheus.NewRegistry())
	blockLive, vcpLive := m.Liveness(time.Now(), time.Minute)
	if !blockLive || !vcpLive {
		t.Fatalf("expected both live immediately after startup, got block=%v vcp=%v", blockLive, vcpLive)
	}
}

func TestLivenessDetectsStall(t *testing.T) {
	m := New(prometheus.NewRegistry())
	past := time.Now().Add(-time.Hour)
	m.MarkBlockProgress(past)
	m.MarkVCPProgress(time.Now())

	blockLive, vcpLive := m.Liveness(time.Now(), time.Minute)
	if blockLive {
		t.Fatalf("expected block pipeline to be reported stalled")
	}
	if !vcpLive {
		t.Fatalf("expected vcp to be reported live")
	}
}

func TestHandleHealthReturns503WhenDegraded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.MarkBlockProgress(time.Now().Add(-time.Hour))

	s := NewServer("127.0.0.1:0", m, time.Minute, reg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Block != "stalled" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleHealthReturns200WhenFresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	s := NewServer("127.0.0.1:0", m, time.Minute, reg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
