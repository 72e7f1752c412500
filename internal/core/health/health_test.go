package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fakeConsumer struct{ ok bool }

func (f fakeConsumer) Readiness() (bool, []int32) { return f.ok, nil }

func TestReadiness_AllChecksPass(t *testing.T) {
	h := Readiness(
		Check{Name: "store", Fn: func(context.Context) error { return nil }},
		ConsumerCheck("invalidation", fakeConsumer{ok: true}),
	)
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestReadiness_FailingCheck(t *testing.T) {
	h := Readiness(
		Check{Name: "store", Fn: func(context.Context) error { return errors.New("dial tcp: refused") }},
		ConsumerCheck("invalidation", fakeConsumer{}),
	)
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`"status":"not_ready"`, "dial tcp: refused", "no partitions assigned"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body=%s missing %q", body, want)
		}
	}
}
