package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test", "", "", "")
	ObserveHTTP("GET", "/solar", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "solarcache_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestCacheAndJobCounters(t *testing.T) {
	before := testutil.ToFloat64(cacheResults.WithLabelValues("hit", "local"))
	ObserveCacheResult("hit", "local")
	if got := testutil.ToFloat64(cacheResults.WithLabelValues("hit", "local")); got != before+1 {
		t.Fatalf("cache hit counter=%g want %g", got, before+1)
	}

	errBefore := testutil.ToFloat64(jobRuns.WithLabelValues("cleanup", "error"))
	ObserveJobRun("cleanup", errors.New("boom"), 0.5)
	if got := testutil.ToFloat64(jobRuns.WithLabelValues("cleanup", "error")); got != errBefore+1 {
		t.Fatalf("job error counter=%g want %g", got, errBefore+1)
	}

	SetHotLocations(7)
	if got := testutil.ToFloat64(hotLocations); got != 7 {
		t.Fatalf("hot gauge=%g want 7", got)
	}
}

func TestInit_IdempotentPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg)
	Init(nil)

	ObserveStoreOp("list", nil, 0.001)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "solarcache_store_op_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("store op counter not exported by custom registry")
	}
}

func TestInvalidationCounters(t *testing.T) {
	okBefore := testutil.ToFloat64(invalidationMsgs.WithLabelValues("ok"))
	delBefore := testutil.ToFloat64(invalidationDeleted)

	ObserveInvalidation("ok", 3)
	ObserveInvalidation("duplicate", 0)
	SetInvalidationLagSeconds(1.5)

	if got := testutil.ToFloat64(invalidationMsgs.WithLabelValues("ok")); got != okBefore+1 {
		t.Fatalf("ok counter=%g want %g", got, okBefore+1)
	}
	if got := testutil.ToFloat64(invalidationDeleted); got != delBefore+3 {
		t.Fatalf("deleted counter=%g want %g", got, delBefore+3)
	}
	if got := testutil.ToFloat64(invalidationLag); got != 1.5 {
		t.Fatalf("lag gauge=%g want 1.5", got)
	}
}
