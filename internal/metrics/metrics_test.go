package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_ExportsCacheCollectors(t *testing.T) {
	p := New(Config{}, nil)

	observability.ObserveCacheResult("miss", "pvgis")
	observability.ObserveProvider("pvgis", "ok", 0.2)
	observability.ObserveJobRun("prefetch", nil, 1.5)
	observability.ExposeBuildInfo("test", "abc123", "main", "2026-01-01")

	body := scrape(t, p.Handler())
	assertHasMetricLine(t, body, "solarcache_cache_results_total", `outcome="miss"`, `source="pvgis"`)
	assertHasMetricLine(t, body, "solarcache_provider_requests_total", `provider="pvgis"`, `result="ok"`)
	assertHasMetricLine(t, body, "solarcache_job_runs_total", `job="prefetch"`, `result="ok"`)
	assertHasMetricLine(t, body, "solarcache_build_info", `version="test"`, `revision="abc123"`)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload")
	}
	if strings.Contains(body, "binary_info") {
		t.Fatalf("build info exported twice:\n%s", body)
	}
}

func TestProvider_RegisterAddsCollector(t *testing.T) {
	p := New(Config{}, nil)
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "solarcache_test_gauge", Help: "test"})
	p.Register(g)
	g.Set(42)

	if !strings.Contains(scrape(t, p.Handler()), "solarcache_test_gauge 42") {
		t.Fatal("registered gauge missing from scrape")
	}
}

func TestServeListener_UsesConfiguredPathAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := New(Config{Path: "/internal/metrics"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.ServeListener(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/internal/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "solarcache_cache_results_total") {
		t.Fatalf("status=%d body=%.200s", resp.StatusCode, b)
	}

	resp, err = http.Get(base + DefaultPath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("default path status=%d want 404", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
