// Command loadgen drives GET /solar with a Zipf-skewed location mix so a
// small set of grid cells turns hot, and reports latency and cache hit ratio.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	TargetURL      string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	Locations      int
	OutputPrefix   string
	RequestTimeout time.Duration
	LocationFile   string
	Seed           int64
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/solar", "solarcache /solar URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.Locations, "locations", 256, "Distinct locations in pool")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 30*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.LocationFile, "locations-file", "", "Optional CSV (lat,lng) to use instead of random locations")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed; 0 uses the clock")
	flag.Parse()
	return cfg
}

type Location struct {
	Lat float64
	Lng float64
}

// makeLocations spreads n points over the inhabited latitude range.
func makeLocations(n int, r *rand.Rand) []Location {
	out := make([]Location, 0, n)
	for range n {
		out = append(out, Location{
			Lat: math.Round((-55+r.Float64()*125)*1e4) / 1e4,
			Lng: math.Round((-180+r.Float64()*360)*1e4) / 1e4,
		})
	}
	return out
}

// loadLocationsCSV reads lat,lng rows; a header row and malformed rows are
// skipped.
func loadLocationsCSV(path string) ([]Location, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return parseLocations(f)
}

func parseLocations(r io.Reader) ([]Location, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var out []Location
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			continue
		}
		out = append(out, Location{Lat: lat, Lng: lng})
	}
	return out, nil
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Source    string
	ErrorMsg  string
	Index     int
}

type summary struct {
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	DurationSec   float64        `json:"duration_sec"`
	TotalRequests int64          `json:"total_requests"`
	SuccessCount  int64          `json:"success_count"`
	ErrorCount    int64          `json:"error_count"`
	HitRatio      float64        `json:"hit_ratio"`
	BySource      map[string]int `json:"by_source"`
	ThroughputRPS float64        `json:"throughput_rps"`
	P50Ms         float64        `json:"p50_ms"`
	P95Ms         float64        `json:"p95_ms"`
	P99Ms         float64        `json:"p99_ms"`
	Concurrency   int            `json:"concurrency"`
	ZipfS         float64        `json:"zipf_s"`
	ZipfV         float64        `json:"zipf_v"`
	Locations     int            `json:"locations"`
	TargetURL     string         `json:"target_url"`
}

// aggregate folds samples into a summary; latencies of successful calls only.
func aggregate(samples <-chan sample, w *csv.Writer) summary {
	s := summary{BySource: map[string]int{}}
	var lat []float64
	_ = w.Write([]string{"timestamp", "latency_ms", "status", "source", "error", "location_idx"})
	for x := range samples {
		s.TotalRequests++
		ms := float64(x.Latency.Microseconds()) / 1000.0
		if x.ErrorMsg == "" {
			s.SuccessCount++
			s.BySource[x.Source]++
			lat = append(lat, ms)
		} else {
			s.ErrorCount++
		}
		_ = w.Write([]string{
			x.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(ms, 'f', 3, 64),
			strconv.Itoa(x.Status),
			x.Source,
			x.ErrorMsg,
			strconv.Itoa(x.Index),
		})
	}
	w.Flush()

	sort.Float64s(lat)
	s.P50Ms = percentile(lat, 50)
	s.P95Ms = percentile(lat, 95)
	s.P99Ms = percentile(lat, 99)
	if s.SuccessCount > 0 {
		s.HitRatio = float64(s.BySource["local"]) / float64(s.SuccessCount)
	}
	return s
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(seed))

	var locs []Location
	if strings.TrimSpace(cfg.LocationFile) != "" {
		var err error
		if locs, err = loadLocationsCSV(cfg.LocationFile); err != nil {
			log.Printf("WARN: %v; falling back to random locations", err)
		}
	}
	if len(locs) == 0 {
		locs = makeLocations(cfg.Locations, r)
	}
	if len(locs) == 0 {
		log.Fatalf("no locations generated")
	}
	imax := uint64(len(locs)) - 1

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		log.Fatalf("bad target: %v", err)
	}

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samples := make(chan sample, 4096)
	results := make(chan summary, 1)
	go func() { results <- aggregate(samples, csv.NewWriter(csvFile)) }()

	start := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) locations=%d",
		cfg.TargetURL, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(locs))

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for ctx.Err() == nil {
				idx := int(zipf.Uint64())
				s := call(ctx, httpClient, *target, locs[idx])
				s.Index = idx
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(samples)
	}()

	sum := <-results
	sum.StartTime = start.UTC()
	sum.EndTime = time.Now().UTC()
	sum.DurationSec = sum.EndTime.Sub(sum.StartTime).Seconds()
	sum.ThroughputRPS = float64(sum.TotalRequests) / sum.DurationSec
	sum.Concurrency = cfg.Concurrency
	sum.ZipfS, sum.ZipfV = cfg.ZipfS, cfg.ZipfV
	sum.Locations = len(locs)
	sum.TargetURL = cfg.TargetURL

	if f, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
		_ = f.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d hit=%.2f thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		sum.TotalRequests, sum.SuccessCount, sum.ErrorCount, sum.HitRatio, sum.ThroughputRPS, sum.P50Ms, sum.P95Ms, sum.P99Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func call(ctx context.Context, hc *http.Client, u url.URL, loc Location) sample {
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(loc.Lng, 'f', -1, 64))
	u.RawQuery = q.Encode()

	s := sample{Timestamp: time.Now()}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	defer func() { _ = resp.Body.Close() }()
	s.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
		return s
	}
	var body struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.ErrorMsg = "decode: " + err.Error()
		return s
	}
	s.Source = body.Source
	return s
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
