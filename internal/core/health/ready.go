package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// ReadinessReporter is implemented by the invalidation consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Check is one named readiness dependency; a nil error means ready.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PingCheck adapts anything with a Ping method.
func PingCheck(name string, p interface{ Ping(context.Context) error }) Check {
	return Check{Name: name, Fn: p.Ping}
}

// ConsumerCheck fails while rr has no partitions assigned.
func ConsumerCheck(name string, rr ReadinessReporter) Check {
	return Check{Name: name, Fn: func(context.Context) error {
		if ok, _ := rr.Readiness(); !ok {
			return errNotAssigned
		}
		return nil
	}}
}

var errNotAssigned = errors.New("no partitions assigned")

const checkTimeout = 2 * time.Second

func Readiness(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		out := resp{Status: "ready", Checks: map[string]string{}}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				out.Status = "not_ready"
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
