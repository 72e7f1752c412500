// Package freshness decides whether a cached record may still be served.
package freshness

import (
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
)

const Day = 24 * time.Hour

// TTLDays returns the record's TTL, defaulting when unset.
func TTLDays(rec *model.CacheRecord) int {
	if rec == nil || rec.TTLDays <= 0 {
		return model.DefaultTTLDays
	}
	return rec.TTLDays
}

// ExpiresAt is lastAccessAt plus the TTL.
func ExpiresAt(rec *model.CacheRecord) time.Time {
	return rec.LastAccessAt.Add(time.Duration(TTLDays(rec)) * Day)
}

// IsFresh reports whether rec has a usable payload and has not expired at now.
func IsFresh(rec *model.CacheRecord, now time.Time) bool {
	if rec == nil || rec.Payload.Empty() {
		return false
	}
	return ExpiresAt(rec).After(now)
}

// IsExpired is the cleanup predicate. A record exactly at its expiry instant
// is neither fresh nor expired.
func IsExpired(rec *model.CacheRecord, now time.Time) bool {
	return ExpiresAt(rec).Before(now)
}

// DaysUntilExpiry rounds up to whole days and never goes negative.
func DaysUntilExpiry(rec *model.CacheRecord, now time.Time) int {
	left := ExpiresAt(rec).Sub(now)
	if left <= 0 {
		return 0
	}
	days := int(left / Day)
	if left%Day != 0 {
		days++
	}
	return days
}
