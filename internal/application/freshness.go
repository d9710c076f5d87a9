package application

import "time"

// Freshness classifies a snapshot entry by the age of its timestamp.
type Freshness int

const (
	// FreshnessFresh entries are younger than the TTL and served to readers.
	FreshnessFresh Freshness = iota
	// FreshnessStale entries are past the TTL: treated as absent on read but
	// kept until they expire.
	FreshnessStale
	// FreshnessExpired entries are past the maximum age and removed by the sweep.
	FreshnessExpired
)

// String returns a human-readable name for the freshness tier.
func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessStale:
		return "stale"
	case FreshnessExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// classifyFreshness determines the tier of an entry stamped at ts. A zero
// timestamp is treated as expired. Timestamps in the future count as fresh.
func classifyFreshness(ts, now time.Time, ttl, maxAge time.Duration) Freshness {
	if ts.IsZero() {
		return FreshnessExpired
	}

	age := now.Sub(ts)

	switch {
	case age > maxAge:
		return FreshnessExpired
	case age > ttl:
		return FreshnessStale
	default:
		return FreshnessFresh
	}
}
