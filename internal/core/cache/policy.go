package cache

import "time"

const (
	DefaultFreshTTL = time.Hour
	DefaultStaleTTL = 7 * 24 * time.Hour
)

// Policy controls how cache entries age.
type Policy struct {
	FreshTTL time.Duration
	StaleTTL time.Duration
}

func policyWithDefaults(policy Policy) Policy {
	if policy.FreshTTL <= 0 {
		policy.FreshTTL = DefaultFreshTTL
	}
	if policy.StaleTTL <= 0 {
		policy.StaleTTL = DefaultStaleTTL
	}
	if policy.StaleTTL < policy.FreshTTL {
		policy.StaleTTL = policy.FreshTTL
	}
	return policy
}

// Freshness is the age class of a cache entry.
type Freshness int

const (
	Cold Freshness = iota
	Stale
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "cold"
	}
}

// Classify reports the freshness of an entry at the given instant.
// A nil entry is Cold. Entries stamped in the future count as age zero.
func (p Policy) Classify(entry *Entry, now time.Time) Freshness {
	if entry == nil {
		return Cold
	}
	p = policyWithDefaults(p)

	age := max(now.Sub(entry.FetchedAt), 0)
	switch {
	case age < p.FreshTTL:
		return Fresh
	case age < p.StaleTTL:
		return Stale
	default:
		return Cold
	}
}
