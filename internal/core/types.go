package core

import "time"

// Source identifies where an occupancy snapshot came from.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceMock     Source = "mock"
	SourceStale    Source = "stale"
)

// Snapshot is the normalized occupancy of one facility at one point in time.
type Snapshot struct {
	TotalSpaces      int       `json:"totalSpaces"`
	FreeSpaces       int       `json:"freeSpaces"`
	HandicappedTotal int       `json:"handicappedTotal"`
	HandicappedFree  int       `json:"handicappedFree"`
	DataAvailable    bool      `json:"dataAvailable"`
	Source           Source    `json:"source,omitempty"`
	GeneratedAt      time.Time `json:"generatedAt,omitempty"`
}

// Clamp keeps free counts within [0, total] and totals non-negative.
func (s Snapshot) Clamp() Snapshot {
	s.TotalSpaces = max(s.TotalSpaces, 0)
	s.HandicappedTotal = max(s.HandicappedTotal, 0)
	s.FreeSpaces = clampInt(s.FreeSpaces, 0, s.TotalSpaces)
	s.HandicappedFree = clampInt(s.HandicappedFree, 0, s.HandicappedTotal)
	return s
}

// Reading is the shape returned to callers of the read entrypoint.
type Reading struct {
	FacilityID       string     `json:"facilityId,omitempty" yaml:"facilityId,omitempty"`
	TotalSpaces      int        `json:"totalSpaces" yaml:"totalSpaces"`
	FreeSpaces       int        `json:"freeSpaces" yaml:"freeSpaces"`
	HandicappedTotal int        `json:"handicappedTotal" yaml:"handicappedTotal"`
	HandicappedFree  int        `json:"handicappedFree" yaml:"handicappedFree"`
	DataAvailable    bool       `json:"dataAvailable" yaml:"dataAvailable"`
	IsStale          bool       `json:"isStale,omitempty" yaml:"isStale,omitempty"`
	IsLoading        bool       `json:"isLoading,omitempty" yaml:"isLoading,omitempty"`
	Source           Source     `json:"source,omitempty" yaml:"source,omitempty"`
	Error            string     `json:"error,omitempty" yaml:"error,omitempty"`
	FetchedAt        *time.Time `json:"fetchedAt,omitempty" yaml:"fetchedAt,omitempty"`
}

// ReadingFromSnapshot converts a snapshot into a reading for a facility.
func ReadingFromSnapshot(facilityID string, snap Snapshot) Reading {
	return Reading{
		FacilityID:       facilityID,
		TotalSpaces:      snap.TotalSpaces,
		FreeSpaces:       snap.FreeSpaces,
		HandicappedTotal: snap.HandicappedTotal,
		HandicappedFree:  snap.HandicappedFree,
		DataAvailable:    snap.DataAvailable,
		Source:           snap.Source,
	}
}

// LoadingReading is returned while another request is fetching the same facility.
func LoadingReading(facilityID string) Reading {
	return Reading{
		FacilityID:    facilityID,
		DataAvailable: true,
		IsLoading:     true,
	}
}

// UnavailableReading is the last-resort zero-filled reading.
func UnavailableReading(facilityID string, message string) Reading {
	if message == "" {
		message = "occupancy data unavailable"
	}
	return Reading{
		FacilityID:    facilityID,
		DataAvailable: false,
		Error:         message,
	}
}

// Reading statuses reported by Status.
const (
	StatusLive        = "live"
	StatusStale       = "stale"
	StatusMock        = "mock"
	StatusLoading     = "loading"
	StatusUnavailable = "unavailable"
)

// Status classifies the reading for display and metrics labels.
func (r Reading) Status() string {
	switch {
	case r.IsLoading:
		return StatusLoading
	case !r.DataAvailable:
		return StatusUnavailable
	case r.IsStale:
		return StatusStale
	case r.Source == SourceMock:
		return StatusMock
	default:
		return StatusLive
	}
}

// Degraded reports whether the reading is anything other than live data.
func (r Reading) Degraded() bool {
	return r.Status() != StatusLive
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
