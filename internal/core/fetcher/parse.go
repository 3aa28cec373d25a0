package fetcher

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"github.com/parklens/parklens/internal/core"
)

var (
	errEmptyBody     = errors.New("empty body")
	errNoOccupancy   = errors.New("no occupancy data in payload")
	errNestedWrapper = errors.New("wrapped payload nested more than one level")
)

type spaceCounts struct {
	Total *float64 `json:"total"`
	Free  *float64 `json:"free"`
}

type spaces struct {
	Overall     *spaceCounts `json:"overall"`
	Handicapped *spaceCounts `json:"handicapped"`
}

type congestion struct {
	Spaces *spaces `json:"spaces"`
}

type payload struct {
	Parking *struct {
		Congestion *congestion `json:"congestion"`
	} `json:"parking"`
	Congestion *congestion `json:"congestion"`
	Spaces     *spaces     `json:"spaces"`

	// Relay wrapper: the upstream body as a string.
	Contents *string `json:"contents"`
	Status   *struct {
		HTTPCode int `json:"http_code"`
	} `json:"status"`
}

// ParseSnapshot decodes either a structured occupancy payload or a wrapper
// whose contents field holds one, and returns a clamped snapshot.
func ParseSnapshot(body []byte) (core.Snapshot, error) {
	return parseSnapshot(body, 0)
}

func parseSnapshot(body []byte, depth int) (core.Snapshot, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return core.Snapshot{}, errEmptyBody
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode payload: %w", err)
	}

	if s := p.spaces(); s != nil {
		return snapshotFromSpaces(s)
	}

	if p.Contents != nil {
		if depth > 0 {
			return core.Snapshot{}, errNestedWrapper
		}
		if p.Status != nil && p.Status.HTTPCode != 0 && (p.Status.HTTPCode < 200 || p.Status.HTTPCode > 299) {
			return core.Snapshot{}, fmt.Errorf("wrapped upstream status %d", p.Status.HTTPCode)
		}
		return parseSnapshot([]byte(*p.Contents), depth+1)
	}

	return core.Snapshot{}, errNoOccupancy
}

func (p *payload) spaces() *spaces {
	switch {
	case p.Parking != nil && p.Parking.Congestion != nil && p.Parking.Congestion.Spaces != nil:
		return p.Parking.Congestion.Spaces
	case p.Congestion != nil && p.Congestion.Spaces != nil:
		return p.Congestion.Spaces
	default:
		return p.Spaces
	}
}

func snapshotFromSpaces(s *spaces) (core.Snapshot, error) {
	if s.Overall == nil || s.Overall.Total == nil {
		return core.Snapshot{}, errNoOccupancy
	}

	snap := core.Snapshot{
		TotalSpaces:   toInt(s.Overall.Total),
		FreeSpaces:    toInt(s.Overall.Free),
		DataAvailable: true,
		Source:        core.SourceUpstream,
	}
	if s.Handicapped != nil {
		snap.HandicappedTotal = toInt(s.Handicapped.Total)
		snap.HandicappedFree = toInt(s.Handicapped.Free)
	}
	return snap.Clamp(), nil
}

func toInt(v *float64) int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return int(math.Floor(*v))
}
