package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/cache"
)

// DegradeLevel names the fallback that produced a degraded reading.
type DegradeLevel string

const (
	DegradeStale       DegradeLevel = "stale"
	DegradeMock        DegradeLevel = "mock"
	DegradeUnavailable DegradeLevel = "unavailable"
)

// SnapshotReader is the read side of the cache the degrader consults.
type SnapshotReader interface {
	Get(key string) (cache.Entry, bool)
}

// Generator produces synthetic snapshots.
type Generator interface {
	Generate(facilityID string, hour int) (core.Snapshot, error)
}

// Degrader picks the best available answer once live data cannot be obtained.
type Degrader struct {
	Cache     SnapshotReader
	Generator Generator
	// Location sets the hour of day handed to the generator.
	Location *time.Location
	Clock    func() time.Time
	Logger   Logger
}

// Resolve returns, in order of preference: any cached entry regardless of age,
// a synthetic reading, or a zero-filled unavailable reading.
func (d *Degrader) Resolve(facilityID string, cause error) (core.Reading, DegradeLevel) {
	log := loggerOrNop(d.logger())

	if d != nil && d.Cache != nil {
		if entry, ok := d.Cache.Get(facilityID); ok {
			reading := core.ReadingFromSnapshot(facilityID, entry.Payload)
			reading.DataAvailable = true
			reading.IsStale = true
			reading.Source = core.SourceStale
			fetchedAt := entry.FetchedAt
			reading.FetchedAt = &fetchedAt
			log.Info("serving stale occupancy after fetch failure",
				zap.String("facility_id", facilityID),
				zap.Time("fetched_at", entry.FetchedAt),
				zap.Error(cause))
			return reading, DegradeStale
		}
	}

	reading, err := d.synthesize(facilityID)
	if err == nil {
		log.Warn("serving synthetic occupancy",
			zap.String("facility_id", facilityID),
			zap.Error(cause))
		return reading, DegradeMock
	}

	log.Error("occupancy unavailable",
		zap.String("facility_id", facilityID),
		zap.Error(cause),
		zap.NamedError("generator_error", err))
	return core.UnavailableReading(facilityID, unavailableMessage(cause, err)), DegradeUnavailable
}

// Synthesize runs the generator for the current hour.
func (d *Degrader) Synthesize(facilityID string) (core.Reading, error) {
	return d.synthesize(facilityID)
}

func (d *Degrader) synthesize(facilityID string) (reading core.Reading, err error) {
	if d == nil || d.Generator == nil {
		return core.Reading{}, fmt.Errorf("no synthetic generator configured")
	}

	defer func() {
		if r := recover(); r != nil {
			reading = core.Reading{}
			err = fmt.Errorf("synthetic generator panicked: %v", r)
		}
	}()

	snap, err := d.Generator.Generate(facilityID, d.hour())
	if err != nil {
		return core.Reading{}, err
	}
	snap.Source = core.SourceMock
	snap.DataAvailable = true

	reading = core.ReadingFromSnapshot(facilityID, snap.Clamp())
	return reading, nil
}

func (d *Degrader) hour() int {
	now := time.Now()
	if d.Clock != nil {
		now = d.Clock()
	}
	if d.Location != nil {
		now = now.In(d.Location)
	}
	return now.Hour()
}

func (d *Degrader) logger() Logger {
	if d == nil {
		return nil
	}
	return d.Logger
}

func unavailableMessage(cause, genErr error) string {
	switch {
	case cause != nil && genErr != nil:
		return fmt.Sprintf("%v; fallback failed: %v", cause, genErr)
	case cause != nil:
		return cause.Error()
	case genErr != nil:
		return genErr.Error()
	default:
		return ""
	}
}
