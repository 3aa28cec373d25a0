package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/engine"
	apperrors "github.com/parklens/parklens/internal/errors"
	"github.com/parklens/parklens/internal/metrics"
	servermw "github.com/parklens/parklens/internal/server/middleware"
)

const (
	// DefaultMaxBatch caps the number of facilities in one bulk request.
	DefaultMaxBatch = 50
	// DefaultWaitTimeout bounds a read when no WaitTimeout is set.
	DefaultWaitTimeout = 45 * time.Second
)

// OccupancyService is the read surface the HTTP handlers need.
type OccupancyService interface {
	Read(ctx context.Context, facilityID string, opts engine.ReadOptions) core.Reading
	ReadMany(ctx context.Context, facilityIDs []string, opts engine.ReadOptions) []core.Reading
	Direct(ctx context.Context, facilityID string) ([]byte, error)
	Status() engine.Status
}

// ParkingHandler serves live occupancy endpoints.
type ParkingHandler struct {
	Service  OccupancyService
	MaxBatch int
	// WaitTimeout caps how long a request waits on the read path. A cold
	// read past it answers with the loading placeholder while the fetch
	// keeps filling the cache.
	WaitTimeout time.Duration
}

// AreaReadings is the response for a district read.
type AreaReadings struct {
	Area        string         `json:"area"`
	Description string         `json:"description"`
	Readings    []core.Reading `json:"readings"`
}

// Live handles GET /api/parkings/{id}/live.
func (h *ParkingHandler) Live(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, err := core.NormalizeFacilityID(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid facility id"))
		return
	}

	query := r.URL.Query()
	direct, err := queryBool(query, "direct")
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid query parameter"))
		return
	}
	opts, err := readOptions(query)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid query parameter"))
		return
	}

	if direct && !opts.Mock {
		h.direct(w, r, id)
		metrics.RecordReadDuration("http_direct", time.Since(start))
		return
	}

	ctx, cancel := h.waitContext(r)
	defer cancel()

	reading := h.Service.Read(ctx, id, opts)
	metrics.RecordReading("http", string(reading.Source), reading.DataAvailable)
	metrics.RecordReadDuration("http", time.Since(start))
	w.Header().Set(servermw.DataSourceHeader, reading.Status())
	writeJSON(w, http.StatusOK, reading)
}

func (h *ParkingHandler) direct(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := h.waitContext(r)
	defer cancel()

	body, err := h.Service.Direct(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			respondWithError(w, r, apperrors.WrapTimeout(r.Context(), err, "Direct upstream request timed out"))
			return
		}
		respondWithError(w, r, apperrors.WrapExternalService(r.Context(), err, "Direct upstream request failed"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// LiveMany handles GET /api/parkings/live?ids=1,2,3.
func (h *ParkingHandler) LiveMany(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query()

	ids, err := h.parseIDs(query.Get("ids"))
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid ids parameter"))
		return
	}
	opts, err := readOptions(query)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid query parameter"))
		return
	}

	ctx, cancel := h.waitContext(r)
	defer cancel()

	readings := h.Service.ReadMany(ctx, ids, opts)
	for _, reading := range readings {
		metrics.RecordReading("http_batch", string(reading.Source), reading.DataAvailable)
	}
	metrics.RecordReadDuration("http_batch", time.Since(start))
	writeJSON(w, http.StatusOK, readings)
}

// Areas handles GET /api/areas.
func (h *ParkingHandler) Areas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.BuiltInAreas)
}

// AreaLive handles GET /api/areas/{area}/live.
func (h *ParkingHandler) AreaLive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	code := chi.URLParam(r, "area")
	if unescaped, err := url.PathUnescape(code); err == nil {
		code = unescaped
	}
	area, ok := core.FindBuiltInArea(code)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("Unknown area %q", code)))
		return
	}

	opts, err := readOptions(r.URL.Query())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid query parameter"))
		return
	}

	ctx, cancel := h.waitContext(r)
	defer cancel()

	readings := h.Service.ReadMany(ctx, area.FacilityIDs, opts)
	for _, reading := range readings {
		metrics.RecordReading("http_area", string(reading.Source), reading.DataAvailable)
	}
	metrics.RecordReadDuration("http_area", time.Since(start))
	writeJSON(w, http.StatusOK, AreaReadings{
		Area:        area.Code,
		Description: area.Description,
		Readings:    readings,
	})
}

// CacheStats handles GET /api/cache/stats.
func (h *ParkingHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Status())
}

func (h *ParkingHandler) waitContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *ParkingHandler) parseIDs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("ids is required")
	}

	limit := h.MaxBatch
	if limit <= 0 {
		limit = DefaultMaxBatch
	}

	parts := strings.Split(raw, ",")
	if len(parts) > limit {
		return nil, fmt.Errorf("at most %d ids per request, got %d", limit, len(parts))
	}

	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		id, err := core.NormalizeFacilityID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func readOptions(query url.Values) (engine.ReadOptions, error) {
	mock, err := queryBool(query, "mock")
	if err != nil {
		return engine.ReadOptions{}, err
	}
	noCache, err := queryBool(query, "noCache")
	if err != nil {
		return engine.ReadOptions{}, err
	}
	return engine.ReadOptions{Mock: mock, NoCache: noCache}, nil
}

func queryBool(query url.Values, key string) (bool, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, raw)
	}
	return value, nil
}
