package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the payload carried by a Record.
type Kind string

const (
	KindOccupancy Kind = "occupancy"
	KindWeather   Kind = "weather"
)

// Resolution is the time grain of a weather observation.
type Resolution string

const (
	ResolutionHourly  Resolution = "hourly"
	ResolutionDaily   Resolution = "daily"
	ResolutionCurrent Resolution = "current"
)

// Resolutions lists all weather resolutions in catalogue order.
var Resolutions = []Resolution{ResolutionHourly, ResolutionDaily, ResolutionCurrent}

// OccupancySnapshot is one reading of the climbing gym utilization widget.
// CapturedAt is the identity key; every payload field may be missing when the
// page omits or garbles the corresponding widget element.
type OccupancySnapshot struct {
	CapturedAt   time.Time
	Overall      *int
	RopeArea     *int
	BoulderArea  *int
	OpenSectors  *int
	TotalSectors *int
}

// WeatherObservation is one row of forecast or current-conditions data for a
// configured location. Values maps variable names to readings; a variable the
// API returned as null is simply absent from the map.
type WeatherObservation struct {
	Location   string
	Resolution Resolution
	// Timestamp is the forecast time (hourly), forecast date (daily) or
	// observation instant (current).
	Timestamp time.Time
	// FetchedAt is the instant the API call completed.
	FetchedAt time.Time
	Values    map[string]float64
}

// Record is the kind-tagged variant flowing from collectors to storage, so the
// runner and storage adapter stay source-agnostic.
type Record struct {
	Kind      Kind
	Occupancy *OccupancySnapshot
	Weather   *WeatherObservation
}

// NewOccupancyRecord wraps a snapshot as a Record.
func NewOccupancyRecord(s OccupancySnapshot) Record {
	return Record{Kind: KindOccupancy, Occupancy: &s}
}

// NewWeatherRecord wraps an observation as a Record.
func NewWeatherRecord(o WeatherObservation) Record {
	return Record{Kind: KindWeather, Weather: &o}
}

// Validate checks identity-key completeness. Records failing validation must
// never reach storage; a zero identity field would silently break idempotent
// conflict handling.
func (r Record) Validate() error {
	switch r.Kind {
	case KindOccupancy:
		if r.Occupancy == nil {
			return errors.New("occupancy record without payload")
		}
		if r.Occupancy.CapturedAt.IsZero() {
			return errors.New("occupancy record without capture time")
		}
		return nil
	case KindWeather:
		w := r.Weather
		if w == nil {
			return errors.New("weather record without payload")
		}
		if w.Location == "" {
			return errors.New("weather record without location")
		}
		if w.FetchedAt.IsZero() {
			return errors.New("weather record without fetch time")
		}
		switch w.Resolution {
		case ResolutionHourly, ResolutionDaily:
			if w.Timestamp.IsZero() {
				return fmt.Errorf("%s weather record without forecast time", w.Resolution)
			}
		case ResolutionCurrent:
			// identity is (fetched_at, location); observation time is payload only
		default:
			return fmt.Errorf("unknown weather resolution %q", w.Resolution)
		}
		return nil
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
}

// Collector retrieves observations from one external source and normalizes
// them into records. Implementations keep no state between calls and issue at
// most a small constant number of outbound requests per invocation.
type Collector interface {
	// Name identifies the source in job registries, logs and metrics.
	Name() string
	// Collect performs the fetch. Errors are classified as transient or
	// permanent via the types in errors.go.
	Collect(ctx context.Context) ([]Record, error)
}
