package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func occupancyRecord(capturedAt time.Time, overall int) domain.Record {
	return domain.NewOccupancyRecord(domain.OccupancySnapshot{
		CapturedAt: capturedAt,
		Overall:    &overall,
	})
}

func hourlyRecord(ts, fetchedAt time.Time, temp float64) domain.Record {
	return domain.NewWeatherRecord(domain.WeatherObservation{
		Location:   "innsbruck",
		Resolution: domain.ResolutionHourly,
		Timestamp:  ts,
		FetchedAt:  fetchedAt,
		Values:     map[string]float64{"temperature_2m": temp, "precipitation": 0.2},
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestMigrate_SeedsParameterCatalogueOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var total, distinct int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*), COUNT(DISTINCT name || '/' || resolution) FROM weather_parameters").
		Scan(&total, &distinct))
	assert.Positive(t, total)
	assert.Equal(t, distinct, total)
}

func TestWrite_OccupancyIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	capturedAt := time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC)

	n, err := s.Write(ctx, []domain.Record{occupancyRecord(capturedAt, 87)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same capture instant: first write wins, even with different payload.
	n, err = s.Write(ctx, []domain.Record{occupancyRecord(capturedAt, 99)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var overall int
	require.NoError(t, s.db.QueryRow(
		"SELECT overall FROM occupancy_snapshots WHERE captured_at = ?", capturedAt.Unix()).
		Scan(&overall))
	assert.Equal(t, 87, overall)
}

func TestWrite_OccupancyNullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.NewOccupancyRecord(domain.OccupancySnapshot{
		CapturedAt: time.Date(2026, 3, 14, 12, 10, 0, 0, time.UTC),
	})
	n, err := s.Write(ctx, []domain.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var overall *int
	require.NoError(t, s.db.QueryRow("SELECT overall FROM occupancy_snapshots").Scan(&overall))
	assert.Nil(t, overall)
}

func TestWrite_WeatherIdentityIncludesFetchTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forecastTime := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	firstFetch := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

	n, err := s.Write(ctx, []domain.Record{hourlyRecord(forecastTime, firstFetch, 1.5)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Replayed fetch: same identity, no new row.
	n, err = s.Write(ctx, []domain.Record{hourlyRecord(forecastTime, firstFetch, 9.9)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// A later fetch of the same forecast hour is a distinct row.
	n, err = s.Write(ctx, []domain.Record{hourlyRecord(forecastTime, firstFetch.Add(time.Hour), 2.1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM weather_hourly").Scan(&rows))
	assert.Equal(t, 2, rows)
}

func TestWrite_CurrentConditionsKeyedOnFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fetchedAt := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)

	rec := domain.NewWeatherRecord(domain.WeatherObservation{
		Location:   "innsbruck",
		Resolution: domain.ResolutionCurrent,
		Timestamp:  fetchedAt.Add(-5 * time.Minute),
		FetchedAt:  fetchedAt,
		Values:     map[string]float64{"temperature_2m": 1.8},
	})

	n, err := s.Write(ctx, []domain.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Write(ctx, []domain.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWrite_UnknownVariableDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := domain.NewWeatherRecord(domain.WeatherObservation{
		Location:   "innsbruck",
		Resolution: domain.ResolutionHourly,
		Timestamp:  time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
		FetchedAt:  time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
		Values: map[string]float64{
			"temperature_2m":   1.5,
			"made_up_variable": 42.0,
		},
	})

	// The unknown name is filtered against the catalogue; the row still lands.
	n, err := s.Write(ctx, []domain.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var temp float64
	require.NoError(t, s.db.QueryRow("SELECT temperature_2m FROM weather_hourly").Scan(&temp))
	assert.Equal(t, 1.5, temp)
}

func TestWrite_InvalidRecordDoesNotAbortBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := domain.NewOccupancyRecord(domain.OccupancySnapshot{}) // zero capture time
	good := occupancyRecord(time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC), 50)

	n, err := s.Write(ctx, []domain.Record{bad, good})
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestKnownParameters(t *testing.T) {
	s := newTestStore(t)

	valid, invalid := s.KnownParameters(domain.ResolutionHourly,
		[]string{"temperature_2m", "made_up_variable", "precipitation"})
	assert.Equal(t, []string{"temperature_2m", "precipitation"}, valid)
	assert.Equal(t, []string{"made_up_variable"}, invalid)

	// Daily-only names are not valid hourly.
	_, invalid = s.KnownParameters(domain.ResolutionHourly, []string{"temperature_2m_max"})
	assert.Equal(t, []string{"temperature_2m_max"}, invalid)
}

func TestOpen(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open("sqlite", filepath.Join(t.TempDir(), "open.sqlite3"))
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open("oracle", "dsn")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oracle")
	})
}
