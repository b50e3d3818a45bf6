// Package storage persists normalized records idempotently in SQLite or
// PostgreSQL. Both backends share identical semantics; dialect differences
// (placeholders, DDL types, DSN handling) stay inside each implementation.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

// Store is the persistence boundary for the collection pipeline.
type Store interface {
	// Migrate applies pending schema migrations in order. Re-running is a
	// no-op. A failure here is startup-blocking.
	Migrate(ctx context.Context) error
	// Write upserts records keyed on their identity; a conflicting identity
	// leaves the existing row untouched and counts as zero newly written.
	// Returns the number of rows actually inserted. Individual write failures
	// do not abort the batch; already-committed rows stay committed.
	Write(ctx context.Context, records []domain.Record) (int, error)
	// KnownParameters splits requested weather variable names into those the
	// parameter catalogue declares valid for the resolution and those it does
	// not. Only meaningful after Migrate.
	KnownParameters(resolution domain.Resolution, requested []string) (valid, invalid []string)
	Close() error
}

// MigrationError wraps a schema migration failure. It is fatal: the process
// must not start collecting against an unknown schema.
type MigrationError struct {
	Err error
}

func (e *MigrationError) Error() string { return fmt.Sprintf("migration failed: %v", e.Err) }

func (e *MigrationError) Unwrap() error { return e.Err }

// Open builds the store for the configured driver.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// catalog holds the variable names the weather_parameters reference table
// declares valid per resolution. Loaded once after migration.
type catalog map[domain.Resolution]map[string]bool

// store is the dialect-independent core shared by both backends. The rebind
// hook converts "?" placeholders to the dialect's notation.
type store struct {
	db      *sql.DB
	rebind  func(query string) string
	catalog catalog
}

func (s *store) Close() error { return s.db.Close() }

// loadCatalog reads weather_parameters into memory so writes can filter
// unknown variable names instead of failing on missing columns.
func (s *store) loadCatalog(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name, resolution FROM weather_parameters")
	if err != nil {
		return fmt.Errorf("load parameter catalogue: %w", err)
	}
	defer rows.Close()

	c := catalog{}
	for rows.Next() {
		var name string
		var resolution domain.Resolution
		if err := rows.Scan(&name, &resolution); err != nil {
			return fmt.Errorf("scan parameter catalogue: %w", err)
		}
		if c[resolution] == nil {
			c[resolution] = make(map[string]bool)
		}
		c[resolution][name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read parameter catalogue: %w", err)
	}
	s.catalog = c
	return nil
}

// KnownParameters splits requested variable names into those present in the
// catalogue for the resolution and those that are not.
func (s *store) KnownParameters(resolution domain.Resolution, requested []string) (valid, invalid []string) {
	known := s.catalog[resolution]
	for _, name := range requested {
		if known[name] {
			valid = append(valid, name)
		} else {
			invalid = append(invalid, name)
		}
	}
	return valid, invalid
}

func (s *store) Write(ctx context.Context, records []domain.Record) (int, error) {
	written := 0
	var errs *multierror.Error
	for _, r := range records {
		n, err := s.writeOne(ctx, r)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		written += n
	}
	return written, errs.ErrorOrNil()
}

// writeOne inserts a single record in its own implicit transaction, so a
// failure here never disturbs rows written earlier in the batch.
func (s *store) writeOne(ctx context.Context, r domain.Record) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	switch r.Kind {
	case domain.KindOccupancy:
		return s.writeOccupancy(ctx, *r.Occupancy)
	case domain.KindWeather:
		return s.writeWeather(ctx, *r.Weather)
	default:
		return 0, fmt.Errorf("unknown record kind %q", r.Kind)
	}
}

func (s *store) writeOccupancy(ctx context.Context, snap domain.OccupancySnapshot) (int, error) {
	query := s.rebind("INSERT INTO occupancy_snapshots " +
		"(captured_at, overall, rope_area, boulder_area, open_sectors, total_sectors) " +
		"VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (captured_at) DO NOTHING")

	res, err := s.db.ExecContext(ctx, query,
		snap.CapturedAt.Unix(),
		nullableInt(snap.Overall),
		nullableInt(snap.RopeArea),
		nullableInt(snap.BoulderArea),
		nullableInt(snap.OpenSectors),
		nullableInt(snap.TotalSectors),
	)
	if err != nil {
		return 0, fmt.Errorf("insert occupancy snapshot: %w", err)
	}
	return rowsInserted(res)
}

func (s *store) writeWeather(ctx context.Context, obs domain.WeatherObservation) (int, error) {
	table, idCols, idVals := weatherIdentity(obs)

	names := make([]string, 0, len(obs.Values))
	for name := range obs.Values {
		if s.catalog[obs.Resolution][name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	cols := append([]string{}, idCols...)
	vals := append([]any{}, idVals...)
	for _, name := range names {
		cols = append(cols, name)
		vals = append(vals, obs.Values[name])
	}

	query := s.rebind(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		conflictColumns(obs.Resolution),
	))

	res, err := s.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return 0, fmt.Errorf("insert %s weather row for %s: %w", obs.Resolution, obs.Location, err)
	}
	return rowsInserted(res)
}

// weatherIdentity returns the target table and the identity columns/values
// for the observation's resolution. The current table additionally stores the
// observation instant as payload.
func weatherIdentity(obs domain.WeatherObservation) (table string, cols []string, vals []any) {
	switch obs.Resolution {
	case domain.ResolutionHourly:
		return "weather_hourly",
			[]string{"forecast_time", "location", "fetched_at"},
			[]any{obs.Timestamp.Unix(), obs.Location, obs.FetchedAt.Unix()}
	case domain.ResolutionDaily:
		return "weather_daily",
			[]string{"forecast_date", "location", "fetched_at"},
			[]any{obs.Timestamp.Unix(), obs.Location, obs.FetchedAt.Unix()}
	default:
		return "weather_current",
			[]string{"fetched_at", "location", "observed_at"},
			[]any{obs.FetchedAt.Unix(), obs.Location, nullableTime(obs.Timestamp)}
	}
}

func conflictColumns(resolution domain.Resolution) string {
	switch resolution {
	case domain.ResolutionHourly:
		return "forecast_time, location, fetched_at"
	case domain.ResolutionDaily:
		return "forecast_date, location, fetched_at"
	default:
		return "fetched_at, location"
	}
}

func rowsInserted(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
