// Package openmeteo collects weather observations from an Open-Meteo
// compatible forecast API, one request per configured location.
package openmeteo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/webclient"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/config"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

// ParameterCatalog validates requested variable names against the reference
// table seeded at migration time. Satisfied by the storage backends.
type ParameterCatalog interface {
	KnownParameters(resolution domain.Resolution, requested []string) (valid, invalid []string)
}

// Collector fetches forecasts for all enabled locations. Stateless between
// calls; one GET per location per invocation.
type Collector struct {
	client       *webclient.Client
	baseURL      string
	forecastDays int
	locations    map[string]config.Location
	parameters   map[domain.Resolution][]string
	logger       *slog.Logger
}

// New builds the weather collector. Parameters should already be filtered
// through FilterParameters so the API is never asked for unknown variables.
func New(cfg config.WeatherJob, locations map[string]config.Location, parameters map[domain.Resolution][]string, timeout time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		client:       webclient.New("weather", timeout, ""),
		baseURL:      cfg.URL,
		forecastDays: cfg.ForecastDays,
		locations:    locations,
		parameters:   parameters,
		logger:       logger,
	}
}

// FilterParameters drops requested variable names the catalogue does not know,
// logging each dropped name. Mirrors the catalogue check the storage layer
// applies on write, but fails loudly at startup instead of silently later.
func FilterParameters(catalog ParameterCatalog, requested map[domain.Resolution][]string, logger *slog.Logger) map[domain.Resolution][]string {
	out := make(map[domain.Resolution][]string, len(requested))
	for _, resolution := range domain.Resolutions {
		valid, invalid := catalog.KnownParameters(resolution, requested[resolution])
		for _, name := range invalid {
			logger.Warn("ignoring unknown weather parameter",
				"parameter", name, "resolution", string(resolution))
		}
		if len(valid) > 0 {
			out[resolution] = valid
		}
	}
	return out
}

// Name implements domain.Collector.
func (c *Collector) Name() string { return "weather" }

// Collect fetches every enabled location. Per-location failures are
// aggregated; the error is surfaced only when no location produced records,
// so one unreachable location does not discard the rest of the fetch.
func (c *Collector) Collect(ctx context.Context) ([]domain.Record, error) {
	names := make([]string, 0, len(c.locations))
	for name := range c.locations {
		names = append(names, name)
	}
	sort.Strings(names)

	var records []domain.Record
	var errs *multierror.Error
	for _, name := range names {
		recs, err := c.fetchLocation(ctx, name, c.locations[name])
		if err != nil {
			c.logger.Warn("location fetch failed", "location", name, "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		records = append(records, recs...)
	}

	if len(records) == 0 && errs != nil {
		err := errs.ErrorOrNil()
		if domain.IsTransient(err) {
			return nil, domain.Transient("weather", err)
		}
		return nil, domain.Permanent("weather", err)
	}
	return records, nil
}

func (c *Collector) fetchLocation(ctx context.Context, name string, loc config.Location) ([]domain.Record, error) {
	body, err := c.client.Get(ctx, c.requestURL(loc))
	if err != nil {
		return nil, err
	}
	fetchedAt := domain.Clock().Now().UTC()

	records, err := parseForecast(body, name, fetchedAt, c.parameters)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.Permanentf("weather", "response for %s contained no requested blocks", name)
	}
	return records, nil
}

// requestURL builds the forecast query. Unix timestamps in UTC keep parsing
// and storage free of timezone arithmetic.
func (c *Collector) requestURL(loc config.Location) string {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("timeformat", "unixtime")
	q.Set("timezone", "UTC")
	q.Set("forecast_days", fmt.Sprintf("%d", c.forecastDays))
	if p := c.parameters[domain.ResolutionHourly]; len(p) > 0 {
		q.Set("hourly", strings.Join(p, ","))
	}
	if p := c.parameters[domain.ResolutionDaily]; len(p) > 0 {
		q.Set("daily", strings.Join(p, ","))
	}
	if p := c.parameters[domain.ResolutionCurrent]; len(p) > 0 {
		q.Set("current", strings.Join(p, ","))
	}
	return c.baseURL + "?" + q.Encode()
}
