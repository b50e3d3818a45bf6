package openmeteo

import (
	"encoding/json"
	"time"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

// forecastPayload is the subset of the API response the collector consumes.
// Each block maps variable names (plus "time") to arrays, or scalars for the
// current block. Unknown top-level fields are ignored.
type forecastPayload struct {
	Hourly  map[string]json.RawMessage `json:"hourly"`
	Daily   map[string]json.RawMessage `json:"daily"`
	Current map[string]json.RawMessage `json:"current"`
}

// parseForecast turns one API response into records: one observation per
// returned timestamp per requested resolution. Null variable values are
// dropped, never turned into zeros. A response that does not decode is a
// permanent failure: the API contract changed.
func parseForecast(body []byte, location string, fetchedAt time.Time, parameters map[domain.Resolution][]string) ([]domain.Record, error) {
	var payload forecastPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.Permanentf("weather", "decode response for %s: %v", location, err)
	}

	var records []domain.Record

	if params := parameters[domain.ResolutionHourly]; len(params) > 0 && payload.Hourly != nil {
		recs, err := parseSeries(payload.Hourly, location, fetchedAt, domain.ResolutionHourly, params)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	if params := parameters[domain.ResolutionDaily]; len(params) > 0 && payload.Daily != nil {
		recs, err := parseSeries(payload.Daily, location, fetchedAt, domain.ResolutionDaily, params)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	if params := parameters[domain.ResolutionCurrent]; len(params) > 0 && payload.Current != nil {
		rec, err := parseCurrent(payload.Current, location, fetchedAt, params)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// parseSeries decodes an hourly or daily block: a "time" array of unix
// seconds and one parallel value array per variable.
func parseSeries(block map[string]json.RawMessage, location string, fetchedAt time.Time, resolution domain.Resolution, params []string) ([]domain.Record, error) {
	var timestamps []int64
	if err := json.Unmarshal(block["time"], &timestamps); err != nil {
		return nil, domain.Permanentf("weather", "decode %s time axis for %s: %v", resolution, location, err)
	}

	series := make(map[string][]*float64, len(params))
	for _, name := range params {
		raw, ok := block[name]
		if !ok {
			continue
		}
		var values []*float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, domain.Permanentf("weather", "decode %s %s for %s: %v", resolution, name, location, err)
		}
		series[name] = values
	}

	records := make([]domain.Record, 0, len(timestamps))
	for i, ts := range timestamps {
		values := make(map[string]float64)
		for name, column := range series {
			if i < len(column) && column[i] != nil {
				values[name] = *column[i]
			}
		}
		records = append(records, domain.NewWeatherRecord(domain.WeatherObservation{
			Location:   location,
			Resolution: resolution,
			Timestamp:  time.Unix(ts, 0).UTC(),
			FetchedAt:  fetchedAt,
			Values:     values,
		}))
	}
	return records, nil
}

// parseCurrent decodes the current-conditions block: a scalar "time" and one
// scalar per variable.
func parseCurrent(block map[string]json.RawMessage, location string, fetchedAt time.Time, params []string) (domain.Record, error) {
	var observed int64
	if err := json.Unmarshal(block["time"], &observed); err != nil {
		return domain.Record{}, domain.Permanentf("weather", "decode current time for %s: %v", location, err)
	}

	values := make(map[string]float64)
	for _, name := range params {
		raw, ok := block[name]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return domain.Record{}, domain.Permanentf("weather", "decode current %s for %s: %v", name, location, err)
		}
		if v != nil {
			values[name] = *v
		}
	}

	return domain.NewWeatherRecord(domain.WeatherObservation{
		Location:   location,
		Resolution: domain.ResolutionCurrent,
		Timestamp:  time.Unix(observed, 0).UTC(),
		FetchedAt:  fetchedAt,
		Values:     values,
	}), nil
}
