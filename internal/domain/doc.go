// Package domain models the normalized observations the worker collects.
//
// # Data Sources
//
// Occupancy snapshots come from the Kletterzentrum Innsbruck website, which
// embeds a live utilization widget in its HTML:
//
//	<h2 class="x-text-content-text-primary">  →  overall visitor count
//	<div class="bar-container">               →  one per climbing area, holding a
//	  <span class="label"> ("Seil…"/"Boulder…") and a
//	  <div class="bar" data-percentage="NN">  →  area utilization percent
//	"Offene Sektoren" heading followed by
//	  <span class="first">/<span class="second"> →  open / total sector counts
//
// Some page revisions render the bars with inline CSS heights instead of data
// attributes ("height: 42%"), which is kept as a parse fallback.
//
// Weather observations come from an Open-Meteo compatible forecast API. One
// request per configured location returns up to three blocks (hourly, daily,
// current), each a map of variable name to value array (or scalar for
// current) plus a parallel "time" array of unix timestamps. Variable names
// follow the Open-Meteo catalogue (temperature_2m, precipitation,
// wind_gusts_10m, soil_moisture_0_to_1cm, …); the valid set per resolution is
// seeded into the weather_parameters reference table at migration time.
//
// # Identity
//
// Records are append-only and deduplicated by identity key rather than by a
// generated id:
//
//	occupancy        →  captured_at
//	weather hourly   →  (forecast time, location, fetched_at)
//	weather daily    →  (forecast date, location, fetched_at)
//	weather current  →  (fetched_at, location)
//
// Including fetched_at for forecasts lets the same target hour be recorded
// again as the forecast evolves, while replaying one fetch stays a no-op
// (ON CONFLICT DO NOTHING downstream).
//
// # Failure Taxonomy
//
// Collectors classify every failure as transient (timeouts, 429, 5xx: worth
// retrying) or permanent (other 4xx, source markup or schema changed: needs a
// human). The runner retries only transient failures.
package domain
