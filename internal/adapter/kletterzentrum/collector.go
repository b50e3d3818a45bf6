// Package kletterzentrum collects gym occupancy snapshots from the
// Kletterzentrum Innsbruck website. All markup knowledge lives here so a page
// redesign only ever touches this adapter.
package kletterzentrum

import (
	"context"
	"log/slog"
	"time"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/adapter/webclient"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/config"
	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

// Collector scrapes the occupancy widget. Stateless between calls; one GET
// per invocation.
type Collector struct {
	client *webclient.Client
	url    string
	logger *slog.Logger
}

// New builds the occupancy collector from its job config.
func New(cfg config.OccupancyJob, timeout time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		client: webclient.New("kletterzentrum", timeout, cfg.UserAgent),
		url:    cfg.URL,
		logger: logger,
	}
}

// Name implements domain.Collector.
func (c *Collector) Name() string { return "kletterzentrum" }

// Collect fetches the page and parses it into a single snapshot stamped at
// fetch time. A page without the widget is a permanent failure: the markup
// changed and retrying cannot help.
func (c *Collector) Collect(ctx context.Context) ([]domain.Record, error) {
	body, err := c.client.Get(ctx, c.url)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, domain.Transientf("kletterzentrum", "empty response body")
	}

	snap, err := parseOccupancy(string(body), domain.Clock().Now().UTC())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("parsed occupancy widget",
		"overall", intOrNil(snap.Overall),
		"rope_area", intOrNil(snap.RopeArea),
		"boulder_area", intOrNil(snap.BoulderArea),
		"open_sectors", intOrNil(snap.OpenSectors),
		"total_sectors", intOrNil(snap.TotalSectors),
	)
	return []domain.Record{domain.NewOccupancyRecord(snap)}, nil
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
