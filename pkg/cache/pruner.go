package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/semsql"
)

// Pruner runs Cache.PruneExpired on a fixed interval, grounded on the
// teacher's cron-backed source: an "@every" schedule rather than a plain
// time.Ticker, so the same expression syntax config authors already use
// for scheduled sources works here too.
type Pruner struct {
	cache    *Cache
	interval time.Duration
	cron     *cron.Cron
	log      semsql.Logger
}

// NewPruner builds a Pruner for interval, e.g. 10*time.Minute. It does not
// start running until Start is called.
func NewPruner(c *Cache, interval time.Duration, log semsql.Logger) *Pruner {
	return &Pruner{
		cache:    c,
		interval: interval,
		cron:     cron.New(),
		log:      log,
	}
}

// Start schedules periodic pruning and returns immediately; call Stop to
// shut it down.
func (p *Pruner) Start(ctx context.Context) error {
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		n := p.cache.PruneExpired(ctx)
		if p.log != nil && n > 0 {
			p.log.Info("cache prune: removed expired L1 entries", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache prune: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
