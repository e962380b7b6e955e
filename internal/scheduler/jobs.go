package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgrid/signalbench/internal/monitor"
	"github.com/marketgrid/signalbench/internal/resultcache"
)

// jobTimeout bounds any single maintenance run.
const jobTimeout = 2 * time.Minute

// CacheSweepJob deletes expired result-cache entries.
type CacheSweepJob struct {
	Cache *resultcache.Cache
	Log   zerolog.Logger
}

func (j *CacheSweepJob) Name() string { return "cache_sweep" }

func (j *CacheSweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := j.Cache.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.Log.Info().Int64("removed", removed).Msg("Expired cache entries swept")
	}
	return nil
}

// MonitorCleanupJob prunes execution history beyond the retention window.
type MonitorCleanupJob struct {
	Tracker       *monitor.Tracker
	RetentionDays int
}

func (j *MonitorCleanupJob) Name() string { return "monitor_cleanup" }

func (j *MonitorCleanupJob) Run() error {
	j.Tracker.Cleanup(j.RetentionDays)
	return nil
}
