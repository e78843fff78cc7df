// file: internal/queue/lifecycle.go
// version: 1.1.0
// guid: e3b8d1f6-0a27-4c59-9e4d-71f2a6c8b0d4

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jdfalk/paced-downloader/internal/metrics"
	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/persistence"
	"github.com/jdfalk/paced-downloader/internal/stats"
	"github.com/jdfalk/paced-downloader/internal/watcher"
)

// Start restores the snapshot, launches the workers and the periodic
// persistence and status tasks. Cancelling ctx stops processing; Stop must
// still be called to wait for workers and write the final snapshot.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	switch {
	case q.stopped:
		q.mu.Unlock()
		return ErrQueueStopped
	case q.started:
		q.mu.Unlock()
		return errors.New("queue already started")
	}
	q.started = true
	q.mu.Unlock()

	q.unlink = context.AfterFunc(ctx, q.cancel)
	q.seedStats()
	restored := q.restore()

	for i := 0; i < q.cfg.MaxConcurrentDownloads; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	if len(restored) > 0 {
		q.wg.Add(1)
		go q.feed(restored)
	}
	if q.store != nil {
		q.wg.Add(1)
		go q.persistLoop()
		q.startWatcher()
	}
	if q.status != nil {
		q.wg.Add(1)
		go q.statusLoop()
	}

	metrics.SetQueueDepth(q.queueDepth())
	q.logger.Info("queue started", "workers", q.cfg.MaxConcurrentDownloads, "restored", len(restored))
	return nil
}

// Stop cancels all work, waits up to the shutdown timeout for workers and
// writes a final snapshot and status file. It is safe to call more than once.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	q.logger.Info("shutting down queue")
	q.cancel()
	if q.unlink != nil {
		q.unlink()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	if timeout := q.cfg.ShutdownTimeout; timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("shutdown timeout after %v", timeout)
			q.logger.Warn("workers did not stop in time, saving anyway", "timeout", timeout)
		}
	} else {
		<-done
	}

	if q.watch != nil {
		q.watch.Stop()
	}
	if saveErr := q.Save(); saveErr != nil {
		err = errors.Join(err, saveErr)
	}
	q.WriteStatus()
	q.logger.Info("queue stopped")
	return err
}

// seedStats loads lifetime totals from the history ledger.
func (q *Queue) seedStats() {
	if q.history == nil {
		return
	}
	totals, err := q.history.Totals()
	if err != nil {
		q.logger.Warn("failed to read history totals", "err", err)
		return
	}
	recent, err := q.history.Recent(stats.DefaultRecentLimit)
	if err != nil {
		q.logger.Warn("failed to read recent history", "err", err)
	}
	outcomes := make([]stats.Outcome, 0, len(recent))
	for _, e := range recent {
		outcomes = append(outcomes, e.Outcome())
	}
	q.stats.Seed(totals.Completed, totals.Failed, totals.Artists, outcomes)
}

// restore tracks every snapshot record that is not already tracked or done.
func (q *Queue) restore() []*entry {
	if q.store == nil {
		return nil
	}
	records, err := q.store.Load()
	if err != nil {
		q.logger.Warn("snapshot restore incomplete", "err", err)
	}

	var out []*entry
	for _, r := range records {
		it, err := r.ToItem()
		if err != nil {
			q.logger.Warn("skipping invalid snapshot record", "id", r.ID, "err", err)
			continue
		}
		if it.DestinationPath == "" {
			it.DestinationPath = q.cfg.DefaultDestination
		}
		if q.history != nil {
			if done, _ := q.history.IsCompleted(it.ID); done {
				q.logger.Debug("skipping already downloaded item", "id", it.ID)
				continue
			}
		}
		e, err := q.track(it)
		if err != nil {
			continue
		}
		out = append(out, e)
		q.events.ItemQueued(it)
		q.notify(it)
	}
	return out
}

// feed pushes restored items into the channel without blocking Start.
func (q *Queue) feed(entries []*entry) {
	defer q.wg.Done()
	for _, e := range entries {
		select {
		case q.pending <- e:
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) persistLoop() {
	defer q.wg.Done()
	for {
		var tick <-chan time.Time
		if q.cfg.SaveInterval > 0 {
			tick = q.clk.After(q.cfg.SaveInterval)
		}
		select {
		case <-q.ctx.Done():
			return
		case <-q.saveReq:
		case <-tick:
		}
		_ = q.Save()
	}
}

func (q *Queue) statusLoop() {
	defer q.wg.Done()
	if q.cfg.StatusInterval <= 0 {
		return
	}
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.clk.After(q.cfg.StatusInterval):
		}
		q.WriteStatus()
	}
}

// maybeRequestSave asks the persistence task for an early snapshot once
// enough changes accumulated.
func (q *Queue) maybeRequestSave() {
	if q.store == nil {
		return
	}
	threshold := int64(max(q.cfg.SaveThreshold, 1))
	if q.dirty.Add(1) < threshold {
		return
	}
	select {
	case q.saveReq <- struct{}{}:
	default:
	}
}

// Snapshot returns the records that would be persisted: every item that is
// not in a terminal state, ordered by QueuedAt.
func (q *Queue) Snapshot() []models.QueueSnapshotRecord {
	items := q.List()
	records := make([]models.QueueSnapshotRecord, 0, len(items))
	for _, it := range items {
		if it.Status.IsTerminal() || it.Status == models.StatusFailed {
			continue
		}
		records = append(records, models.RecordFromItem(it))
	}
	return records
}

// Save writes the snapshot now. Failures are logged and the queue keeps
// running in memory.
func (q *Queue) Save() error {
	if q.store == nil {
		return nil
	}
	q.saveMu.Lock()
	defer q.saveMu.Unlock()
	records := q.Snapshot()
	q.dirty.Store(0)
	if err := q.store.Save(records); err != nil {
		metrics.IncPersistenceFailure()
		q.logger.Error("persistence save failed", "err", err)
		return err
	}
	return nil
}

// WriteStatus refreshes the status file and broadcasts queue stats.
func (q *Queue) WriteStatus() {
	sum := q.stats.Summary()
	qs := q.Stats()
	metrics.SetRatePerHour(sum.RatePerHour)

	q.events.QueueStats(map[string]any{
		"pending":       qs.Pending,
		"active":        qs.Active,
		"paused":        qs.Paused,
		"completed":     qs.Completed,
		"failed":        qs.Failed,
		"rate_per_hour": qs.RatePerHour,
		"high_volume":   qs.HighVolume,
		"breaker_state": qs.BreakerState,
	})

	if q.status == nil {
		return
	}
	err := q.status.Write(persistence.Status{
		PluginVersion:           q.version,
		LastUpdated:             q.clk.Now().UTC(),
		TotalPendingDownloads:   qs.Pending + qs.Active + qs.Paused,
		TotalCompletedDownloads: sum.TotalCompleted,
		TotalFailedDownloads:    sum.TotalFailed,
		DownloadRate:            sum.RatePerHour,
		IsHighVolumeMode:        qs.HighVolume,
		ArtistStats:             sum.Artists,
		RecentDownloads:         sum.Recent,
	})
	if err != nil {
		metrics.IncPersistenceFailure()
		q.logger.Error("status write failed", "path", q.status.Path(), "err", err)
	}
}

// startWatcher rewrites state files removed behind the queue's back.
func (q *Queue) startWatcher() {
	if !q.cfg.WatchPersistence {
		return
	}
	w := watcher.New(q.store.Dir(), []string{persistence.SnapshotFile, persistence.StatusFile}, func(string) {
		if q.ctx.Err() != nil {
			return
		}
		_ = q.Save()
		q.WriteStatus()
	}, 0)
	if err := w.Start(); err != nil {
		q.logger.Warn("cannot watch state directory", "dir", q.store.Dir(), "err", err)
		return
	}
	q.watch = w
}
