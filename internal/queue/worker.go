// file: internal/queue/worker.go
// version: 1.1.0
// guid: 5c0a7e92-3b4d-4f18-a6e1-8d2c9b7f0e35

package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jdfalk/paced-downloader/internal/clock"
	"github.com/jdfalk/paced-downloader/internal/download"
	"github.com/jdfalk/paced-downloader/internal/history"
	"github.com/jdfalk/paced-downloader/internal/metrics"
	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/ratelimit"
	"github.com/jdfalk/paced-downloader/internal/stats"
)

// activePoll bounds each sleep while waiting for the active-hours window.
const activePoll = time.Minute

// worker processes items from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	q.logger.Debug("worker started", "worker", id)

	for {
		select {
		case <-q.ctx.Done():
			q.logger.Debug("worker stopped", "worker", id)
			return
		case e := <-q.pending:
			q.process(e)
			if q.queueDepth() == 0 && q.active.Load() == 0 {
				q.behavior.EndSession()
			}
		}
	}
}

func (q *Queue) process(e *entry) {
	e.mu.Lock()
	runnable := !e.removed && (e.item.Status == models.StatusQueued || e.item.Status == models.StatusPaused)
	it := e.item.Clone()
	e.mu.Unlock()
	if !runnable {
		return
	}

	if err := q.sem.Acquire(e.ctx, 1); err != nil {
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			q.sem.Release(1)
		}
	}
	defer release()

	if err := q.waitForTurn(e.ctx, it); err != nil {
		if e.ctx.Err() != nil {
			return
		}
		q.finish(e, download.Result{}, download.NewError(download.Permanent, err), q.clk.Now())
		return
	}

	attemptCtx, ok := q.begin(e)
	if !ok {
		return
	}
	it = e.snapshot()
	started := q.clk.Now()

	var (
		res download.Result
		err error
	)
	if !q.breaker.Allow() {
		err = download.NewError(download.Transient, ErrBreakerOpen)
	} else {
		ctx := attemptCtx
		if q.cfg.ItemTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(attemptCtx, q.cfg.ItemTimeout)
			defer cancel()
		}
		res, err = q.invoke(ctx, it, q.progressFunc(e))
	}
	metrics.ObserveDuration(it.Quality.String(), q.clk.Now().Sub(started))

	release()
	q.finish(e, res, err, started)
}

// waitForTurn runs every gate that delays an item without failing it.
func (q *Queue) waitForTurn(ctx context.Context, it models.DownloadItem) error {
	for {
		now := q.clk.Now()
		if q.behavior.ShouldRunNow(now) {
			break
		}
		wait := min(max(q.behavior.NextActiveTime(now).Sub(now), time.Second), activePoll)
		q.logger.Debug("outside active hours", "id", it.ID, "delay", wait)
		if err := clock.Sleep(ctx, q.clk, wait); err != nil {
			return err
		}
	}

	if wait, throttled := q.stats.EstimatedTimeUntilNextSlot(); throttled && wait > 0 {
		q.logger.Info("hourly limit reached, waiting", "id", it.ID, "delay", wait)
		if err := clock.Sleep(ctx, q.clk, wait); err != nil {
			return err
		}
	}

	if until, ok := q.backoff.Get(backoffKey); ok {
		if wait := until.Sub(q.clk.Now()); wait > 0 {
			q.logger.Info("rate limit backoff", "id", it.ID, "delay", wait)
			if err := clock.Sleep(ctx, q.clk, wait); err != nil {
				return err
			}
		}
	}

	chain := q.chainFor(it.Quality)
	if err := chain.Acquire(ctx, 1); err != nil {
		return err
	}
	for _, l := range chain.Limiters() {
		metrics.SetLimiterTokens(l.Name(), l.Tokens())
	}

	// Pacing comes last so the reserved slot is the actual start.
	return q.pace(ctx, it)
}

// pace reserves the next start slot, spaced from the previous start by a
// human-like delay, and sleeps until it.
func (q *Queue) pace(ctx context.Context, it models.DownloadItem) error {
	q.pacingMu.Lock()
	sameAlbum := it.SameAlbum(q.lastItem)
	q.pacingMu.Unlock()

	delay := q.behavior.NextItemDelay(sameAlbum)

	q.pacingMu.Lock()
	now := q.clk.Now()
	startAt := now
	if !q.lastStart.IsZero() {
		if t := q.lastStart.Add(delay); t.After(now) {
			startAt = t
		}
	}
	q.lastStart = startAt
	q.lastItem = it
	q.pacingMu.Unlock()

	wait := startAt.Sub(now)
	if wait <= 0 {
		return nil
	}
	metrics.ObservePacingDelay(wait)
	q.logger.Debug("pacing", "id", it.ID, "delay", wait, "same_album", sameAlbum)
	if err := clock.Sleep(ctx, q.clk, wait); err != nil {
		return err
	}

	// A late wakeup moves the reference point to the real start.
	q.pacingMu.Lock()
	if now := q.clk.Now(); now.After(q.lastStart) {
		q.lastStart = now
	}
	q.pacingMu.Unlock()
	return nil
}

func (q *Queue) chainFor(quality models.Quality) *ratelimit.Chain {
	if c, ok := q.perQuality[quality]; ok {
		return c
	}
	return q.global
}

// begin moves the item to Downloading and opens its attempt scope.
func (q *Queue) begin(e *entry) (context.Context, bool) {
	e.mu.Lock()
	if e.removed || e.ctx.Err() != nil || !e.item.Status.CanTransitionTo(models.StatusDownloading) {
		e.mu.Unlock()
		return nil, false
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.attemptCancel = cancel
	e.pausing = false
	e.lastPct = -1
	e.item.Status = models.StatusDownloading
	e.item.StartedAt = q.clk.Now().UTC()
	e.item.EndedAt = time.Time{}
	it := e.item.Clone()
	e.mu.Unlock()

	metrics.SetActive(int(q.active.Add(1)))
	metrics.IncStarted(it.Quality.String())
	metrics.SetQueueDepth(q.queueDepth())
	q.logger.Info("download started", "id", it.ID, "title", it.DisplayName(), "attempt", it.RetryCount+1)
	q.events.ItemStatus(it)
	q.notify(it)
	return ctx, true
}

func (q *Queue) progressFunc(e *entry) download.ProgressFunc {
	return func(done, total int64) {
		e.mu.Lock()
		e.item.BytesDownloaded = done
		if total > 0 {
			e.item.BytesTotal = total
			e.item.Progress = min(float64(done)/float64(total), 1)
		}
		pct := int(e.item.Progress * 100)
		publish := pct != e.lastPct
		e.lastPct = pct
		id := e.item.ID
		e.mu.Unlock()
		if publish {
			q.events.ItemProgress(id, done, total)
		}
	}
}

// invoke calls the downloader, converting a panic into a permanent failure.
func (q *Queue) invoke(ctx context.Context, it models.DownloadItem, progress download.ProgressFunc) (res download.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("downloader panicked", "id", it.ID, "panic", r, "stack", string(debug.Stack()))
			err = download.NewError(download.Permanent, fmt.Errorf("downloader panic: %v", r))
		}
	}()
	return q.dl.Download(ctx, it, progress)
}

// finish applies the attempt outcome to the item and feeds every observer.
func (q *Queue) finish(e *entry, res download.Result, err error, started time.Time) {
	now := q.clk.Now().UTC()
	kind := download.Classify(err)
	stopping := q.ctx.Err() != nil

	var retryDelay time.Duration
	if err != nil {
		switch {
		case kind == download.RateLimited:
			d := q.breaker.RecordRateLimited(download.RetryAfterOf(err))
			q.backoff.Extend(backoffKey, now.Add(d), d)
			retryDelay = d
		case errors.Is(err, ErrBreakerOpen):
			retryDelay = q.breaker.RemainingCooldown()
		case kind == download.Transient:
			q.breaker.RecordFailure()
		default:
			q.breaker.ReleaseTrial()
		}
	} else {
		q.breaker.RecordSuccess()
	}

	e.mu.Lock()
	if e.attemptCancel != nil {
		e.attemptCancel()
		e.attemptCancel = nil
	}
	wasActive := e.item.Status == models.StatusDownloading
	retrying := false
	switch {
	case err == nil:
		q.completeLocked(e, res, now)
	case e.removed:
		e.item.Status = models.StatusCancelled
		e.item.EndedAt = now
	case e.pausing || (stopping && kind == download.Cancelled):
		e.pausing = true
		e.item.Status = models.StatusPaused
		e.item.Resumable = true
	case kind == download.Cancelled:
		e.item.Status = models.StatusCancelled
		e.item.EndedAt = now
	case kind.Retryable() && e.item.RetryCount < q.cfg.MaxRetryCount:
		// Failed now, Queued again right after observers saw the failure.
		e.item.Status = models.StatusFailed
		e.item.LastErrorMessage = err.Error()
		e.item.Resumable = true
		retrying = true
	default:
		e.item.Status = models.StatusFailed
		e.item.LastErrorMessage = err.Error()
		e.item.EndedAt = now
	}
	it := e.item.Clone()
	e.mu.Unlock()

	if wasActive {
		metrics.SetActive(int(q.active.Add(-1)))
	}

	switch it.Status {
	case models.StatusCompleted:
		q.logger.Info("download completed", "id", it.ID, "title", it.DisplayName(), "bytes", it.BytesDownloaded,
			"duration", now.Sub(started).Round(time.Millisecond))
		metrics.IncCompleted(it.Quality.String())
		metrics.AddBytes(it.BytesDownloaded)
		q.stats.RecordCompletion(1)
		q.stats.RecordOutcome(outcomeOf(it, now), true)
		q.recordHistory(it, res.Path, res.SHA256)
	case models.StatusCancelled:
		q.logger.Info("download cancelled", "id", it.ID)
		metrics.IncCancelled()
		q.recordHistory(it, "", "")
	case models.StatusPaused:
		q.logger.Info("download paused", "id", it.ID, "bytes", it.BytesDownloaded)
	case models.StatusFailed:
		metrics.IncFailed(kind.String())
		if retrying {
			break
		}
		q.logger.Error("download failed", "id", it.ID, "title", it.DisplayName(), "attempts", it.RetryCount+1, "err", err)
		q.stats.RecordOutcome(outcomeOf(it, now), false)
		q.recordHistory(it, "", "")
	}

	q.events.ItemStatus(it)
	q.notify(it)
	if retrying {
		q.retry(e, retryDelay, err)
	}
	q.maybeRequestSave()
}

// retry moves a Failed item back to Queued and re-enqueues it after the
// larger of the backoff and delay.
func (q *Queue) retry(e *entry, delay time.Duration, cause error) {
	e.mu.Lock()
	if e.removed || !e.item.Status.CanTransitionTo(models.StatusQueued) {
		e.mu.Unlock()
		return
	}
	e.item.RetryCount++
	e.item.Status = models.StatusQueued
	delay = max(delay, q.retryDelay(e.item.RetryCount))
	it := e.item.Clone()
	e.mu.Unlock()

	metrics.IncRetried()
	q.logger.Warn("download failed, retrying", "id", it.ID, "attempt", it.RetryCount, "delay", delay, "err", cause)
	q.events.ItemStatus(it)
	q.notify(it)
	q.wg.Add(1)
	go q.requeueAfter(e, delay)
}

func (q *Queue) completeLocked(e *entry, res download.Result, now time.Time) {
	it := &e.item
	it.Status = models.StatusCompleted
	it.EndedAt = now
	it.Progress = 1
	it.LastErrorMessage = ""
	it.Resumable = false
	if res.Bytes > 0 {
		it.BytesDownloaded = res.Bytes
		if it.BytesTotal == 0 {
			it.BytesTotal = res.Bytes
		}
	}
	if res.TotalTracks > 0 {
		it.TotalTracks = res.TotalTracks
		it.CompletedTracks = res.CompletedTracks
	}
	for _, idx := range res.FailedTrackIndices {
		it.MarkTrackFailed(idx)
	}
}

// retryDelay is base * 2^(attempt-1), capped.
func (q *Queue) retryDelay(attempt int) time.Duration {
	d := q.cfg.RetryBaseDelay
	for i := 1; i < attempt && d < q.cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if q.cfg.RetryMaxDelay > 0 {
		d = min(d, q.cfg.RetryMaxDelay)
	}
	return d
}

func (q *Queue) requeueAfter(e *entry, delay time.Duration) {
	defer q.wg.Done()
	if err := clock.Sleep(e.ctx, q.clk, delay); err != nil {
		return
	}
	select {
	case q.pending <- e:
	case <-e.ctx.Done():
	}
}

func (q *Queue) recordHistory(it models.DownloadItem, path, sum string) {
	if q.history == nil {
		return
	}
	if err := q.history.Record(history.EntryFromItem(it, path, sum)); err != nil {
		q.logger.Warn("failed to record history", "id", it.ID, "err", err)
	}
}

func outcomeOf(it models.DownloadItem, at time.Time) stats.Outcome {
	return stats.Outcome{
		ID:          it.ID,
		Title:       it.Title,
		Artist:      it.Artist,
		Album:       it.Album,
		Status:      it.Status.String(),
		CompletedAt: at,
		Error:       it.LastErrorMessage,
		Bytes:       it.BytesDownloaded,
	}
}
