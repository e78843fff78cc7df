// file: internal/queue/queue.go
// version: 2.1.0
// guid: 7d6e5f4a-3c2b-1a09-8f7e-6d5c4b3a2190

// Package queue runs paced downloads through a bounded worker pool.
//
// Every item passes the same gates before the remote API is contacted:
// a concurrency slot, the active-hours window, the hourly throttle, any
// rate-limit backoff, a human-like pacing delay, the token bucket chain
// and the circuit breaker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/jdfalk/paced-downloader/internal/behavior"
	"github.com/jdfalk/paced-downloader/internal/breaker"
	"github.com/jdfalk/paced-downloader/internal/cache"
	"github.com/jdfalk/paced-downloader/internal/clock"
	"github.com/jdfalk/paced-downloader/internal/config"
	"github.com/jdfalk/paced-downloader/internal/download"
	"github.com/jdfalk/paced-downloader/internal/history"
	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/metrics"
	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/persistence"
	"github.com/jdfalk/paced-downloader/internal/ratelimit"
	"github.com/jdfalk/paced-downloader/internal/realtime"
	"github.com/jdfalk/paced-downloader/internal/stats"
	"github.com/jdfalk/paced-downloader/internal/watcher"
)

var (
	// ErrDuplicateItem is returned when the ID is already tracked.
	ErrDuplicateItem = errors.New("item already queued")
	// ErrQueueStopped is returned once Stop has been called.
	ErrQueueStopped = errors.New("queue stopped")
	// ErrAlreadyCompleted is returned for IDs the history ledger marks done.
	ErrAlreadyCompleted = errors.New("item already downloaded")
	// ErrNotFound is returned by Pause and Resume for unknown IDs.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidTransition is returned when the item state forbids the request.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBreakerOpen fails an attempt without contacting the API.
	ErrBreakerOpen = breaker.ErrOpen
)

// backoffKey is the cache key holding the shared rate-limit deadline.
const backoffKey = "api"

// Listener observes item changes. It runs on the goroutine that made the
// change and must not block.
type Listener func(models.DownloadItem)

// Options wires a Queue. Nil collaborators disable their feature.
type Options struct {
	Config     config.Config
	Downloader download.Downloader
	Clock      clock.Clock
	Store      *persistence.Store
	Status     *persistence.StatusWriter
	History    *history.Ledger
	Events     *realtime.EventHub
	Listener   Listener
	// Seed drives pacing randomness; zero picks one from the clock.
	Seed    uint64
	Version string
}

// entry is one tracked item with its own lock and cancellation scope.
type entry struct {
	mu            sync.Mutex
	item          models.DownloadItem
	ctx           context.Context
	cancel        context.CancelFunc
	attemptCancel context.CancelFunc
	removed       bool
	pausing       bool
	lastPct       int
}

func (e *entry) snapshot() models.DownloadItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.Clone()
}

// Summary is the aggregate queue state.
type Summary struct {
	Pending      int    `json:"pending"`
	Active       int    `json:"active"`
	Paused       int    `json:"paused"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	RatePerHour  int    `json:"ratePerHour"`
	HighVolume   bool   `json:"highVolume"`
	BreakerState string `json:"breakerState"`
}

// Queue is safe for concurrent use.
type Queue struct {
	cfg      config.Config
	dl       download.Downloader
	clk      clock.Clock
	store    *persistence.Store
	status   *persistence.StatusWriter
	history  *history.Ledger
	events   *realtime.EventHub
	listener Listener
	version  string

	global     *ratelimit.Chain
	perQuality map[models.Quality]*ratelimit.Chain
	breaker    *breaker.Breaker
	behavior   *behavior.Scheduler
	stats      *stats.Tracker
	backoff    *cache.Cache[time.Time]
	sem        *semaphore.Weighted

	pending chan *entry
	saveReq chan struct{}
	// saveMu keeps snapshot copies and their writes in the same order.
	saveMu sync.Mutex

	mu     sync.RWMutex
	items  map[string]*entry
	active atomic.Int32
	dirty  atomic.Int64

	pacingMu  sync.Mutex
	lastStart time.Time
	lastItem  models.DownloadItem

	ctx     context.Context
	cancel  context.CancelFunc
	unlink  func() bool
	wg      sync.WaitGroup
	started bool
	stopped bool
	watch   *watcher.Watcher
	logger  *log.Logger
}

// New builds a queue. Call Start to begin processing; items may be
// enqueued before that.
func New(opts Options) (*Queue, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue configuration: %w", err)
	}
	if opts.Downloader == nil {
		return nil, errors.New("queue requires a downloader")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(clk.Now().UnixNano())
	}

	global := ratelimit.New(float64(cfg.MaxDownloadsPerHour),
		ratelimit.WithClock(clk), ratelimit.WithName("global"))
	chain := ratelimit.NewChain(clk, global)
	perQuality := make(map[models.Quality]*ratelimit.Chain)
	for q := models.QualityLow; q <= models.QualityHiRes; q++ {
		if n := cfg.QualityLimit(q); n > 0 {
			perQuality[q] = chain.With(ratelimit.New(float64(n),
				ratelimit.WithClock(clk), ratelimit.WithName(q.String())))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:        cfg,
		dl:         opts.Downloader,
		clk:        clk,
		store:      opts.Store,
		status:     opts.Status,
		history:    opts.History,
		events:     opts.Events,
		listener:   opts.Listener,
		version:    opts.Version,
		global:     chain,
		perQuality: perQuality,
		breaker:    breaker.New(cfg.Breaker(), clk),
		behavior:   behavior.New(cfg.Behavior(), seed),
		stats:      stats.New(cfg.MaxDownloadsPerHour, clk),
		backoff:    cache.NewWithClock[time.Time](cfg.RateLimitMaxBackoff, clk),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		pending:    make(chan *entry, cfg.QueueCapacity),
		saveReq:    make(chan struct{}, 1),
		items:      make(map[string]*entry),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logging.WithPrefix("queue"),
	}
	if q.version == "" {
		q.version = "dev"
	}

	q.breaker.OnTransition(func(from, to breaker.State) {
		metrics.SetBreakerState(int(to))
		metrics.IncBreakerTransition(to.String())
		q.logger.Warn("circuit breaker transition", "from", from, "state", to)
	})
	return q, nil
}

// Enqueue tracks item as Queued and hands it to the workers. It blocks
// while the queue is full until space frees, ctx is done or the queue stops.
func (q *Queue) Enqueue(ctx context.Context, item *models.DownloadItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", models.ErrInvalidItem)
	}
	it := item.Clone()
	if it.QueuedAt.IsZero() {
		it.QueuedAt = q.clk.Now().UTC()
	}
	if it.DestinationPath == "" {
		it.DestinationPath = q.cfg.DefaultDestination
	}
	it.Status = models.StatusQueued
	if err := it.Validate(); err != nil {
		return err
	}
	if q.ctx.Err() != nil {
		return ErrQueueStopped
	}
	if q.history != nil {
		done, err := q.history.IsCompleted(it.ID)
		if err != nil {
			q.logger.Warn("history lookup failed", "id", it.ID, "err", err)
		} else if done {
			return fmt.Errorf("%w: %s", ErrAlreadyCompleted, it.ID)
		}
	}

	e, err := q.track(it)
	if err != nil {
		return err
	}

	select {
	case q.pending <- e:
	case <-ctx.Done():
		q.untrack(e)
		return ctx.Err()
	case <-q.ctx.Done():
		q.untrack(e)
		return ErrQueueStopped
	}

	q.logger.Debug("item queued", "id", it.ID, "title", it.Title)
	metrics.SetQueueDepth(q.queueDepth())
	q.events.ItemQueued(it)
	q.notify(it)
	q.maybeRequestSave()
	return nil
}

func (q *Queue) track(it models.DownloadItem) (*entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.items[it.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, it.ID)
	}
	ctx, cancel := context.WithCancel(q.ctx)
	e := &entry{item: it, ctx: ctx, cancel: cancel, lastPct: -1}
	q.items[it.ID] = e
	return e, nil
}

func (q *Queue) untrack(e *entry) {
	q.mu.Lock()
	if q.items[e.item.ID] == e {
		delete(q.items, e.item.ID)
	}
	q.mu.Unlock()
	e.cancel()
}

// Remove drops a queued or in-flight item and cancels its work. It reports
// false for unknown IDs.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	e, ok := q.items[id]
	if ok {
		delete(q.items, id)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	changed := false
	if e.item.Status == models.StatusQueued || e.item.Status == models.StatusPaused {
		e.item.Status = models.StatusCancelled
		e.item.EndedAt = q.clk.Now().UTC()
		changed = true
	}
	it := e.item.Clone()
	e.mu.Unlock()
	e.cancel()

	q.logger.Info("item removed", "id", id, "state", it.Status)
	q.events.ItemRemoved(id)
	if changed {
		metrics.IncCancelled()
		q.notify(it)
	}
	metrics.SetQueueDepth(q.queueDepth())
	q.maybeRequestSave()
	return true
}

// List returns copies of every tracked item ordered by QueuedAt.
func (q *Queue) List() []models.DownloadItem {
	q.mu.RLock()
	entries := make([]*entry, 0, len(q.items))
	for _, e := range q.items {
		entries = append(entries, e)
	}
	q.mu.RUnlock()

	out := make([]models.DownloadItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// Get returns a copy of one item.
func (q *Queue) Get(id string) (models.DownloadItem, bool) {
	q.mu.RLock()
	e, ok := q.items[id]
	q.mu.RUnlock()
	if !ok {
		return models.DownloadItem{}, false
	}
	return e.snapshot(), true
}

// Pause interrupts a Downloading item. Transferred bytes are kept so the
// next attempt resumes.
func (q *Queue) Pause(id string) error {
	e, err := q.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.item.Status.CanTransitionTo(models.StatusPaused) {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.item.Status)
	}
	e.pausing = true
	if e.attemptCancel != nil {
		e.attemptCancel()
	}
	return nil
}

// Resume hands a Paused item back to the workers. It stays Paused until a
// worker moves it to Downloading.
func (q *Queue) Resume(ctx context.Context, id string) error {
	e, err := q.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.item.Status != models.StatusPaused || !e.pausing {
		st := e.item.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, st)
	}
	e.pausing = false
	e.mu.Unlock()

	select {
	case q.pending <- e:
	case <-ctx.Done():
		e.mu.Lock()
		e.pausing = true
		e.mu.Unlock()
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueStopped
	}
	q.logger.Info("item resumed", "id", id)
	return nil
}

func (q *Queue) lookup(id string) (*entry, error) {
	q.mu.RLock()
	e, ok := q.items[id]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Stats summarizes the queue.
func (q *Queue) Stats() Summary {
	var s Summary
	for _, it := range q.List() {
		switch it.Status {
		case models.StatusQueued:
			s.Pending++
		case models.StatusDownloading:
			s.Active++
		case models.StatusPaused:
			s.Paused++
		}
	}
	ts := q.stats.Summary()
	s.Completed = ts.TotalCompleted
	s.Failed = ts.TotalFailed
	s.RatePerHour = ts.RatePerHour
	s.HighVolume = q.behavior.HighVolume()
	s.BreakerState = q.breaker.State().String()
	return s
}

// queueDepth counts items still waiting for a worker.
func (q *Queue) queueDepth() int {
	q.mu.RLock()
	entries := make([]*entry, 0, len(q.items))
	for _, e := range q.items {
		entries = append(entries, e)
	}
	q.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.item.Status == models.StatusQueued {
			n++
		}
		e.mu.Unlock()
	}
	if q.behavior.SetQueueDepth(n) {
		on := q.behavior.HighVolume()
		metrics.SetHighVolume(on)
		q.logger.Info("high volume mode changed", "enabled", on, "depth", n)
	}
	return n
}

func (q *Queue) notify(it models.DownloadItem) {
	if q.listener != nil {
		q.listener(it)
	}
}
