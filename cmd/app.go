// file: cmd/app.go
// version: 1.0.0
// guid: 3e9b5f27-c1a8-4d60-b7f4-8a2d0e6c19f3

package cmd

import (
	"errors"

	"github.com/jdfalk/paced-downloader/internal/config"
	"github.com/jdfalk/paced-downloader/internal/download"
	"github.com/jdfalk/paced-downloader/internal/history"
	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/metrics"
	"github.com/jdfalk/paced-downloader/internal/persistence"
	"github.com/jdfalk/paced-downloader/internal/queue"
	"github.com/jdfalk/paced-downloader/internal/realtime"
)

// app is everything a processing command owns.
type app struct {
	cfg     config.Config
	queue   *queue.Queue
	hub     *realtime.EventHub
	history *history.Ledger
}

// openApp wires the queue with its collaborators. An unusable state
// directory downgrades to an in-memory queue instead of failing.
func openApp(cfg config.Config, listener queue.Listener) (*app, error) {
	metrics.Register()
	log := logging.WithPrefix("main")

	if cfg.EnableQueuePersistence {
		if err := cfg.CheckPersistencePath(); err != nil {
			log.Error("queue persistence disabled, state directory unusable; queue is memory-only",
				"path", cfg.QueuePersistencePath, "err", err)
			cfg.EnableQueuePersistence = false
		}
	}

	rt := &app{cfg: cfg, hub: realtime.NewEventHub()}
	opts := queue.Options{
		Config:     cfg,
		Downloader: download.NewClientFromConfig(cfg),
		Events:     rt.hub,
		Listener:   listener,
		Version:    Version,
	}
	if cfg.EnableQueuePersistence {
		opts.Store = persistence.NewStore(cfg.QueuePersistencePath)
		opts.Status = persistence.NewStatusWriter(cfg.QueuePersistencePath)
		if cfg.HistoryPath != "" {
			ledger, err := history.Open(cfg.HistoryPath)
			if err != nil {
				log.Warn("download history unavailable", "path", cfg.HistoryPath, "err", err)
			} else {
				rt.history = ledger
				opts.History = ledger
			}
		}
	}

	q, err := queue.New(opts)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.queue = q
	return rt, nil
}

// stop drains the queue and releases the history ledger.
func (rt *app) stop() error {
	var err error
	if rt.queue != nil {
		err = rt.queue.Stop()
	}
	return errors.Join(err, rt.close())
}

func (rt *app) close() error {
	if rt.history == nil {
		return nil
	}
	err := rt.history.Close()
	rt.history = nil
	return err
}
