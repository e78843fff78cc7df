// file: internal/behavior/scheduler.go
// version: 1.1.0
// guid: d389a31e-64b2-4335-b01f-6105cea5220a

// Package behavior paces downloads the way a person listening through a
// library would: randomized gaps between tracks and albums, listening
// sessions separated by breaks, and an optional active-hours window.
package behavior

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Config holds the pacing knobs.
type Config struct {
	Enabled bool

	TrackDelayMin time.Duration
	TrackDelayMax time.Duration
	AlbumDelayMin time.Duration
	AlbumDelayMax time.Duration

	SessionDuration time.Duration
	BreakDuration   time.Duration

	EnableTimeOfDay  bool
	ActiveHoursStart int // hour of day, 0-23
	ActiveHoursEnd   int // exclusive; equal to start means all day

	HighVolumeThreshold int
	HighVolumeFactor    float64
	MinDelayFloor       time.Duration
}

// DefaultConfig returns conservative pacing.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		TrackDelayMin:       3 * time.Second,
		TrackDelayMax:       15 * time.Second,
		AlbumDelayMin:       30 * time.Second,
		AlbumDelayMax:       2 * time.Minute,
		SessionDuration:     2 * time.Hour,
		BreakDuration:       15 * time.Minute,
		ActiveHoursStart:    8,
		ActiveHoursEnd:      23,
		HighVolumeThreshold: 50,
		HighVolumeFactor:    0.5,
		MinDelayFloor:       time.Second,
	}
}

// Session describes the current listening session. It is advisory and
// never persisted.
type Session struct {
	Start      time.Time
	Length     time.Duration
	BreakUntil time.Time
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	rnd *rand.Rand

	sessionStart time.Time
	breakUntil   time.Time
	highVolume   bool
}

// New builds a scheduler. The seed makes delay sequences reproducible.
func New(cfg Config, seed uint64) *Scheduler {
	if cfg.TrackDelayMax < cfg.TrackDelayMin {
		cfg.TrackDelayMax = cfg.TrackDelayMin
	}
	if cfg.AlbumDelayMax < cfg.AlbumDelayMin {
		cfg.AlbumDelayMax = cfg.AlbumDelayMin
	}
	if cfg.HighVolumeFactor <= 0 || cfg.HighVolumeFactor > 1 {
		cfg.HighVolumeFactor = 1
	}
	return &Scheduler{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetQueueDepth toggles high-volume mode and reports whether it changed.
func (s *Scheduler) SetQueueDepth(depth int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hv := s.cfg.HighVolumeThreshold > 0 && depth > s.cfg.HighVolumeThreshold
	changed := hv != s.highVolume
	s.highVolume = hv
	return changed
}

// HighVolume reports whether delays are currently scaled down.
func (s *Scheduler) HighVolume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highVolume
}

// NextItemDelay draws the gap before the next download starts. sameAlbum
// selects the shorter track bounds.
func (s *Scheduler) NextItemDelay(sameAlbum bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return 0
	}

	lo, hi := s.cfg.AlbumDelayMin, s.cfg.AlbumDelayMax
	if sameAlbum {
		lo, hi = s.cfg.TrackDelayMin, s.cfg.TrackDelayMax
	}
	d := s.uniformLocked(lo, hi)
	if !s.highVolume {
		return d
	}

	d = time.Duration(float64(d) * s.cfg.HighVolumeFactor)
	floor := max(s.cfg.MinDelayFloor, time.Duration(float64(lo)*s.cfg.HighVolumeFactor))
	floor = min(floor, hi)
	return min(max(d, floor), hi)
}

func (s *Scheduler) uniformLocked(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rnd.Int64N(int64(hi-lo)+1))
}

// ShouldRunNow reports whether work may start at now. The first call in an
// active period opens a session; an exhausted session starts a break.
func (s *Scheduler) ShouldRunNow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.EnableTimeOfDay && !inWindow(now.Hour(), s.cfg.ActiveHoursStart, s.cfg.ActiveHoursEnd) {
		return false
	}
	if !s.cfg.Enabled || s.cfg.SessionDuration <= 0 {
		return true
	}

	if !s.breakUntil.IsZero() {
		if now.Before(s.breakUntil) {
			return false
		}
		s.breakUntil = time.Time{}
	}
	if s.sessionStart.IsZero() {
		s.sessionStart = now
		return true
	}
	if now.Sub(s.sessionStart) >= s.cfg.SessionDuration {
		s.sessionStart = time.Time{}
		if s.cfg.BreakDuration > 0 {
			s.breakUntil = now.Add(s.cfg.BreakDuration)
			return false
		}
		s.sessionStart = now
	}
	return true
}

// EndSession closes the current session; the next active call starts a
// fresh one. Called when the queue drains.
func (s *Scheduler) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStart = time.Time{}
}

// Session returns the current session bookkeeping.
func (s *Scheduler) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{
		Start:      s.sessionStart,
		Length:     s.cfg.SessionDuration,
		BreakUntil: s.breakUntil,
	}
}

// NextActiveTime estimates when ShouldRunNow will next return true.
func (s *Scheduler) NextActiveTime(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now
	if s.cfg.Enabled && t.Before(s.breakUntil) {
		t = s.breakUntil
	}
	if s.cfg.EnableTimeOfDay && !inWindow(t.Hour(), s.cfg.ActiveHoursStart, s.cfg.ActiveHoursEnd) {
		t = nextHour(t, s.cfg.ActiveHoursStart)
	}
	return t
}

// inWindow checks if hour is within [start, end). Handles wrap-around
// (e.g. 23-4). start == end means the whole day.
func inWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// nextHour returns the next instant at the top of hour strictly after t.
func nextHour(t time.Time, hour int) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
