// file: internal/config/config.go
// version: 2.0.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

// Package config decodes viper settings into a single typed Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/jdfalk/paced-downloader/internal/behavior"
	"github.com/jdfalk/paced-downloader/internal/breaker"
	"github.com/jdfalk/paced-downloader/internal/models"
)

// EnvPrefix is prepended to environment overrides, e.g. PACED_MAX_CONCURRENT_DOWNLOADS.
const EnvPrefix = "PACED"

// Config holds application configuration
type Config struct {
	// Queue
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	MaxDownloadsPerHour    int           `yaml:"max_downloads_per_hour"`
	QueueCapacity          int           `yaml:"queue_capacity"`
	MaxRetryCount          int           `yaml:"max_retry_count"`
	RetryBaseDelay         time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay          time.Duration `yaml:"retry_max_delay"`
	ItemTimeout            time.Duration `yaml:"item_timeout"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout"`
	DefaultDestination     string        `yaml:"default_destination"`

	// QualityDownloadsPerHr adds a per-quality hourly budget under the global one.
	QualityDownloadsPerHr map[string]int `yaml:"quality_downloads_per_hour"`

	// Persistence
	EnableQueuePersistence bool          `yaml:"enable_queue_persistence"`
	QueuePersistencePath   string        `yaml:"queue_persistence_path"`
	SaveInterval           time.Duration `yaml:"save_interval"`
	SaveThreshold          int           `yaml:"save_threshold"`
	StatusInterval         time.Duration `yaml:"status_interval"`
	HistoryPath            string        `yaml:"history_path"`
	WatchPersistence       bool          `yaml:"watch_persistence"`

	// Natural behavior
	EnableNaturalBehavior bool          `yaml:"enable_natural_behavior"`
	TrackDelayMin         time.Duration `yaml:"track_delay_min"`
	TrackDelayMax         time.Duration `yaml:"track_delay_max"`
	AlbumDelayMin         time.Duration `yaml:"album_delay_min"`
	AlbumDelayMax         time.Duration `yaml:"album_delay_max"`
	SessionDuration       time.Duration `yaml:"session_duration"`
	BreakDuration         time.Duration `yaml:"break_duration"`
	EnableTimeOfDay       bool          `yaml:"enable_time_of_day"`
	ActiveHoursStart      int           `yaml:"active_hours_start"`
	ActiveHoursEnd        int           `yaml:"active_hours_end"`
	HighVolumeThreshold   int           `yaml:"high_volume_threshold"`
	HighVolumeFactor      float64       `yaml:"high_volume_factor"`
	MinDelayFloor         time.Duration `yaml:"min_delay_floor"`

	// Circuit breaker
	BreakerThreshold      int           `yaml:"breaker_threshold"`
	BreakerWindow         time.Duration `yaml:"breaker_window"`
	BreakerCooldown       time.Duration `yaml:"breaker_cooldown"`
	BreakerMaxCooldown    time.Duration `yaml:"breaker_max_cooldown"`
	RateLimitDefaultDelay time.Duration `yaml:"rate_limit_default_delay"`
	RateLimitMaxBackoff   time.Duration `yaml:"rate_limit_max_backoff"`

	// Downloader
	BandwidthLimit int    `yaml:"bandwidth_limit"`
	UserAgent      string `yaml:"user_agent"`
	StagingDir     string `yaml:"staging_dir"`
	VerifyAudio    bool   `yaml:"verify_audio"`

	// HTTP API
	Listen           string  `yaml:"listen"`
	AuthUser         string  `yaml:"auth_user"`
	AuthPasswordHash string  `yaml:"auth_password_hash"`
	APIRateLimit     float64 `yaml:"api_rate_limit"`
	APIBurst         int     `yaml:"api_burst"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultStateDir is where snapshots, status and history live unless configured.
func DefaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "paced-downloader")
	}
	return filepath.Join(os.TempDir(), "paced-downloader")
}

// Default returns the stock configuration.
func Default() Config {
	b := behavior.DefaultConfig()
	br := breaker.DefaultConfig()
	state := DefaultStateDir()
	return Config{
		MaxConcurrentDownloads: 2,
		MaxDownloadsPerHour:    60,
		QualityDownloadsPerHr:  map[string]int{"lossless": 40, "hires": 20},
		QueueCapacity:          1000,
		MaxRetryCount:          3,
		RetryBaseDelay:         10 * time.Second,
		RetryMaxDelay:          10 * time.Minute,
		ItemTimeout:            30 * time.Minute,
		ShutdownTimeout:        30 * time.Second,

		EnableQueuePersistence: true,
		QueuePersistencePath:   state,
		SaveInterval:           5 * time.Minute,
		SaveThreshold:          10,
		StatusInterval:         30 * time.Second,
		HistoryPath:            filepath.Join(state, "history"),
		WatchPersistence:       true,

		EnableNaturalBehavior: b.Enabled,
		TrackDelayMin:         b.TrackDelayMin,
		TrackDelayMax:         b.TrackDelayMax,
		AlbumDelayMin:         b.AlbumDelayMin,
		AlbumDelayMax:         b.AlbumDelayMax,
		SessionDuration:       b.SessionDuration,
		BreakDuration:         b.BreakDuration,
		EnableTimeOfDay:       b.EnableTimeOfDay,
		ActiveHoursStart:      b.ActiveHoursStart,
		ActiveHoursEnd:        b.ActiveHoursEnd,
		HighVolumeThreshold:   b.HighVolumeThreshold,
		HighVolumeFactor:      b.HighVolumeFactor,
		MinDelayFloor:         b.MinDelayFloor,

		BreakerThreshold:      br.FailureThreshold,
		BreakerWindow:         br.Window,
		BreakerCooldown:       br.Cooldown,
		BreakerMaxCooldown:    br.MaxCooldown,
		RateLimitDefaultDelay: br.RateLimitDelay,
		RateLimitMaxBackoff:   br.RateLimitMaxBackoff,

		UserAgent:   "paced-downloader/1.0",
		VerifyAudio: true,

		Listen:       "127.0.0.1:8484",
		APIRateLimit: 10,
		APIBurst:     20,

		LogLevel: "info",
	}
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("max_concurrent_downloads", d.MaxConcurrentDownloads)
	v.SetDefault("max_downloads_per_hour", d.MaxDownloadsPerHour)
	for q, n := range d.QualityDownloadsPerHr {
		v.SetDefault("quality_downloads_per_hour."+q, n)
	}
	v.SetDefault("queue_capacity", d.QueueCapacity)
	v.SetDefault("max_retry_count", d.MaxRetryCount)
	v.SetDefault("retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("retry_max_delay", d.RetryMaxDelay)
	v.SetDefault("item_timeout", d.ItemTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("default_destination", d.DefaultDestination)

	v.SetDefault("enable_queue_persistence", d.EnableQueuePersistence)
	v.SetDefault("queue_persistence_path", d.QueuePersistencePath)
	v.SetDefault("save_interval", d.SaveInterval)
	v.SetDefault("save_threshold", d.SaveThreshold)
	v.SetDefault("status_interval", d.StatusInterval)
	v.SetDefault("history_path", d.HistoryPath)
	v.SetDefault("watch_persistence", d.WatchPersistence)

	v.SetDefault("enable_natural_behavior", d.EnableNaturalBehavior)
	v.SetDefault("track_delay_min", d.TrackDelayMin)
	v.SetDefault("track_delay_max", d.TrackDelayMax)
	v.SetDefault("album_delay_min", d.AlbumDelayMin)
	v.SetDefault("album_delay_max", d.AlbumDelayMax)
	v.SetDefault("session_duration", d.SessionDuration)
	v.SetDefault("break_duration", d.BreakDuration)
	v.SetDefault("enable_time_of_day", d.EnableTimeOfDay)
	v.SetDefault("active_hours_start", d.ActiveHoursStart)
	v.SetDefault("active_hours_end", d.ActiveHoursEnd)
	v.SetDefault("high_volume_threshold", d.HighVolumeThreshold)
	v.SetDefault("high_volume_factor", d.HighVolumeFactor)
	v.SetDefault("min_delay_floor", d.MinDelayFloor)

	v.SetDefault("breaker_threshold", d.BreakerThreshold)
	v.SetDefault("breaker_window", d.BreakerWindow)
	v.SetDefault("breaker_cooldown", d.BreakerCooldown)
	v.SetDefault("breaker_max_cooldown", d.BreakerMaxCooldown)
	v.SetDefault("rate_limit_default_delay", d.RateLimitDefaultDelay)
	v.SetDefault("rate_limit_max_backoff", d.RateLimitMaxBackoff)

	v.SetDefault("bandwidth_limit", d.BandwidthLimit)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("staging_dir", d.StagingDir)
	v.SetDefault("verify_audio", d.VerifyAudio)

	v.SetDefault("listen", d.Listen)
	v.SetDefault("auth_user", d.AuthUser)
	v.SetDefault("auth_password_hash", d.AuthPasswordHash)
	v.SetDefault("api_rate_limit", d.APIRateLimit)
	v.SetDefault("api_burst", d.APIBurst)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_json", d.LogJSON)
}

// Load registers defaults on v and decodes the effective settings.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	c := Config{
		MaxConcurrentDownloads: v.GetInt("max_concurrent_downloads"),
		MaxDownloadsPerHour:    v.GetInt("max_downloads_per_hour"),
		QualityDownloadsPerHr:  make(map[string]int),
		QueueCapacity:          v.GetInt("queue_capacity"),
		MaxRetryCount:          v.GetInt("max_retry_count"),
		RetryBaseDelay:         v.GetDuration("retry_base_delay"),
		RetryMaxDelay:          v.GetDuration("retry_max_delay"),
		ItemTimeout:            v.GetDuration("item_timeout"),
		ShutdownTimeout:        v.GetDuration("shutdown_timeout"),
		DefaultDestination:     v.GetString("default_destination"),

		EnableQueuePersistence: v.GetBool("enable_queue_persistence"),
		QueuePersistencePath:   v.GetString("queue_persistence_path"),
		SaveInterval:           v.GetDuration("save_interval"),
		SaveThreshold:          v.GetInt("save_threshold"),
		StatusInterval:         v.GetDuration("status_interval"),
		HistoryPath:            v.GetString("history_path"),
		WatchPersistence:       v.GetBool("watch_persistence"),

		EnableNaturalBehavior: v.GetBool("enable_natural_behavior"),
		TrackDelayMin:         v.GetDuration("track_delay_min"),
		TrackDelayMax:         v.GetDuration("track_delay_max"),
		AlbumDelayMin:         v.GetDuration("album_delay_min"),
		AlbumDelayMax:         v.GetDuration("album_delay_max"),
		SessionDuration:       v.GetDuration("session_duration"),
		BreakDuration:         v.GetDuration("break_duration"),
		EnableTimeOfDay:       v.GetBool("enable_time_of_day"),
		ActiveHoursStart:      v.GetInt("active_hours_start"),
		ActiveHoursEnd:        v.GetInt("active_hours_end"),
		HighVolumeThreshold:   v.GetInt("high_volume_threshold"),
		HighVolumeFactor:      v.GetFloat64("high_volume_factor"),
		MinDelayFloor:         v.GetDuration("min_delay_floor"),

		BreakerThreshold:      v.GetInt("breaker_threshold"),
		BreakerWindow:         v.GetDuration("breaker_window"),
		BreakerCooldown:       v.GetDuration("breaker_cooldown"),
		BreakerMaxCooldown:    v.GetDuration("breaker_max_cooldown"),
		RateLimitDefaultDelay: v.GetDuration("rate_limit_default_delay"),
		RateLimitMaxBackoff:   v.GetDuration("rate_limit_max_backoff"),

		BandwidthLimit: v.GetInt("bandwidth_limit"),
		UserAgent:      v.GetString("user_agent"),
		StagingDir:     v.GetString("staging_dir"),
		VerifyAudio:    v.GetBool("verify_audio"),

		Listen:           v.GetString("listen"),
		AuthUser:         v.GetString("auth_user"),
		AuthPasswordHash: v.GetString("auth_password_hash"),
		APIRateLimit:     v.GetFloat64("api_rate_limit"),
		APIBurst:         v.GetInt("api_burst"),

		LogLevel: v.GetString("log_level"),
		LogFile:  v.GetString("log_file"),
		LogJSON:  v.GetBool("log_json"),
	}

	for q := models.QualityLow; q <= models.QualityHiRes; q++ {
		key := "quality_downloads_per_hour." + q.String()
		if v.IsSet(key) {
			c.QualityDownloadsPerHr[q.String()] = v.GetInt(key)
		}
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, n int) {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	nonNegative := func(name string, d time.Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	ordered := func(lo, hi string, a, b time.Duration) {
		if a > b {
			errs = append(errs, fmt.Errorf("%s (%s) exceeds %s (%s)", lo, a, hi, b))
		}
	}

	positive("max_concurrent_downloads", c.MaxConcurrentDownloads)
	positive("queue_capacity", c.QueueCapacity)
	if c.MaxDownloadsPerHour < 0 {
		errs = append(errs, fmt.Errorf("max_downloads_per_hour must not be negative, got %d", c.MaxDownloadsPerHour))
	}
	for q, n := range c.QualityDownloadsPerHr {
		if _, err := models.ParseQuality(q); err != nil {
			errs = append(errs, fmt.Errorf("quality_downloads_per_hour: %w", err))
		}
		if n < 0 {
			errs = append(errs, fmt.Errorf("quality_downloads_per_hour.%s must not be negative, got %d", q, n))
		}
	}
	if c.MaxRetryCount < 0 {
		errs = append(errs, fmt.Errorf("max_retry_count must not be negative, got %d", c.MaxRetryCount))
	}

	for name, d := range map[string]time.Duration{
		"retry_base_delay":         c.RetryBaseDelay,
		"retry_max_delay":          c.RetryMaxDelay,
		"item_timeout":             c.ItemTimeout,
		"shutdown_timeout":         c.ShutdownTimeout,
		"save_interval":            c.SaveInterval,
		"status_interval":          c.StatusInterval,
		"session_duration":         c.SessionDuration,
		"break_duration":           c.BreakDuration,
		"min_delay_floor":          c.MinDelayFloor,
		"breaker_window":           c.BreakerWindow,
		"breaker_cooldown":         c.BreakerCooldown,
		"breaker_max_cooldown":     c.BreakerMaxCooldown,
		"rate_limit_default_delay": c.RateLimitDefaultDelay,
		"rate_limit_max_backoff":   c.RateLimitMaxBackoff,
	} {
		nonNegative(name, d)
	}
	ordered("track_delay_min", "track_delay_max", c.TrackDelayMin, c.TrackDelayMax)
	ordered("album_delay_min", "album_delay_max", c.AlbumDelayMin, c.AlbumDelayMax)
	ordered("retry_base_delay", "retry_max_delay", c.RetryBaseDelay, c.RetryMaxDelay)
	nonNegative("track_delay_min", c.TrackDelayMin)
	nonNegative("album_delay_min", c.AlbumDelayMin)

	if c.ActiveHoursStart < 0 || c.ActiveHoursStart > 23 {
		errs = append(errs, fmt.Errorf("active_hours_start must be 0-23, got %d", c.ActiveHoursStart))
	}
	if c.ActiveHoursEnd < 0 || c.ActiveHoursEnd > 23 {
		errs = append(errs, fmt.Errorf("active_hours_end must be 0-23, got %d", c.ActiveHoursEnd))
	}
	if c.HighVolumeFactor <= 0 || c.HighVolumeFactor > 1 {
		errs = append(errs, fmt.Errorf("high_volume_factor must be in (0, 1], got %g", c.HighVolumeFactor))
	}
	if c.BreakerThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker_threshold must be positive, got %d", c.BreakerThreshold))
	}
	if c.BandwidthLimit < 0 {
		errs = append(errs, fmt.Errorf("bandwidth_limit must not be negative, got %d", c.BandwidthLimit))
	}
	if c.EnableQueuePersistence && c.QueuePersistencePath == "" {
		errs = append(errs, errors.New("queue_persistence_path is required when persistence is enabled"))
	}
	if (c.AuthUser == "") != (c.AuthPasswordHash == "") {
		errs = append(errs, errors.New("auth_user and auth_password_hash must be set together"))
	}
	if c.APIRateLimit < 0 {
		errs = append(errs, fmt.Errorf("api_rate_limit must not be negative, got %g", c.APIRateLimit))
	}

	return errors.Join(errs...)
}

// Behavior returns the pacing settings.
func (c Config) Behavior() behavior.Config {
	return behavior.Config{
		Enabled:             c.EnableNaturalBehavior,
		TrackDelayMin:       c.TrackDelayMin,
		TrackDelayMax:       c.TrackDelayMax,
		AlbumDelayMin:       c.AlbumDelayMin,
		AlbumDelayMax:       c.AlbumDelayMax,
		SessionDuration:     c.SessionDuration,
		BreakDuration:       c.BreakDuration,
		EnableTimeOfDay:     c.EnableTimeOfDay,
		ActiveHoursStart:    c.ActiveHoursStart,
		ActiveHoursEnd:      c.ActiveHoursEnd,
		HighVolumeThreshold: c.HighVolumeThreshold,
		HighVolumeFactor:    c.HighVolumeFactor,
		MinDelayFloor:       c.MinDelayFloor,
	}
}

// Breaker returns the circuit breaker settings.
func (c Config) Breaker() breaker.Config {
	return breaker.Config{
		FailureThreshold:    c.BreakerThreshold,
		Window:              c.BreakerWindow,
		Cooldown:            c.BreakerCooldown,
		MaxCooldown:         c.BreakerMaxCooldown,
		RateLimitDelay:      c.RateLimitDefaultDelay,
		RateLimitMaxBackoff: c.RateLimitMaxBackoff,
	}
}

// QualityLimit returns the hourly budget for q, zero meaning none.
func (c Config) QualityLimit(q models.Quality) int {
	return c.QualityDownloadsPerHr[q.String()]
}
