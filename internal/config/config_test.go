// file: internal/config/config_test.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8b9c-0d1e-2f3a4b5c6d7e

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/paced-downloader/internal/models"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 2, c.MaxConcurrentDownloads)
	assert.Equal(t, 60, c.MaxDownloadsPerHour)
	assert.Equal(t, 1000, c.QueueCapacity)
	assert.Equal(t, 3, c.MaxRetryCount)
	assert.Equal(t, 30*time.Minute, c.ItemTimeout)
	assert.Equal(t, 30*time.Second, c.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, c.StatusInterval)
	assert.True(t, c.EnableQueuePersistence)
	assert.True(t, c.EnableNaturalBehavior)
	assert.Equal(t, 40, c.QualityLimit(models.QualityLossless))
	assert.Equal(t, 0, c.QualityLimit(models.QualityLow))
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	v := viper.New()
	v.Set("max_concurrent_downloads", 4)
	v.Set("track_delay_min", "3s")
	v.Set("track_delay_max", "5s")
	v.Set("quality_downloads_per_hour.standard", 90)
	v.Set("active_hours_start", 22)
	v.Set("active_hours_end", 6)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 4, c.MaxConcurrentDownloads)
	assert.Equal(t, 3*time.Second, c.TrackDelayMin)
	assert.Equal(t, 5*time.Second, c.TrackDelayMax)
	assert.Equal(t, 90, c.QualityLimit(models.QualityStandard))

	b := c.Behavior()
	assert.Equal(t, 22, b.ActiveHoursStart)
	assert.Equal(t, 6, b.ActiveHoursEnd)
	assert.Equal(t, c.TrackDelayMax, b.TrackDelayMax)
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	c := Default()
	c.MaxConcurrentDownloads = 0
	c.TrackDelayMin = 10 * time.Second
	c.TrackDelayMax = time.Second
	c.ActiveHoursEnd = 24
	c.HighVolumeFactor = 2
	c.AuthUser = "admin"
	c.QualityDownloadsPerHr = map[string]int{"vinyl": 3}

	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"max_concurrent_downloads",
		"track_delay_min",
		"active_hours_end",
		"high_volume_factor",
		"auth_user",
		"quality_downloads_per_hour",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_PersistencePathRequired(t *testing.T) {
	c := Default()
	c.QueuePersistencePath = ""
	assert.ErrorContains(t, c.Validate(), "queue_persistence_path")

	c.EnableQueuePersistence = false
	assert.NoError(t, c.Validate())
}

func TestBreakerMapping(t *testing.T) {
	c := Default()
	c.BreakerThreshold = 7
	c.RateLimitDefaultDelay = 10 * time.Second
	b := c.Breaker()
	assert.Equal(t, 7, b.FailureThreshold)
	assert.Equal(t, 10*time.Second, b.RateLimitDelay)
	assert.Equal(t, c.BreakerMaxCooldown, b.MaxCooldown)
}
