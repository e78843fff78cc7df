// file: cmd/cmd_test.go
// version: 1.1.0
// guid: 41d8b7e2-9a05-4c3f-b6e1-f7c2a0d95e38

package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/paced-downloader/internal/config"
	"github.com/jdfalk/paced-downloader/internal/download"
	"github.com/jdfalk/paced-downloader/internal/history"
	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/persistence"
	"github.com/jdfalk/paced-downloader/internal/queue"
	"github.com/jdfalk/paced-downloader/internal/server"
	"github.com/jdfalk/paced-downloader/internal/stats"
)

func record(id, title string) models.QueueSnapshotRecord {
	return models.RecordFromItem(models.DownloadItem{
		ID: id, Title: title, Artist: "Artist", Quality: models.QualityLossless,
		QueuedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
}

func TestShowSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, persistence.NewStore(dir).Save([]models.QueueSnapshotRecord{record("a1", "First"), record("b2", "Second")}))

	var out bytes.Buffer
	require.NoError(t, showSnapshot(&out, dir, false))
	assert.Contains(t, out.String(), "2 item(s)")
	assert.Contains(t, out.String(), "a1")
	assert.Contains(t, out.String(), "lossless")
	assert.Contains(t, out.String(), "Second")
}

func TestShowSnapshot_FallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, persistence.NewStore(dir).Save([]models.QueueSnapshotRecord{record("old", "Old")}))
	// A new store backs up the existing file before its first write.
	second := persistence.NewStore(dir)
	require.NoError(t, second.Save([]models.QueueSnapshotRecord{record("new", "New")}))
	require.NoError(t, os.WriteFile(second.Path(), []byte("{not json"), 0o644))

	var out bytes.Buffer
	require.NoError(t, showSnapshot(&out, dir, true))
	assert.Contains(t, out.String(), `"old"`)
	assert.NotContains(t, out.String(), `"new"`)
}

func TestShowSnapshot_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, showSnapshot(&out, t.TempDir(), false))
	assert.Contains(t, out.String(), "0 item(s)")
}

func TestRankByMatch(t *testing.T) {
	items := []models.DownloadItem{
		{ID: "1", Title: "Something Else", Artist: "Other"},
		{ID: "2", Title: "Naima", Artist: "John Coltrane"},
		{ID: "3", Title: "Naima (Live)", Artist: "John Coltrane"},
	}
	rankByMatch(items, "naima")
	assert.Equal(t, "1", items[2].ID, "non-matching items sort last")
}

func TestPrintItems(t *testing.T) {
	var out bytes.Buffer
	printItems(&out, nil)
	assert.Contains(t, out.String(), "no items")

	out.Reset()
	printItems(&out, []models.DownloadItem{{ID: "x", Title: "Song", Status: models.StatusDownloading, Progress: 0.5}})
	assert.Contains(t, out.String(), "downloading")
	assert.Contains(t, out.String(), "50%")
}

func TestAPIClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.EnableNaturalBehavior = false
	cfg.EnableTimeOfDay = false
	cfg.MaxDownloadsPerHour = 0
	cfg.QualityDownloadsPerHr = nil
	cfg.APIRateLimit = 0

	q, err := queue.New(queue.Options{
		Config: cfg,
		Downloader: download.DownloaderFunc(func(ctx context.Context, it models.DownloadItem, progress download.ProgressFunc) (download.Result, error) {
			<-ctx.Done()
			return download.Result{}, ctx.Err()
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Stop() })

	ts := httptest.NewServer(server.New(cfg, q, nil, "test").Handler())
	t.Cleanup(ts.Close)
	client := newAPIClient(ts.URL, "", "")
	ctx := context.Background()

	it, err := client.Add(ctx, server.AddItemRequest{ID: "c1", Title: "Blue Train", Artist: "John Coltrane", SourceRef: "ref"})
	require.NoError(t, err)
	assert.Equal(t, "c1", it.ID)

	_, err = client.Add(ctx, server.AddItemRequest{ID: "c1", Title: "Blue Train", SourceRef: "ref"})
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	items, err := client.List(ctx, "queued", "coltrane")
	require.NoError(t, err)
	require.Len(t, items, 1)

	s, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending)

	require.NoError(t, client.Remove(ctx, "c1"))
	err = client.Remove(ctx, "c1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestAPIClient_Unreachable(t *testing.T) {
	client := newAPIClient("127.0.0.1:1", "", "")
	_, err := client.Stats(context.Background())
	assert.ErrorContains(t, err, "cannot reach daemon")
}

func TestShowHistory(t *testing.T) {
	dir := t.TempDir()
	ledger, err := history.Open(dir)
	require.NoError(t, err)
	done := models.DownloadItem{ID: "h1", Title: "Giant Steps", Artist: "John Coltrane", Status: models.StatusCompleted, EndedAt: time.Now()}
	require.NoError(t, ledger.Record(history.EntryFromItem(done, "/music/h1", "")))
	require.NoError(t, ledger.Close())

	var out bytes.Buffer
	require.NoError(t, showHistory(&out, dir, 10))
	assert.Contains(t, out.String(), "completed: 1")
	assert.Contains(t, out.String(), "Giant Steps")
}

func TestShowStatus(t *testing.T) {
	dir := t.TempDir()
	w := persistence.NewStatusWriter(dir)
	require.NoError(t, w.Write(persistence.Status{
		PluginVersion:           "9.9.9",
		TotalCompletedDownloads: 4,
		ArtistStats: map[string]stats.ArtistStats{
			"Miles Davis":   {Completed: 3},
			"John Coltrane": {Completed: 1, Failed: 1},
		},
	}))

	var out bytes.Buffer
	require.NoError(t, showStatus(&out, w.Path(), 1))
	assert.Contains(t, out.String(), "9.9.9")
	assert.Contains(t, out.String(), "Miles Davis")
	assert.NotContains(t, out.String(), "John Coltrane")

	assert.Error(t, showStatus(&out, filepath.Join(dir, "missing.json"), 1))
}

func TestConfigShowCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "paced.yaml")
	c := config.Default()
	c.MaxConcurrentDownloads = 7
	c.QueuePersistencePath = t.TempDir()
	require.NoError(t, c.Save(path))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "config", "show"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		cfgFile = ""
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "max_concurrent_downloads: 7")
}

func TestServeCommandTimeoutFlags(t *testing.T) {
	read, err := serveCmd.Flags().GetDuration("read-timeout")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, read)
	idle, err := serveCmd.Flags().GetDuration("idle-timeout")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, idle)
}
