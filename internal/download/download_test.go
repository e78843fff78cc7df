// file: internal/download/download_test.go
// version: 2.1.0
// guid: 6a1e8d3c-4f27-4b95-a0c6-e2d8b7f9c134

package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/paced-downloader/internal/config"
	"github.com/jdfalk/paced-downloader/internal/models"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusRequestTimeout, Transient},
		{http.StatusInternalServerError, Transient},
		{http.StatusBadGateway, Transient},
		{http.StatusServiceUnavailable, Transient},
		{http.StatusBadRequest, Permanent},
		{http.StatusUnauthorized, Permanent},
		{http.StatusForbidden, Permanent},
		{http.StatusNotFound, Permanent},
		{http.StatusGone, Permanent},
		{http.StatusUnprocessableEntity, Permanent},
		{http.StatusTeapot, Transient},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.code))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	assert.Equal(t, Permanent, Classify(fmt.Errorf("wrapped: %w", NewError(Permanent, errors.New("404")))))
	assert.Equal(t, RateLimited, Classify(&Error{Kind: RateLimited}))
	assert.Equal(t, Cancelled, Classify(fmt.Errorf("stop: %w", context.Canceled)))
	assert.Equal(t, Transient, Classify(context.DeadlineExceeded))
	assert.Equal(t, Transient, Classify(timeoutErr{}))
	assert.Equal(t, Transient, Classify(errors.New("mystery")))
	assert.True(t, RateLimited.Retryable())
	assert.False(t, Permanent.Retryable())
	assert.False(t, Cancelled.Retryable())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 120*time.Second, ParseRetryAfter("120", now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-5", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat), now))
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewError(Transient, base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "transient: boom", err.Error())
	assert.Equal(t, 3*time.Second, RetryAfterOf(fmt.Errorf("x: %w", &Error{Kind: RateLimited, RetryAfter: 3 * time.Second})))
}

func flacBody(n int) []byte {
	body := make([]byte, n)
	copy(body, "fLaC")
	for i := 4; i < n; i++ {
		body[i] = byte(i)
	}
	return body
}

func newItem(t *testing.T, src string) models.DownloadItem {
	return models.DownloadItem{
		ID:              "01J0TESTITEM",
		Title:           "Alison",
		Artist:          "Slowdive",
		Album:           "Souvlaki",
		DestinationPath: filepath.Join(t.TempDir(), "out"),
		SourceRef:       src,
		Resumable:       true,
	}
}

func TestHTTPDownloader_Success(t *testing.T) {
	body := flacBody(100_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "track.flac", time.Time{}, strings.NewReader(string(body)))
	}))
	defer srv.Close()

	d := NewHTTPDownloader(HTTPConfig{VerifyAudio: true}, srv.Client())
	item := newItem(t, srv.URL+"/a/track.flac")

	var last atomic.Int64
	res, err := d.Download(context.Background(), item, func(done, total int64) {
		last.Store(done)
		assert.Equal(t, int64(len(body)), total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), res.Bytes)
	assert.Equal(t, int64(len(body)), last.Load())
	assert.Equal(t, filepath.Join(item.DestinationPath, "Slowdive - Alison.flac"), res.Path)
	assert.Len(t, res.SHA256, 64)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.NoFileExists(t, filepath.Join(item.DestinationPath, item.ID+partSuffix))
}

func TestHTTPDownloader_ResumesPartialFile(t *testing.T) {
	body := flacBody(50_000)
	var sawRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange.Store(r.Header.Get("Range"))
		http.ServeContent(w, r, "track.flac", time.Time{}, strings.NewReader(string(body)))
	}))
	defer srv.Close()

	stage := t.TempDir()
	item := newItem(t, srv.URL+"/track.flac")
	require.NoError(t, os.WriteFile(filepath.Join(stage, item.ID+partSuffix), body[:20_000], 0o644))

	d := NewHTTPDownloader(HTTPConfig{StagingDir: stage}, srv.Client())
	res, err := d.Download(context.Background(), item, nil)
	require.NoError(t, err)
	assert.Equal(t, "bytes=20000-", sawRange.Load())

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestHTTPDownloader_Checksum(t *testing.T) {
	body := flacBody(10_000)
	sum := sha256.Sum256(body)
	good := hex.EncodeToString(sum[:])

	for _, tc := range []struct {
		name    string
		header  string
		wantErr bool
	}{
		{"matching digest", good, false},
		{"no digest", "", false},
		{"corrupt body", strings.Repeat("ab", 32), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set(ChecksumHeader, tc.header)
				}
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			stage := t.TempDir()
			item := newItem(t, srv.URL+"/track.flac")
			res, err := NewHTTPDownloader(HTTPConfig{StagingDir: stage}, srv.Client()).Download(context.Background(), item, nil)
			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, good, res.SHA256)
				return
			}
			require.Error(t, err)
			assert.Equal(t, Transient, Classify(err))
			assert.NoFileExists(t, filepath.Join(stage, item.ID+partSuffix))
		})
	}
}

func TestHTTPDownloader_StatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   Kind
		wantAfter  time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "7", RateLimited, 7 * time.Second},
		{"server error", http.StatusBadGateway, "", Transient, 0},
		{"not found", http.StatusNotFound, "", Permanent, 0},
		{"auth", http.StatusUnauthorized, "", Permanent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPDownloader(HTTPConfig{}, srv.Client()).Download(context.Background(), newItem(t, srv.URL+"/x.mp3"), nil)
			require.Error(t, err)
			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantKind, de.Kind)
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, tt.wantAfter, de.RetryAfter)
		})
	}
}

func TestHTTPDownloader_RejectsNonAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>please log in again to continue listening</html>")
	}))
	defer srv.Close()

	item := newItem(t, srv.URL+"/track")
	_, err := NewHTTPDownloader(HTTPConfig{VerifyAudio: true}, srv.Client()).Download(context.Background(), item, nil)
	assert.Equal(t, Permanent, Classify(err))
	assert.NoFileExists(t, filepath.Join(item.DestinationPath, item.ID+partSuffix))
}

func TestHTTPDownloader_InvalidInput(t *testing.T) {
	d := NewHTTPDownloader(HTTPConfig{}, nil)

	_, err := d.Download(context.Background(), newItem(t, "ftp://example.invalid/x"), nil)
	assert.Equal(t, Permanent, Classify(err))

	item := newItem(t, "https://example.invalid/x")
	item.DestinationPath = ""
	_, err = d.Download(context.Background(), item, nil)
	assert.Equal(t, Permanent, Classify(err))
}

func TestHTTPDownloader_CancelKeepsPartialFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "200000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(flacBody(chunkSize))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	item := newItem(t, srv.URL+"/slow.flac")
	d := NewHTTPDownloader(HTTPConfig{}, srv.Client())

	var started atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := d.Download(ctx, item, func(n, _ int64) {
			if n > 0 && started.CompareAndSwap(false, true) {
				cancel()
			}
		})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Equal(t, Cancelled, Classify(err))
	case <-time.After(5 * time.Second):
		t.Fatal("download ignored cancellation")
	}
	info, err := os.Stat(filepath.Join(item.DestinationPath, item.ID+partSuffix))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestDownloaderFunc(t *testing.T) {
	var d Downloader = DownloaderFunc(func(ctx context.Context, item models.DownloadItem, _ ProgressFunc) (Result, error) {
		return Result{Bytes: item.BytesTotal}, nil
	})
	res, err := d.Download(context.Background(), models.DownloadItem{BytesTotal: 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Bytes)
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BandwidthLimit = 4096
	cfg.UserAgent = "test-agent"
	cfg.VerifyAudio = false

	d := NewClientFromConfig(cfg)
	require.NotNil(t, d)
	assert.Equal(t, 4096, d.cfg.BytesPerSecond)
	assert.Equal(t, "test-agent", d.cfg.UserAgent)
	assert.False(t, d.cfg.VerifyAudio)
	assert.NotNil(t, d.client.Transport)
}
