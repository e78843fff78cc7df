// file: internal/download/http.go
// version: 1.2.0
// guid: 2670e805-a4a5-4cd0-870a-fe15f09bd4e8

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/jdfalk/paced-downloader/internal/fileops"
	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/metadata"
	"github.com/jdfalk/paced-downloader/internal/models"
)

const (
	partSuffix = ".part"
	chunkSize  = 32 * 1024
)

// HTTPConfig tunes HTTPDownloader.
type HTTPConfig struct {
	// BytesPerSecond caps throughput per download; zero is unlimited.
	BytesPerSecond int
	UserAgent      string
	// StagingDir holds .part files; defaults to the item destination.
	StagingDir string
	// VerifyAudio rejects files that are not a recognized audio container.
	VerifyAudio bool
}

// HTTPDownloader fetches item.SourceRef over HTTP, resuming partial files
// with Range requests.
type HTTPDownloader struct {
	cfg    HTTPConfig
	client *http.Client
	log    *log.Logger
}

// NewHTTPDownloader creates a downloader. A nil client uses a default one
// without an overall timeout; per-item deadlines come from ctx.
func NewHTTPDownloader(cfg HTTPConfig, client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "paced-downloader/1.0"
	}
	return &HTTPDownloader{cfg: cfg, client: client, log: logging.WithPrefix("http")}
}

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, item models.DownloadItem, progress ProgressFunc) (Result, error) {
	var res Result

	u, err := url.Parse(item.SourceRef)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return res, NewError(Permanent, fmt.Errorf("invalid source %q", item.SourceRef))
	}
	if item.DestinationPath == "" {
		return res, NewError(Permanent, errors.New("no destination path"))
	}

	staging := d.cfg.StagingDir
	if staging == "" {
		staging = item.DestinationPath
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return res, NewError(Permanent, fmt.Errorf("failed to create staging directory: %w", err))
	}
	partPath := filepath.Join(staging, fileops.SanitizeName(item.ID)+partSuffix)

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	written, want, err := d.fetch(ctx, u.String(), partPath, offset, item.BytesTotal, progress)
	if err != nil {
		return res, err
	}
	sum, err := fileops.VerifyChecksum(partPath, want)
	if err != nil {
		// Corrupt content; drop it so the retry starts from zero.
		_ = os.Remove(partPath)
		return res, NewError(Transient, err)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) > 6 {
		ext = ""
	}
	if d.cfg.VerifyAudio {
		info, err := metadata.Verify(partPath)
		if err != nil {
			_ = os.Remove(partPath)
			return res, NewError(Permanent, err)
		}
		if ext == "" {
			ext = info.Extension()
		}
		for _, m := range metadata.Mismatches(info, item) {
			d.log.Warn("tag mismatch", "id", item.ID, "detail", m)
		}
	}

	final := filepath.Join(item.DestinationPath, fileops.SanitizeName(item.DisplayName())+ext)
	if err := fileops.MoveFile(partPath, final); err != nil {
		return res, NewError(Transient, err)
	}

	res.Path = final
	res.Bytes = written
	res.SHA256 = sum
	res.TotalTracks = 1
	res.CompletedTracks = 1
	return res, nil
}

// ChecksumHeader optionally carries the hex SHA-256 of the complete file.
const ChecksumHeader = "X-Checksum-Sha256"

// fetch streams the body into partPath starting at offset. It returns the
// final file size and the digest announced in ChecksumHeader, if any.
func (d *HTTPDownloader) fetch(ctx context.Context, src, partPath string, offset, expected int64, progress ProgressFunc) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, "", NewError(Permanent, err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		return 0, "", NewError(Transient, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	digest := strings.TrimSpace(resp.Header.Get(ChecksumHeader))

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 && (expected == 0 || offset == expected) {
			return offset, "", nil
		}
		// Stale partial file; start over on the next attempt.
		_ = os.Remove(partPath)
		return 0, "", NewError(Transient, fmt.Errorf("range %d- not satisfiable", offset))
	default:
		return 0, "", StatusError(resp)
	}

	total := expected
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return 0, "", NewError(Permanent, fmt.Errorf("failed to open %s: %w", partPath, err))
	}

	n, copyErr := d.copy(ctx, f, resp.Body, offset, total, progress)
	closeErr := f.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return n, "", ctx.Err()
		}
		return n, "", NewError(Transient, copyErr)
	}
	if closeErr != nil {
		return n, "", NewError(Transient, closeErr)
	}
	if total > 0 && n != total {
		return n, "", NewError(Transient, fmt.Errorf("short body: %d of %d bytes", n, total))
	}
	return n, digest, nil
}

func (d *HTTPDownloader) copy(ctx context.Context, w io.Writer, r io.Reader, done, total int64, progress ProgressFunc) (int64, error) {
	var limiter *rate.Limiter
	if d.cfg.BytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.BytesPerSecond), max(d.cfg.BytesPerSecond, chunkSize))
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if limiter != nil {
				if werr := limiter.WaitN(ctx, n); werr != nil {
					return done, werr
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return done, werr
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if err == io.EOF {
			return done, nil
		}
		if err != nil {
			return done, err
		}
	}
}
