// file: internal/metadata/verify.go
// version: 2.0.0
// guid: 9d0e1f2a-3b4c-5d6e-7f8a-9b0c1d2e3f4a

// Package metadata checks that downloaded files are audio and reads their
// tags.
package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/jdfalk/paced-downloader/internal/models"
)

// ErrUnrecognized is returned for files that are not a known audio format.
var ErrUnrecognized = errors.New("unrecognized audio file")

// Info describes a verified audio file.
type Info struct {
	FileType tag.FileType
	Format   tag.Format
	Title    string
	Artist   string
	Album    string
	Track    int
	Tagged   bool
}

// Extension returns the conventional file extension for the detected type.
func (i Info) Extension() string {
	switch i.FileType {
	case tag.MP3:
		return ".mp3"
	case tag.FLAC:
		return ".flac"
	case tag.OGG:
		return ".ogg"
	case tag.M4A, tag.ALAC:
		return ".m4a"
	case tag.DSF:
		return ".dsf"
	default:
		return ""
	}
}

// Verify identifies the container of the file at path and reads its tags
// when present. Missing tags are not an error; an unknown container is.
func Verify(path string) (Info, error) {
	var info Info

	f, err := os.Open(path)
	if err != nil {
		return info, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	format, fileType, err := tag.Identify(f)
	if err != nil {
		return info, fmt.Errorf("%w: %s: %v", ErrUnrecognized, filepath.Base(path), err)
	}
	if fileType == tag.UnknownFileType {
		return info, fmt.Errorf("%w: %s", ErrUnrecognized, filepath.Base(path))
	}
	info.FileType = fileType
	info.Format = format

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return info, fmt.Errorf("error rewinding file: %w", err)
	}
	m, err := tag.ReadFrom(f)
	if err != nil {
		return info, nil
	}
	info.Tagged = true
	info.Title = strings.TrimSpace(m.Title())
	info.Artist = strings.TrimSpace(m.Artist())
	info.Album = strings.TrimSpace(m.Album())
	info.Track, _ = m.Track()
	return info, nil
}

// Mismatches lists tag fields that disagree with the requested item. Empty
// tags are not reported.
func Mismatches(info Info, item models.DownloadItem) []string {
	var out []string
	check := func(field, got, want string) {
		if got != "" && want != "" && !strings.EqualFold(got, want) {
			out = append(out, fmt.Sprintf("%s: tagged %q, requested %q", field, got, want))
		}
	}
	check("artist", info.Artist, item.Artist)
	check("album", info.Album, item.Album)
	return out
}
