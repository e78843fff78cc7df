// file: internal/fileops/move.go
// version: 1.0.1
// guid: 5b9e2c74-3a16-4f80-b7d5-0c8e4a1f6d29

package fileops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// MoveFile renames src to dst, creating dst's directory. When the rename
// crosses filesystems the file is copied, checksummed and the source
// removed.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return fmt.Errorf("failed to move file: %w", err)
	}

	if err := CopyFile(src, dst); err != nil {
		return err
	}
	srcHash, _, err := HashFile(src)
	if err != nil {
		return fmt.Errorf("failed to hash source: %w", err)
	}
	dstHash, _, err := HashFile(dst)
	if err != nil {
		return fmt.Errorf("failed to hash target: %w", err)
	}
	if srcHash != dstHash {
		_ = os.Remove(dst)
		return fmt.Errorf("checksum mismatch after copy: %s != %s", srcHash, dstHash)
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}

// CopyFile copies src to dst, syncing before close and keeping the source
// permissions.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy data: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync target: %w", err)
	}
	return out.Close()
}

// SanitizeName makes s safe to use as a single path element.
func SanitizeName(s string) string {
	r := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "'", "<", "_", ">", "_", "|", "_", "\x00", "",
	)
	name := strings.TrimSpace(r.Replace(s))
	name = strings.Trim(name, ". ")
	if name == "" {
		return "untitled"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
