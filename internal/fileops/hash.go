// file: internal/fileops/hash.go
// version: 2.0.0
// guid: 6c2f8e14-b73a-4d05-9e81-a4d0c7b2f356

package fileops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// HashFile returns the hex SHA-256 of the file at path and its size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", n, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ChecksumError reports a file whose content does not match the expected digest.
type ChecksumError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// VerifyChecksum compares the file's SHA-256 with want, ignoring case. An
// empty want always passes and still returns the computed digest.
func VerifyChecksum(path, want string) (string, error) {
	got, _, err := HashFile(path)
	if err != nil {
		return "", err
	}
	if want != "" && !strings.EqualFold(got, want) {
		return got, &ChecksumError{Path: path, Want: want, Got: got}
	}
	return got, nil
}
