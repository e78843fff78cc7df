// file: internal/logging/logger_test.go
// version: 1.0.0
// guid: 2d7e9a40-c5b1-4f83-a6e2-7b0d9c3f1e58

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_InvalidLevel(t *testing.T) {
	assert.Error(t, Init(Options{Level: "chatty"}))
}

func TestInit_FileAndPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "paced.log")
	require.NoError(t, Init(Options{Level: "debug", File: path}))
	t.Cleanup(func() {
		Close()
		_ = Init(Options{})
	})

	WithPrefix("queue").Info("item queued", "id", "abc")
	Debug("debug line")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "queue")
	assert.Contains(t, string(data), "item queued")
	assert.Contains(t, string(data), "id=abc")
	assert.Contains(t, string(data), "debug line")
}

func TestSetOutput_JSON(t *testing.T) {
	require.NoError(t, Init(Options{JSON: true}))
	t.Cleanup(func() { _ = Init(Options{}) })

	var buf bytes.Buffer
	SetOutput(&buf)
	Warn("persistence save failed", "err", "disk full")
	Debug("hidden at info level")

	out := buf.String()
	assert.Contains(t, out, `"msg":"persistence save failed"`)
	assert.Contains(t, out, `"err":"disk full"`)
	assert.NotContains(t, out, "hidden")
}
