package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(&buf, "warn", "json"))
	t.Cleanup(func() { SetDefault(nil) })

	Info("tick processed %d points", 3)
	assert.Zero(t, buf.Len(), "info should be suppressed at warn level")

	Warn("model missing for %s", "FIC-101")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "model missing for FIC-101", entry["message"])
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(&buf, "verbose", "text"))
	t.Cleanup(func() { SetDefault(nil) })

	Debug("hidden")
	assert.Zero(t, buf.Len())
	Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetupRejectsFileWithoutSize(t *testing.T) {
	err := Setup(Config{Level: "info", Format: "json", Output: t.TempDir() + "/procwatch.log"})
	assert.Error(t, err)
}

func TestNilLoggerIsSafe(t *testing.T) {
	SetDefault(nil)
	assert.NotPanics(t, func() {
		Debug("x")
		Info("x")
		Warn("x")
		Error("x")
	})
}
