package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewards_Logger_JSONDropsEmptyStrings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Config{Format: FormatJSON, Writer: &buf, Verbose: true})
	require.NoError(t, err)

	log.Debug("engine: claim", "distribution", "abc", "memo", "")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine: claim", line["msg"])
	assert.Equal(t, "abc", line["distribution"])
	assert.NotContains(t, line, "memo")
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, line["time"])
}

func TestRewards_Logger_TextRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Config{Writer: &buf, NoColor: true})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown", "amount", 5)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "amount=5")
}

func TestRewards_Logger_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Format: "xml"})
	require.Error(t, err)
}

func TestRewards_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 890_123_456, time.FixedZone("x", 3600))
	assert.Equal(t, "2026-03-04T04:06:07.890Z", formatRFC3339Millis(ts))
}
