package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("node", Options{Level: "debug", Format: FormatJSON, Out: &buf})
	require.NoError(t, err)

	log.Debug().Int("workers", 4).Msg("starting")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "node", line["component"])
	assert.Equal(t, "starting", line["message"])
	assert.EqualValues(t, 4, line["workers"])
	assert.Equal(t, "debug", line["level"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("node", Options{Level: "WARN", Format: FormatJSON, Out: &buf})
	require.NoError(t, err)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestAutoFormatOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("node", Options{Out: &buf})
	require.NoError(t, err)
	log.Info().Msg("x")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("node", Options{Format: FormatConsole, Out: &buf})
	require.NoError(t, err)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestInvalidOptions(t *testing.T) {
	_, err := New("node", Options{Level: "chatty"})
	assert.Error(t, err)
	_, err = New("node", Options{Format: "xml"})
	assert.Error(t, err)
}
