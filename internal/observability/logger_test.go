package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "docqa", "info").WithPrefix("ingest")

	log.Info("chunk stored", map[string]interface{}{"index": 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chunk stored", entry["message"])
	assert.Equal(t, "docqa", entry["service"])
	assert.Equal(t, "ingest", entry["component"])
	assert.Equal(t, float64(2), entry["index"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "docqa", "warn")

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	log.Warn("shown", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")
}

func TestLoggerUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "docqa", "loud")
	log.Debug("hidden", nil)
	log.Info("shown", nil)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.Error("ignored", map[string]interface{}{"k": "v"})
	assert.NotNil(t, log.WithPrefix("x"))
}
