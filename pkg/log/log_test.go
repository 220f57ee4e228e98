package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("loud"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Output: &bytes.Buffer{}}) })

	poolLog := WithPool("tracker")
	poolLog.Info().Msg("hidden")
	storageLog := WithEndpoint("storage", "10.0.0.5:23000")
	storageLog.Warn().Int("attempt", 2).Msg("Connect attempt failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "storage", entry["component"])
	assert.Equal(t, "10.0.0.5:23000", entry["endpoint"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "Connect attempt failed", entry["message"])
}
