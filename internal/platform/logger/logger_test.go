package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutputCarriesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:       "debug",
		Environment: "production",
		ServiceName: "request-workflow",
		Version:     "1.2.3",
		Output:      &buf,
	})

	log.Component("engine").Info().Int64("request_id", 42).Msg("Request created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request-workflow", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, float64(42), line["request_id"])
	assert.Equal(t, "Request created", line["message"])
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Environment: "production", Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Msg("hidden too")

	assert.Empty(t, buf.String())
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "chatty", Environment: "production", Output: &buf})

	log.Info().Msg("visible")

	assert.Contains(t, buf.String(), "visible")
}
