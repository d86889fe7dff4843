package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"info", InfoLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestWithComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf, Version: "v1.2.3"})
	defer Init(Config{Output: &bytes.Buffer{}})

	logger := WithComponent("manager")
	logger.Info().Str("message_id", "42").Msg("committed")

	line := decode(t, &buf)
	assert.Equal(t, "manager", line["component"])
	assert.Equal(t, "42", line["message_id"])
	assert.Equal(t, "committed", line["message"])
	assert.Equal(t, "v1.2.3", line["version"])
	assert.Contains(t, line, "time")
}

func TestWithMessageID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{JSONOutput: true, Output: &buf})
	defer Init(Config{Output: &bytes.Buffer{}})

	logger := WithMessageID("m1")
	logger.Warn().Msg("mirror missing")

	assert.Equal(t, "m1", decode(t, &buf)["message_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
