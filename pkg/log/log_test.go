package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("orchestrator")
	logger.Info().Msg("hello")
	out := buf.String()
	assert.Contains(t, out, `"component":"orchestrator"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("dropped")
	Logger.Warn().Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	Init(Config{Level: "verbose", JSONOutput: true, Output: &bytes.Buffer{}})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestScopedChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithInstance(WithService(WithComponent("orchestrator"), "web"), "web-1a2b")
	logger.Info().Msg("probing")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"component":"orchestrator"`)
	assert.Contains(t, out, `"service":"web"`)
	assert.Contains(t, out, `"instance":"web-1a2b"`)
}
