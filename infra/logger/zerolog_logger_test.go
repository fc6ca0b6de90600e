package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("TAXI_ENV", "dev")
	l := NewZerologLogger("test")
	require.NotNil(t, l)
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("TAXI_LOG_LEVEL", "")
	assert.Equal(t, zerolog.InfoLevel, levelFromEnv())

	t.Setenv("TAXI_LOG_LEVEL", "debug")
	assert.Equal(t, zerolog.DebugLevel, levelFromEnv())

	t.Setenv("TAXI_LOG_LEVEL", "WARN")
	assert.Equal(t, zerolog.WarnLevel, levelFromEnv())

	t.Setenv("TAXI_LOG_LEVEL", "nonsense")
	assert.Equal(t, zerolog.InfoLevel, levelFromEnv())
}
