package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), "input %q", input)
	}
}

func TestNew_AppliesConfiguredLevel(t *testing.T) {
	t.Parallel()
	logger := New("warn", "json")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestNew_ConsoleFormatDoesNotPanic(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() { New("info", "console") })
}
