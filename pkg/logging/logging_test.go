package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		"warn":     zerolog.WarnLevel,
		"trace":    zerolog.TraceLevel,
		"panic":    zerolog.PanicLevel,
		"disabled": zerolog.Disabled,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitLoggerWritesFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "forkchat.log")
	require.NoError(t, InitLogger(&Config{Level: "debug", LogFormat: "json", LogFile: path}))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Str("conversation_id", "abc").Msg("written to file")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "written to file")
	assert.Contains(t, string(b), "conversation_id=abc")

	assert.Error(t, InitLogger(&Config{Level: "nope"}))
}
