package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	WithCaller bool
	Level      string
	// LogFormat is "text" or "json". Text falls back to plain JSON lines when
	// stderr is not a terminal.
	LogFormat string
	LogFile   string
}

// InitLogger configures the global zerolog logger.
func InitLogger(config *Config) error {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return err
	}

	logger := zerolog.New(consoleOrJSON(config.LogFormat, os.Stderr)).With().Timestamp()
	if config.LogFile != "" {
		logger = zerolog.New(io.MultiWriter(
			consoleOrJSON(config.LogFormat, os.Stderr),
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			},
		)).With().Timestamp()
	}
	if config.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	zerolog.SetGlobalLevel(level)

	return nil
}

func consoleOrJSON(format string, out *os.File) io.Writer {
	if format == "text" && isatty.IsTerminal(out.Fd()) {
		return zerolog.ConsoleWriter{Out: out}
	}
	return out
}

// ParseLevel is zerolog.ParseLevel with an empty string meaning info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	ret, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return ret, nil
}
