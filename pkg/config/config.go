package config

import (
	"strings"

	"github.com/go-go-golems/forkchat/pkg/logging"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/responder"
	"github.com/go-go-golems/forkchat/pkg/server"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is everything forkchat reads from flags, environment and the
// config file.
type Config struct {
	ListenAddr string
	Store      persistence.Settings
	Retry      server.RetrySettings
	Responder  responder.Settings
	Log        logging.Config
	Verbose    bool
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	retry := server.DefaultRetrySettings()
	v.SetDefault("listen-addr", "127.0.0.1:8089")
	v.SetDefault("store-backend", persistence.BackendMemory)
	v.SetDefault("store-path", "")
	v.SetDefault("store-cache-size", 0)
	v.SetDefault("retry-max-attempts", retry.MaxAttempts)
	v.SetDefault("retry-initial-interval", retry.InitialInterval)
	v.SetDefault("retry-max-interval", retry.MaxInterval)
	v.SetDefault("responder-provider", responder.ProviderNone)
	v.SetDefault("responder-model", "")
	v.SetDefault("responder-base-url", "")
	v.SetDefault("responder-api-key", "")
	v.SetDefault("responder-max-tokens", 0)
	v.SetDefault("responder-allow-local", false)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("log-file", "")
	v.SetDefault("with-caller", false)
	v.SetDefault("verbose", false)
}

// FromViper reads and validates the configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	ret := &Config{
		ListenAddr: strings.TrimSpace(v.GetString("listen-addr")),
		Store: persistence.Settings{
			Backend:   strings.ToLower(strings.TrimSpace(v.GetString("store-backend"))),
			Path:      v.GetString("store-path"),
			CacheSize: v.GetInt("store-cache-size"),
		},
		Retry: server.RetrySettings{
			MaxAttempts:     v.GetInt("retry-max-attempts"),
			InitialInterval: v.GetDuration("retry-initial-interval"),
			MaxInterval:     v.GetDuration("retry-max-interval"),
		},
		Responder: responder.Settings{
			Provider:          strings.ToLower(strings.TrimSpace(v.GetString("responder-provider"))),
			Model:             v.GetString("responder-model"),
			BaseURL:           v.GetString("responder-base-url"),
			APIKey:            v.GetString("responder-api-key"),
			MaxTokens:         v.GetInt("responder-max-tokens"),
			AllowLocalBaseURL: v.GetBool("responder-allow-local"),
		},
		Log: logging.Config{
			Level:      v.GetString("log-level"),
			LogFormat:  v.GetString("log-format"),
			LogFile:    v.GetString("log-file"),
			WithCaller: v.GetBool("with-caller"),
		},
		Verbose: v.GetBool("verbose"),
	}
	if ret.Verbose && ret.Log.Level != "trace" {
		ret.Log.Level = "debug"
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case persistence.BackendMemory:
	case persistence.BackendSQLite, persistence.BackendYAML:
		if c.Store.Path == "" {
			return errors.Errorf("store-path is required for the %s backend", c.Store.Backend)
		}
	default:
		return errors.Errorf("unknown store-backend %q", c.Store.Backend)
	}
	if c.Store.CacheSize < 0 {
		return errors.New("store-cache-size must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry-max-attempts must be at least 1")
	}
	switch c.Responder.Provider {
	case "", responder.ProviderNone, responder.ProviderEcho:
	case responder.ProviderOpenAI:
		if c.Responder.APIKey == "" {
			return errors.New("responder-api-key is required for the openai provider")
		}
		if c.Responder.BaseURL != "" {
			if err := responder.ValidateBaseURL(c.Responder.BaseURL, c.Responder.AllowLocalBaseURL); err != nil {
				return errors.Wrap(err, "responder-base-url")
			}
		}
	default:
		return errors.Errorf("unknown responder-provider %q", c.Responder.Provider)
	}
	switch c.Log.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("unknown log-format %q", c.Log.LogFormat)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

