package persistence

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendYAML   = "yaml"
)

// Settings selects and configures a backend.
type Settings struct {
	Backend   string
	Path      string
	CacheSize int
}

// Open builds the adapter described by settings, wrapped in a CachedAdapter
// when CacheSize is positive.
func Open(settings Settings) (Adapter, error) {
	backend := strings.ToLower(strings.TrimSpace(settings.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	var (
		adapter Adapter
		err     error
	)
	switch backend {
	case BackendMemory:
		adapter = NewInMemoryAdapter()
	case BackendSQLite:
		dsn, dsnErr := SQLiteDSNForFile(settings.Path)
		if dsnErr != nil {
			return nil, dsnErr
		}
		adapter, err = NewSQLiteAdapter(dsn)
	case BackendYAML:
		adapter, err = NewYAMLFileAdapter(settings.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", settings.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("backend", backend).
		Str("path", settings.Path).
		Int("cache_size", settings.CacheSize).
		Msg("opened conversation store")

	if settings.CacheSize > 0 {
		return NewCachedAdapter(adapter, settings.CacheSize), nil
	}
	return adapter, nil
}
