package config

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/metrics"
)

// Store holds the current configuration snapshot and implements hot reload:
// the file is re-read every scheduler tick, an invalid or unreadable file is
// rejected with a warning, and the previous valid snapshot stays in force.
// Snapshots are swapped atomically so no reader ever observes a half-written
// configuration.
type Store struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Config]
}

// NewStore loads the initial snapshot from path (or the standard locations
// when path is empty). The initial load must succeed; there is no previous
// snapshot to fall back to.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the configuration snapshot in force.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload re-reads and validates the config file and returns the snapshot the
// caller should use for this cycle. On any failure the previous snapshot is
// kept and returned.
func (s *Store) Reload() *Config {
	cfg, err := Load(s.path)
	if err != nil {
		metrics.ConfigReloadsRejected.Inc()
		s.logger.Warn("Config reload rejected, keeping previous snapshot",
			zap.String("path", s.path),
			zap.Error(err))
		return s.current.Load()
	}
	s.current.Store(cfg)
	return cfg
}
