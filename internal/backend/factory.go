package backend

import (
	"fmt"
	"log/slog"

	"buste/internal/storage/memory"
	"buste/internal/storage/postgres"
	"buste/internal/storage/sqlite"
)

// Open builds the configured datastore. The memory backend is for demos and
// tests; sqlite is the single-device default; postgres serves multi-device
// setups.
func Open(cfg Config) (*Result, error) {
	if !cfg.Type.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.Type)
	}

	switch cfg.Type {
	case MemoryBackend:
		slog.Info("Initialized memory backend")
		return &Result{Store: memory.NewStore(), Cleanup: nil}, nil

	case SQLiteBackend:
		if cfg.SQLiteDBPath == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		store, err := sqlite.NewStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite backend: %w", err)
		}
		slog.Info("Initialized sqlite backend", "db_path", cfg.SQLiteDBPath)
		return &Result{Store: store, Cleanup: store.Close}, nil

	case PostgresBackend:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		store, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres backend: %w", err)
		}
		slog.Info("Initialized postgres backend")
		return &Result{Store: store, Cleanup: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
