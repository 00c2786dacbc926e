package store

import (
	"fmt"
	"io"

	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/core"
)

// Store is the combined persistence surface the rest of the system needs.
type Store interface {
	core.Ledger
	core.ExecutionStore
	io.Closer
}

// Open creates a store for the configured driver.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
