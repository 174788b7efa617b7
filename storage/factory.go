package storage

import (
	"fmt"

	"github.com/sitewatt/energy-optimizer/config"
	"github.com/sitewatt/energy-optimizer/storage/composite"
	"github.com/sitewatt/energy-optimizer/storage/file"
	"github.com/sitewatt/energy-optimizer/storage/sqlstore"
)

// Logger is satisfied by *log.Logger; passed through to composite for
// fallback-read/write diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

// New dispatches on data_storage.mode, mirroring the original
// file/database/composite factory: "file", "database", or "composite"
// (database primary with a file secondary). The file and database
// `enabled` flags are not consulted.
func New(cfg config.DataStorageConfig, logger Logger) (Storage, error) {
	switch cfg.Mode {
	case "file":
		return file.New(cfg.File.BasePath)
	case "database":
		return openSQL(cfg)
	case "composite":
		primary, err := openSQL(cfg)
		if err != nil {
			return nil, fmt.Errorf("storage: composite primary: %w", err)
		}
		secondary, err := file.New(cfg.File.BasePath)
		if err != nil {
			return nil, fmt.Errorf("storage: composite secondary: %w", err)
		}
		return composite.New(primary, []Storage{secondary}, cfg.EnableFallback, logger), nil
	default:
		return nil, fmt.Errorf("storage: unknown mode %q", cfg.Mode)
	}
}

func openSQL(cfg config.DataStorageConfig) (Storage, error) {
	driver := cfg.Database.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn := cfg.Database.Path
	if driver == "sqlite" && dsn == "" {
		dsn = "data/energy.db"
	}
	return sqlstore.Open(driver, dsn, cfg.Database.PoolSize)
}
