package persistence

import (
	"fmt"

	"github.com/aryansinha9/irl-among-us/config"
)

// Open builds the store selected by cfg.Store.Driver.
func Open(cfg *config.Config) (Database, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Store.SQLitePath)
	case "postgres":
		pg := cfg.Database.Postgres
		return NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
