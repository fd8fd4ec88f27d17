package models

import (
	"fmt"

	"github.com/mmdatafocus/household_backend/config"
	"gorm.io/gorm"
)

// OpenStore opens the store selected by STORE_DRIVER (mysql, sqlite or memory).
// db is nil for the memory store.
func OpenStore() (store Store, db *gorm.DB, err error) {
	switch driver := config.StoreDriver(); driver {
	case "memory":
		return NewMemoryStore(), nil, nil
	case "sqlite":
		if db, err = config.OpenSQLite(config.SQLitePath()); err != nil {
			return nil, nil, err
		}
	case "mysql":
		db = config.ConnectDatabaseWithRetry()
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
	return NewGormStore(db), db, nil
}
