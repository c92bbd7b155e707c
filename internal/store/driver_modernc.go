//go:build !js

package store

import (
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func init() {
	supportedDrivers[DriverModernc] = true
	sqlx.BindDriver(DriverModernc, sqlx.QUESTION)
}
