package store

import (
	"context"
	"fmt"
	"sort"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// database/sql driver names.
const (
	// DriverNcruces is the wazero-hosted SQLite build (sqlite-vec included).
	// It also runs under js/wasm.
	DriverNcruces = "sqlite3"
	// DriverModernc is the transpiled pure-Go SQLite. Not available under js/wasm.
	DriverModernc = "sqlite"

	DefaultDriver = DriverNcruces
)

var supportedDrivers = map[string]bool{
	DriverNcruces: true,
}

// DriverSupported reports whether name is registered in this build.
func DriverSupported(name string) bool {
	return supportedDrivers[name]
}

// Drivers lists the registered driver names.
func Drivers() []string {
	out := make([]string, 0, len(supportedDrivers))
	for name := range supportedDrivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EngineInfo describes the SQLite engine behind a store.
type EngineInfo struct {
	Driver        string `json:"driver"`
	SQLiteVersion string `json:"sqliteVersion"`
	// VecVersion is empty unless the driver ships sqlite-vec.
	VecVersion string `json:"vecVersion,omitempty"`
}

// Engine reports the driver and library versions in use.
func (s *SQLiteStore) Engine(ctx context.Context) (EngineInfo, error) {
	info := EngineInfo{Driver: s.db.DriverName()}
	if err := s.db.GetContext(ctx, &info.SQLiteVersion, `SELECT sqlite_version()`); err != nil {
		return info, fmt.Errorf("sqlite_version: %w", err)
	}
	if info.Driver == DriverNcruces {
		if err := s.db.GetContext(ctx, &info.VecVersion, `SELECT vec_version()`); err != nil {
			return info, fmt.Errorf("vec_version: %w", err)
		}
	}
	return info, nil
}
