// Package db opens the local DuckDB database that backs the duckdb catalog
// and map source drivers.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config holds database configuration.
type Config struct {
	DataDir    string
	Name       string
	Extensions []string
}

var extensionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Path returns the database file for cfg. An empty name opens an in-memory
// database.
func (c Config) Path() string {
	if c.Name == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "duckdb", c.Name+".duckdb")
}

// Open opens the database and loads the configured extensions. Extensions
// that fail to install are logged and skipped.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.Path()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, eris.Wrap(err, "db: create duckdb directory")
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, eris.Wrapf(err, "db: open %s", path)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, eris.Wrapf(err, "db: ping %s", path)
	}

	for _, ext := range cfg.Extensions {
		if !extensionName.MatchString(ext) {
			zap.L().Warn("skipping invalid duckdb extension name", zap.String("extension", ext))
			continue
		}
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			zap.L().Warn("duckdb extension not loaded", zap.String("extension", ext), zap.Error(err))
		}
	}

	zap.L().Info("duckdb opened", zap.String("path", path), zap.Strings("extensions", cfg.Extensions))
	return conn, nil
}
