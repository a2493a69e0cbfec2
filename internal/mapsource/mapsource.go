// Package mapsource implements the map data collaborators: a remote map
// service and a reader over pre-extracted road geometry in DuckDB.
package mapsource

import (
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// Drivers supported by NewFactory.
const (
	DriverDuckDB = "duckdb"
	DriverRemote = "remote"
)

// TokenSource supplies the bearer token for remote calls.
type TokenSource interface {
	Token() string
}

// Options selects and configures a map source driver.
type Options struct {
	Driver string
	DuckDB DuckDBOptions
	DB     *sql.DB
	Remote RemoteOptions
}

// Factory builds the map source for one session.
type Factory func(tokens TokenSource) coverage.MapSource

// NewFactory validates opts and returns a per-session map source factory.
func NewFactory(opts Options) (Factory, error) {
	switch opts.Driver {
	case DriverDuckDB:
		if opts.DB == nil {
			return nil, eris.New("mapsource: duckdb driver needs a database")
		}
		src, err := NewDuckDB(opts.DB, opts.DuckDB)
		if err != nil {
			return nil, err
		}
		return func(TokenSource) coverage.MapSource { return src }, nil
	case DriverRemote:
		if opts.Remote.BaseURL == "" {
			return nil, eris.New("mapsource: remote driver needs a base url")
		}
		return func(tokens TokenSource) coverage.MapSource {
			ro := opts.Remote
			ro.Tokens = tokens
			return NewRemote(ro)
		}, nil
	}
	return nil, eris.Errorf("mapsource: unknown driver %q", opts.Driver)
}
