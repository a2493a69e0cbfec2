// Package catalog implements the table listing and schema lookups the
// coverage controller depends on.
package catalog

import (
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

var (
	// ErrNotFound is returned when a parent entity or table does not exist.
	ErrNotFound = eris.New("catalog: not found")
	// ErrUnauthorized is returned when the catalog rejects the credentials.
	ErrUnauthorized = eris.New("catalog: unauthorized")
)

// Drivers supported by New.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverRemote   = "remote"
)

// Options selects and configures a catalog driver.
type Options struct {
	Driver   string
	DuckDB   *sql.DB
	Postgres Querier
	Remote   RemoteOptions
}

// Factory builds the catalog for one session. Only the remote driver uses
// the token source; the database drivers share one handle.
type Factory func(tokens TokenSource) coverage.Catalog

// NewFactory validates opts and returns a per-session catalog factory.
func NewFactory(opts Options) (Factory, error) {
	switch opts.Driver {
	case DriverDuckDB:
		if opts.DuckDB == nil {
			return nil, eris.New("catalog: duckdb driver needs a database")
		}
		c := NewDuckDB(opts.DuckDB)
		return func(TokenSource) coverage.Catalog { return c }, nil
	case DriverPostgres:
		if opts.Postgres == nil {
			return nil, eris.New("catalog: postgres driver needs a pool")
		}
		c := NewPostgres(opts.Postgres)
		return func(TokenSource) coverage.Catalog { return c }, nil
	case DriverRemote:
		if opts.Remote.BaseURL == "" {
			return nil, eris.New("catalog: remote driver needs a base url")
		}
		// One limiter for every session so the upstream sees a single budget.
		shared := NewRemote(opts.Remote)
		return func(tokens TokenSource) coverage.Catalog {
			ro := opts.Remote
			ro.Tokens = tokens
			ro.Limiter = shared.limiter
			ro.Client = shared.client
			return NewRemote(ro)
		}, nil
	}
	return nil, eris.Errorf("catalog: unknown driver %q", opts.Driver)
}

// splitParent splits an owner.parentEntity reference.
func splitParent(ref string) (owner, parent string, err error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", eris.Errorf("catalog: invalid parent reference %q", ref)
	}
	return parts[0], parts[1], nil
}

// splitTable splits an owner.parentEntity.table reference. The table part
// keeps any further dots.
func splitTable(ref string) (owner, parent, table string, err error) {
	parts := strings.SplitN(ref, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", eris.Errorf("catalog: invalid table reference %q", ref)
	}
	return parts[0], parts[1], parts[2], nil
}

// variableType maps an SQL column type onto a catalog variable type.
// Unknown types are kept lowercased so they never pass as float or string.
func variableType(sqlType string) coverage.VariableType {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	switch {
	case t == "double", t == "float", t == "real", t == "double precision",
		strings.HasPrefix(t, "decimal"), strings.HasPrefix(t, "numeric"),
		t == "float4", t == "float8":
		return coverage.TypeFloat
	case t == "varchar", t == "text", t == "string", t == "uuid",
		strings.HasPrefix(t, "character"), strings.HasPrefix(t, "char"),
		strings.HasPrefix(t, "varchar"):
		return coverage.TypeString
	case t == "interval":
		return coverage.VariableType(t)
	case strings.Contains(t, "int"):
		return coverage.TypeInteger
	case t == "boolean", t == "bool":
		return coverage.TypeBoolean
	case t == "date":
		return coverage.TypeDate
	case strings.HasPrefix(t, "timestamp"), t == "datetime":
		return coverage.TypeDateTime
	case strings.HasPrefix(t, "time"):
		return coverage.TypeTime
	case t == "geometry", t == "geography":
		return coverage.TypeGeography
	}
	return coverage.VariableType(t)
}
