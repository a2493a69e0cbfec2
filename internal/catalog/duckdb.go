package catalog

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// DuckDB reads tables and schemas from a DuckDB database. The owner maps to
// the DuckDB catalog (database name) and the parent entity to a schema.
type DuckDB struct {
	db *sql.DB
}

// NewDuckDB creates a catalog backed by db.
func NewDuckDB(db *sql.DB) *DuckDB {
	return &DuckDB{db: db}
}

// Tables lists the tables of owner.parentEntity in name order.
func (c *DuckDB) Tables(ctx context.Context, parentReference string) ([]string, error) {
	owner, parent, err := splitParent(parentReference)
	if err != nil {
		return nil, err
	}

	var n int
	err = c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.schemata WHERE catalog_name = ? AND schema_name = ?`,
		owner, parent,
	).Scan(&n)
	if err != nil {
		return nil, eris.Wrapf(err, "duckdb catalog: lookup %s", parentReference)
	}
	if n == 0 {
		return nil, eris.Wrapf(ErrNotFound, "duckdb catalog: %s", parentReference)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_catalog = ? AND table_schema = ?
		 ORDER BY table_name`,
		owner, parent,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "duckdb catalog: list tables of %s", parentReference)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "duckdb catalog: scan table name")
		}
		tables = append(tables, name)
	}
	return tables, eris.Wrap(rows.Err(), "duckdb catalog: iterate tables")
}

// Collection returns the ordered columns of owner.parentEntity.table.
func (c *DuckDB) Collection(ctx context.Context, tableReference string) (*coverage.Collection, error) {
	owner, parent, table, err := splitTable(tableReference)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_catalog = ? AND table_schema = ? AND table_name = ?
		 ORDER BY ordinal_position`,
		owner, parent, table,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "duckdb catalog: describe %s", tableReference)
	}
	defer rows.Close()

	collection := &coverage.Collection{Variables: []coverage.Variable{}}
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, eris.Wrap(err, "duckdb catalog: scan column")
		}
		collection.Variables = append(collection.Variables, coverage.Variable{
			Name: name,
			Type: variableType(dataType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "duckdb catalog: iterate columns")
	}
	if len(collection.Variables) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "duckdb catalog: %s", tableReference)
	}
	return collection, nil
}
