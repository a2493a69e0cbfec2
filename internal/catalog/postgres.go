package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// Querier is the subset of pgxpool.Pool used by Postgres.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres reads tables and schemas from information_schema. The owner must
// name the connected database and the parent entity maps to a schema.
type Postgres struct {
	pool Querier
}

// NewPostgres creates a catalog backed by pool.
func NewPostgres(pool Querier) *Postgres {
	return &Postgres{pool: pool}
}

// Tables lists the tables of owner.parentEntity in name order.
func (c *Postgres) Tables(ctx context.Context, parentReference string) ([]string, error) {
	owner, parent, err := splitParent(parentReference)
	if err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_catalog = $1 AND table_schema = $2
		 ORDER BY table_name`,
		owner, parent,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres catalog: list tables of %s", parentReference)
	}

	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrap(err, "postgres catalog: scan tables")
	}
	if tables == nil {
		tables = []string{}
	}
	return tables, nil
}

// Collection returns the ordered columns of owner.parentEntity.table.
// User-defined types such as PostGIS geometry are mapped by their udt name.
func (c *Postgres) Collection(ctx context.Context, tableReference string) (*coverage.Collection, error) {
	owner, parent, table, err := splitTable(tableReference)
	if err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx,
		`SELECT column_name, data_type, udt_name FROM information_schema.columns
		 WHERE table_catalog = $1 AND table_schema = $2 AND table_name = $3
		 ORDER BY ordinal_position`,
		owner, parent, table,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres catalog: describe %s", tableReference)
	}
	defer rows.Close()

	collection := &coverage.Collection{Variables: []coverage.Variable{}}
	for rows.Next() {
		var name, dataType, udtName string
		if err := rows.Scan(&name, &dataType, &udtName); err != nil {
			return nil, eris.Wrap(err, "postgres catalog: scan column")
		}
		if dataType == "USER-DEFINED" {
			dataType = udtName
		}
		collection.Variables = append(collection.Variables, coverage.Variable{
			Name: name,
			Type: variableType(dataType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres catalog: iterate columns")
	}
	if len(collection.Variables) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres catalog: %s", tableReference)
	}
	return collection, nil
}
