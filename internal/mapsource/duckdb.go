package mapsource

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// DefaultRoadsTable is the table read when DuckDBOptions.Table is empty.
const DefaultRoadsTable = "roads"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)

// DuckDBOptions configures the road extract reader.
type DuckDBOptions struct {
	// Table holds rows of (region, subregion, highway, wkt).
	Table string
	// Tolerance is the Douglas-Peucker tolerance in degrees. Zero keeps
	// geometry as stored.
	Tolerance float64
}

// DuckDB serves road geometry that was extracted ahead of time into a
// DuckDB table. The latitude and longitude indicators are not used.
type DuckDB struct {
	db        *sql.DB
	table     string
	tolerance float64
}

// NewDuckDB creates a road extract reader over db.
func NewDuckDB(db *sql.DB, opts DuckDBOptions) (*DuckDB, error) {
	table := opts.Table
	if table == "" {
		table = DefaultRoadsTable
	}
	if !identifier.MatchString(table) {
		return nil, eris.Errorf("mapsource: invalid roads table %q", table)
	}
	if opts.Tolerance < 0 {
		return nil, eris.Errorf("mapsource: negative tolerance %v", opts.Tolerance)
	}
	return &DuckDB{db: db, table: table, tolerance: opts.Tolerance}, nil
}

// Map implements coverage.MapSource.
func (m *DuckDB) Map(ctx context.Context, opts coverage.MapOptions) (*coverage.MapData, error) {
	fc := geojson.NewFeatureCollection()
	if len(opts.Roads) == 0 {
		return coverage.NewMapData(fc), nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Roads)), ", ")
	query := fmt.Sprintf(
		`SELECT highway, wkt FROM %s WHERE region = ? AND subregion = ? AND highway IN (%s)`,
		m.table, placeholders,
	)
	args := make([]any, 0, len(opts.Roads)+2)
	args = append(args, opts.Region, opts.Subregion)
	for _, r := range opts.Roads {
		args = append(args, r)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "mapsource: query %s", m.table)
	}
	defer rows.Close()

	var simplifier orb.Simplifier
	if m.tolerance > 0 {
		simplifier = simplify.DouglasPeucker(m.tolerance)
	}

	skipped := 0
	for rows.Next() {
		var highway, text string
		if err := rows.Scan(&highway, &text); err != nil {
			return nil, eris.Wrap(err, "mapsource: scan road")
		}
		geom, err := wkt.Unmarshal(text)
		if err != nil {
			skipped++
			continue
		}
		if simplifier != nil {
			geom = simplifier.Simplify(geom)
		}
		f := geojson.NewFeature(geom)
		f.Properties["highway"] = highway
		f.Properties["region"] = opts.Region
		f.Properties["subregion"] = opts.Subregion
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "mapsource: iterate roads")
	}
	if skipped > 0 {
		zap.L().Debug("skipped unparsable road geometry",
			zap.String("table", m.table),
			zap.Int("count", skipped),
		)
	}
	return coverage.NewMapData(fc), nil
}
