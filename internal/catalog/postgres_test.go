package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

func TestPostgres_Tables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("Demo", "geospatial_coverage_analysis").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).
			AddRow("california_hospitals").
			AddRow("texas_hospitals"))

	c := NewPostgres(mock)
	tables, err := c.Tables(context.Background(), "Demo.geospatial_coverage_analysis")
	require.NoError(t, err)
	assert.Equal(t, []string{"california_hospitals", "texas_hospitals"}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TablesEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("Demo", "nothing").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}))

	tables, err := NewPostgres(mock).Tables(context.Background(), "Demo.nothing")
	require.NoError(t, err)
	assert.NotNil(t, tables)
	assert.Empty(t, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_TablesQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT table_name").
		WithArgs("Demo", "geo").
		WillReturnError(errors.New("connection reset"))

	_, err = NewPostgres(mock).Tables(context.Background(), "Demo.geo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Collection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT column_name, data_type, udt_name FROM information_schema.columns").
		WithArgs("Demo", "geo", "hospitals").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type", "udt_name"}).
			AddRow("name", "text", "text").
			AddRow("lat", "double precision", "float8").
			AddRow("lng", "double precision", "float8").
			AddRow("geom", "USER-DEFINED", "geometry"))

	col, err := NewPostgres(mock).Collection(context.Background(), "Demo.geo.hospitals")
	require.NoError(t, err)
	assert.Equal(t, []coverage.Variable{
		{Name: "name", Type: coverage.TypeString},
		{Name: "lat", Type: coverage.TypeFloat},
		{Name: "lng", Type: coverage.TypeFloat},
		{Name: "geom", Type: coverage.TypeGeography},
	}, col.Variables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CollectionNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT column_name").
		WithArgs("Demo", "geo", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type", "udt_name"}))

	_, err = NewPostgres(mock).Collection(context.Background(), "Demo.geo.missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
