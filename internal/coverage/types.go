// Package coverage holds the coverage configuration controller: the
// user-editable analysis parameters, the debounced fetches they drive and the
// latitude/longitude column guesser.
package coverage

import (
	"context"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// SourceID identifies a tabular dataset in the data catalog.
type SourceID struct {
	Owner        string `json:"owner" doc:"Dataset owner" example:"Demo"`
	ParentEntity string `json:"parentEntity" doc:"Dataset or project containing the table" example:"geospatial_coverage_analysis"`
	Table        string `json:"table" doc:"Table name" example:"california_hospitals"`
}

// ParentReference returns the owner.parentEntity reference used to list tables.
func (s SourceID) ParentReference() string {
	return s.Owner + "." + s.ParentEntity
}

// TableReference returns the fully-qualified owner.parentEntity.table reference.
func (s SourceID) TableReference() string {
	return s.Owner + "." + s.ParentEntity + "." + s.Table
}

// VariableType is the declared type of a catalog variable.
type VariableType string

const (
	TypeFloat     VariableType = "float"
	TypeString    VariableType = "string"
	TypeInteger   VariableType = "integer"
	TypeBoolean   VariableType = "boolean"
	TypeDate      VariableType = "date"
	TypeDateTime  VariableType = "dateTime"
	TypeTime      VariableType = "time"
	TypeGeography VariableType = "geography"
)

// Variable is one column of a table schema.
type Variable struct {
	Name string       `json:"name" doc:"Variable name" example:"latitude"`
	Type VariableType `json:"type" doc:"Declared type" example:"float"`
}

// Collection is the schema of the selected table.
type Collection struct {
	Variables []Variable `json:"variables" doc:"Ordered table variables"`
}

func (c *Collection) clone() *Collection {
	if c == nil {
		return nil
	}
	return &Collection{Variables: slices.Clone(c.Variables)}
}

// Indicators names the columns holding latitude and longitude values.
type Indicators struct {
	Latitude  string `json:"latitudeIndicator" doc:"Latitude column"`
	Longitude string `json:"longitudeIndicator" doc:"Longitude column"`
}

// FillEmpty copies guessed values into fields that are still empty.
// A non-empty field is never overwritten and a field is never cleared.
func (i Indicators) FillEmpty(guess Indicators) Indicators {
	if i.Latitude == "" && guess.Latitude != "" {
		i.Latitude = guess.Latitude
	}
	if i.Longitude == "" && guess.Longitude != "" {
		i.Longitude = guess.Longitude
	}
	return i
}

// DisplayOptions bundles the map rendering parameters.
type DisplayOptions struct {
	Region                string   `json:"region" doc:"Region name" example:"United States"`
	Subregion             string   `json:"subregion" doc:"Subregion name" example:"California"`
	Roads                 []string `json:"roads" doc:"Road classes to include" example:"[\"motorway\",\"trunk\",\"primary\"]"`
	CoverageTravelTime    string   `json:"coverageTravelTime" doc:"Travel time threshold in minutes" example:"120"`
	Resolution            string   `json:"resolution" doc:"Raster resolution" example:"1024"`
	PointRadius           string   `json:"pointRadius" doc:"Point radius in pixels" example:"2"`
	ColorScaleBucketCount int      `json:"colorScaleBucketCount" minimum:"1" doc:"Number of color scale buckets" example:"9"`
	ShowPoints            bool     `json:"showPoints" doc:"Draw source points"`
	HideRoads             bool     `json:"hideRoads" doc:"Hide the road layer"`
	UseOSMRoadSpeed       bool     `json:"useOsmRoadSpeed" doc:"Use OpenStreetMap road speeds"`
	ShowPopulationDensity bool     `json:"showPopulationDensity" doc:"Draw population density"`
	HasDiscreteColorScale bool     `json:"hasDiscreteColorScale" doc:"Use a discrete color scale"`
	ColorScale            []string `json:"colorScale" doc:"Explicit color scale (CSS colors)"`
}

func (d DisplayOptions) clone() DisplayOptions {
	d.Roads = slices.Clone(d.Roads)
	d.ColorScale = slices.Clone(d.ColorScale)
	return d
}

// MapOptions is the input of a map data fetch.
type MapOptions struct {
	Region             string   `json:"region"`
	Subregion          string   `json:"subregion"`
	LatitudeIndicator  string   `json:"latitudeIndicator"`
	LongitudeIndicator string   `json:"longitudeIndicator"`
	Roads              []string `json:"roads"`
}

func (o MapOptions) equal(other MapOptions) bool {
	return o.Region == other.Region &&
		o.Subregion == other.Subregion &&
		o.LatitudeIndicator == other.LatitudeIndicator &&
		o.LongitudeIndicator == other.LongitudeIndicator &&
		slices.Equal(o.Roads, other.Roads)
}

// MapData is the result of a map fetch, passed through to the map surface.
type MapData struct {
	Features *geojson.FeatureCollection `json:"features"`
	Bound    orb.Bound                  `json:"bound"`
}

// NewMapData wraps a feature collection and computes its bound.
func NewMapData(fc *geojson.FeatureCollection) *MapData {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	md := &MapData{Features: fc}
	seen := false
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if !seen {
			md.Bound = f.Geometry.Bound()
			seen = true
			continue
		}
		md.Bound = md.Bound.Union(f.Geometry.Bound())
	}
	return md
}

// Catalog lists tables and reads table schemas.
type Catalog interface {
	Tables(ctx context.Context, parentReference string) ([]string, error)
	Collection(ctx context.Context, tableReference string) (*Collection, error)
}

// MapSource produces map data for a set of display options.
type MapSource interface {
	Map(ctx context.Context, opts MapOptions) (*MapData, error)
}

// FetchKind names one of the controller's three fetches.
type FetchKind string

const (
	FetchTables     FetchKind = "tables"
	FetchCollection FetchKind = "collection"
	FetchMap        FetchKind = "map"
)

// FetchKinds lists every fetch kind in dependency order.
var FetchKinds = []FetchKind{FetchTables, FetchCollection, FetchMap}

// FetchState is the lifecycle state of one fetch kind.
type FetchState string

const (
	StateIdle      FetchState = "idle"
	StateFetching  FetchState = "fetching"
	StateSucceeded FetchState = "succeeded"
	StateFailed    FetchState = "failed"
)

// FetchStatus reports the state of one fetch kind.
type FetchStatus struct {
	State    FetchState `json:"state" enum:"idle,fetching,succeeded,failed" doc:"Fetch lifecycle state"`
	Fetching bool       `json:"isFetching" doc:"Whether a fetch is in flight"`
	Err      error      `json:"-"`
	Error    string     `json:"error,omitempty" doc:"Last fetch error"`
}

func (s FetchStatus) withError(err error) FetchStatus {
	s.Err = err
	s.Error = ""
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
