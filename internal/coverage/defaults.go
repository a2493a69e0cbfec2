package coverage

import "time"

const (
	DefaultInputDelay = 1000 * time.Millisecond
	DefaultMapDelay   = 1000 * time.Millisecond

	DefaultOwner        = "Demo"
	DefaultParentEntity = "geospatial_coverage_analysis"
	DefaultTable        = "california_hospitals"
	DefaultRegion       = "United States"
	DefaultSubregion    = "California"

	DefaultCoverageTravelTime    = "120"
	DefaultResolution            = "1024"
	DefaultPointRadius           = "2"
	DefaultColorScaleBucketCount = 9
)

// DefaultRoads are the road classes selected on a fresh session.
var DefaultRoads = []string{"motorway", "trunk", "primary"}

// DefaultSource returns the dataset a fresh session starts on.
func DefaultSource() SourceID {
	return SourceID{
		Owner:        DefaultOwner,
		ParentEntity: DefaultParentEntity,
		Table:        DefaultTable,
	}
}

// DefaultDisplay returns the display options a fresh session starts with.
func DefaultDisplay() DisplayOptions {
	return DisplayOptions{
		Region:                DefaultRegion,
		Subregion:             DefaultSubregion,
		Roads:                 append([]string(nil), DefaultRoads...),
		CoverageTravelTime:    DefaultCoverageTravelTime,
		Resolution:            DefaultResolution,
		PointRadius:           DefaultPointRadius,
		ColorScaleBucketCount: DefaultColorScaleBucketCount,
		ShowPoints:            true,
		HideRoads:             false,
		UseOSMRoadSpeed:       true,
		ShowPopulationDensity: false,
		HasDiscreteColorScale: false,
		ColorScale:            []string{},
	}
}

// DefaultConfig returns the controller configuration used when nothing is
// overridden.
func DefaultConfig() Config {
	return Config{
		Source:     DefaultSource(),
		Display:    DefaultDisplay(),
		InputDelay: DefaultInputDelay,
		MapDelay:   DefaultMapDelay,
	}
}
