// Package config loads geocoverage settings from config.yaml, a .env file
// and GEOCOVERAGE_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GEOCOVERAGE"

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	DuckDB    DuckDBConfig    `yaml:"duckdb" mapstructure:"duckdb"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	MapSource MapSourceConfig `yaml:"mapsource" mapstructure:"mapsource"`
	Coverage  CoverageConfig  `yaml:"coverage" mapstructure:"coverage"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DuckDBConfig configures the local DuckDB database shared by the duckdb
// catalog and map source drivers.
type DuckDBConfig struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	Extensions []string `yaml:"extensions" mapstructure:"extensions"`
}

// CatalogConfig selects where table lists and schemas come from.
type CatalogConfig struct {
	Driver            string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL       string        `yaml:"database_url" mapstructure:"database_url"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MapSourceConfig selects where map data comes from.
type MapSourceConfig struct {
	Driver     string        `yaml:"driver" mapstructure:"driver"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RoadsTable string        `yaml:"roads_table" mapstructure:"roads_table"`
	Tolerance  float64       `yaml:"tolerance" mapstructure:"tolerance"`
}

// CoverageConfig holds controller timings and the initial parameters of
// every new session.
type CoverageConfig struct {
	InputDelay   time.Duration `yaml:"input_delay" mapstructure:"input_delay"`
	MapDelay     time.Duration `yaml:"map_delay" mapstructure:"map_delay"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	MaxSessions  int           `yaml:"max_sessions" mapstructure:"max_sessions"`
	SessionTTL   time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`

	Owner        string   `yaml:"owner" mapstructure:"owner"`
	ParentEntity string   `yaml:"parent_entity" mapstructure:"parent_entity"`
	Table        string   `yaml:"table" mapstructure:"table"`
	Region       string   `yaml:"region" mapstructure:"region"`
	Subregion    string   `yaml:"subregion" mapstructure:"subregion"`
	Roads        []string `yaml:"roads" mapstructure:"roads"`

	CoverageTravelTime    string `yaml:"coverage_travel_time" mapstructure:"coverage_travel_time"`
	Resolution            string `yaml:"resolution" mapstructure:"resolution"`
	PointRadius           string `yaml:"point_radius" mapstructure:"point_radius"`
	ColorScaleBucketCount int    `yaml:"color_scale_bucket_count" mapstructure:"color_scale_bucket_count"`
	ShowPoints            bool   `yaml:"show_points" mapstructure:"show_points"`
	UseOSMRoadSpeed       bool   `yaml:"use_osm_road_speed" mapstructure:"use_osm_road_speed"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxAge         int      `yaml:"max_age" mapstructure:"max_age"`
}

// LoadDotEnv loads variables from envFile into the process environment if
// the file exists. Variables already set win. It reports whether a file was
// loaded.
func LoadDotEnv(envFile string) (bool, error) {
	if envFile == "" {
		return false, nil
	}
	if _, err := os.Stat(envFile); err != nil {
		return false, nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return false, eris.Wrapf(err, "config: load %s", envFile)
	}
	return true, nil
}

// Load reads configuration from file and environment. An empty path looks
// for an optional config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	src := coverage.DefaultSource()
	display := coverage.DefaultDisplay()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("duckdb.name", "geo")
	v.SetDefault("duckdb.extensions", []string{"spatial"})
	v.SetDefault("catalog.driver", "duckdb")
	v.SetDefault("catalog.database_url", "")
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.requests_per_second", 10)
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("mapsource.driver", "duckdb")
	v.SetDefault("mapsource.base_url", "")
	v.SetDefault("mapsource.timeout", 2*time.Minute)
	v.SetDefault("mapsource.roads_table", "roads")
	v.SetDefault("mapsource.tolerance", 0)
	v.SetDefault("coverage.input_delay", coverage.DefaultInputDelay)
	v.SetDefault("coverage.map_delay", coverage.DefaultMapDelay)
	v.SetDefault("coverage.fetch_timeout", 0)
	v.SetDefault("coverage.max_sessions", 100)
	v.SetDefault("coverage.session_ttl", 30*time.Minute)
	v.SetDefault("coverage.owner", src.Owner)
	v.SetDefault("coverage.parent_entity", src.ParentEntity)
	v.SetDefault("coverage.table", src.Table)
	v.SetDefault("coverage.region", display.Region)
	v.SetDefault("coverage.subregion", display.Subregion)
	v.SetDefault("coverage.roads", display.Roads)
	v.SetDefault("coverage.coverage_travel_time", display.CoverageTravelTime)
	v.SetDefault("coverage.resolution", display.Resolution)
	v.SetDefault("coverage.point_radius", display.PointRadius)
	v.SetDefault("coverage.color_scale_bucket_count", display.ColorScaleBucketCount)
	v.SetDefault("coverage.show_points", display.ShowPoints)
	v.SetDefault("coverage.use_osm_road_speed", display.UseOSMRoadSpeed)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.max_age", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks driver selections and the settings each driver needs.
func (c *Config) Validate() error {
	var problems []string

	switch c.Catalog.Driver {
	case "duckdb":
	case "postgres":
		if c.Catalog.DatabaseURL == "" {
			problems = append(problems, "catalog.database_url is required for the postgres driver")
		}
	case "remote":
		if c.Catalog.BaseURL == "" {
			problems = append(problems, "catalog.base_url is required for the remote driver")
		}
	default:
		problems = append(problems, "catalog.driver must be duckdb, postgres or remote")
	}

	switch c.MapSource.Driver {
	case "duckdb":
	case "remote":
		if c.MapSource.BaseURL == "" {
			problems = append(problems, "mapsource.base_url is required for the remote driver")
		}
	default:
		problems = append(problems, "mapsource.driver must be duckdb or remote")
	}

	if c.Coverage.MaxSessions < 0 {
		problems = append(problems, "coverage.max_sessions must not be negative")
	}

	if c.Coverage.InputDelay < 0 || c.Coverage.MapDelay < 0 || c.Coverage.FetchTimeout < 0 || c.Coverage.SessionTTL < 0 {
		problems = append(problems, "coverage delays and timeouts must not be negative")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UsesDuckDB reports whether any driver needs the local DuckDB database.
func (c *Config) UsesDuckDB() bool {
	return c.Catalog.Driver == "duckdb" || c.MapSource.Driver == "duckdb"
}

// Controller returns the configuration every new session's controller
// starts from.
func (c CoverageConfig) Controller() coverage.Config {
	display := coverage.DefaultDisplay()
	display.Region = c.Region
	display.Subregion = c.Subregion
	display.Roads = append([]string(nil), c.Roads...)
	display.CoverageTravelTime = c.CoverageTravelTime
	display.Resolution = c.Resolution
	display.PointRadius = c.PointRadius
	display.ColorScaleBucketCount = c.ColorScaleBucketCount
	display.ShowPoints = c.ShowPoints
	display.UseOSMRoadSpeed = c.UseOSMRoadSpeed

	return coverage.Config{
		Source: coverage.SourceID{
			Owner:        c.Owner,
			ParentEntity: c.ParentEntity,
			Table:        c.Table,
		},
		Display:      display,
		InputDelay:   c.InputDelay,
		MapDelay:     c.MapDelay,
		FetchTimeout: c.FetchTimeout,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
