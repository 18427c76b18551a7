package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/vitebski/recorder-pg-migrator/internal/connector"
	"github.com/vitebski/recorder-pg-migrator/internal/transform"
	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

// EnvPrefix is prepended to every configuration key read from the environment,
// e.g. RECORDER_MIGRATE_DESTINATION_PASSWORD for destination.password
const EnvPrefix = "RECORDER_MIGRATE"

// ConfigName is the config file searched for when --config is not given
const ConfigName = "recorder-pg-migrator"

type SourceConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// Location returns the SQLite file path or the MySQL DSN, depending on the driver
func (s SourceConfig) Location() string {
	if s.Driver == connector.DriverMySQL {
		return s.DSN
	}
	return s.Path
}

type DestinationConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SSHConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Key        string `mapstructure:"key"`
	KnownHosts string `mapstructure:"known_hosts"`
}

// Enabled reports whether destination connections go through an SSH tunnel
func (s SSHConfig) Enabled() bool {
	return s.Host != ""
}

type BinaryConfig struct {
	Suffix    string   `mapstructure:"suffix"`
	Names     []string `mapstructure:"names"`
	HexPrefix string   `mapstructure:"hex_prefix"`
}

type CopyConfig struct {
	NullMarker string `mapstructure:"null_marker"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the whole configuration surface of a run
type Config struct {
	Source      SourceConfig       `mapstructure:"source"`
	Destination DestinationConfig  `mapstructure:"destination"`
	SSH         SSHConfig          `mapstructure:"ssh"`
	Binary      BinaryConfig       `mapstructure:"binary"`
	Copy        CopyConfig         `mapstructure:"copy"`
	Tables      []models.TableSpec `mapstructure:"tables"`
	Log         LogConfig          `mapstructure:"log"`
}

// DefaultTables is the Home Assistant recorder schema in foreign key order
func DefaultTables() []models.TableSpec {
	return []models.TableSpec{
		{Name: "event_data", Strategy: models.StrategyCopy},
		{Name: "event_types", Strategy: models.StrategyCopy},
		{Name: "states_meta", Strategy: models.StrategyCopy},
		{Name: "state_attributes", Strategy: models.StrategyCopy},
		{Name: "statistics_meta", Strategy: models.StrategyCopy, BooleanColumns: []string{"has_mean", "has_sum", "has_min", "has_max"}},
		{Name: "statistics_runs", Strategy: models.StrategyCopy},
		{Name: "schema_changes", Strategy: models.StrategyCopy},
		{Name: "events", Strategy: models.StrategyCopy, HexBinary: true},
		{Name: "states", Strategy: models.StrategyCopy, HexBinary: true},
		{Name: "statistics", Strategy: models.StrategyCopy},
		{Name: "statistics_short_term", Strategy: models.StrategyCopy},
		{Name: "recorder_runs", Strategy: models.StrategyInsert, BooleanColumns: []string{"closed_incorrect"}},
		{Name: "migration_changes", Strategy: models.StrategyCopy},
	}
}

// New returns a viper instance with defaults set and environment lookup enabled
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key, so that each one can also come from the environment
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.driver", connector.DriverSQLite)
	v.SetDefault("source.path", "home-assistant_v2.db")
	v.SetDefault("source.dsn", "")

	v.SetDefault("destination.host", "localhost")
	v.SetDefault("destination.port", 5432)
	v.SetDefault("destination.database", "homeassistant")
	v.SetDefault("destination.user", "homeassistant")
	v.SetDefault("destination.password", "")
	v.SetDefault("destination.sslmode", "prefer")

	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.key", "")
	v.SetDefault("ssh.known_hosts", "")

	v.SetDefault("binary.suffix", "_bin")
	v.SetDefault("binary.names", []string{"context_id_bin"})
	v.SetDefault("binary.hex_prefix", "")

	v.SetDefault("copy.null_marker", transform.DefaultNullMarker)

	v.SetDefault("tables", DefaultTables())

	v.SetDefault("log.level", "info")
}

// Load reads cfgFile, or recorder-pg-migrator.yaml from the working directory when
// cfgFile is empty, and decodes the merged configuration. A missing default file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration and returns every problem found
func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Driver {
	case connector.DriverSQLite:
		if c.Source.Path == "" {
			errs = append(errs, errors.New("source.path is required for the sqlite driver"))
		}
	case connector.DriverMySQL:
		if c.Source.DSN == "" {
			errs = append(errs, errors.New("source.dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.driver %q is not supported", c.Source.Driver))
	}

	if c.Destination.Host == "" {
		errs = append(errs, errors.New("destination.host is required"))
	}
	if c.Destination.Database == "" {
		errs = append(errs, errors.New("destination.database is required"))
	}
	if c.Destination.Port < 1 || c.Destination.Port > 65535 {
		errs = append(errs, fmt.Errorf("destination.port %d is out of range", c.Destination.Port))
	}

	if c.SSH.Enabled() {
		if c.SSH.User == "" || c.SSH.Key == "" {
			errs = append(errs, errors.New("ssh.user and ssh.key are required when ssh.host is set"))
		}
	}

	if c.Copy.NullMarker == "" {
		errs = append(errs, errors.New("copy.null_marker must not be empty"))
	}

	if len(c.Tables) == 0 {
		errs = append(errs, errors.New("at least one table is required"))
	}
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tables[%d] has no name", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("table %s is listed more than once", t.Name))
		}
		seen[t.Name] = true
		switch t.Strategy {
		case "", models.StrategyCopy, models.StrategyInsert:
		default:
			errs = append(errs, fmt.Errorf("table %s has unknown strategy %q", t.Name, t.Strategy))
		}
	}

	return errors.Join(errs...)
}

// ToPlan builds the migration plan. Tables without a strategy are copied.
func (c *Config) ToPlan() models.Plan {
	tables := make([]models.TableSpec, len(c.Tables))
	for i, t := range c.Tables {
		if t.Strategy == "" {
			t.Strategy = models.StrategyCopy
		}
		tables[i] = t
	}
	return models.Plan{
		Tables:       tables,
		BinarySuffix: c.Binary.Suffix,
		BinaryNames:  c.Binary.Names,
		HexPrefix:    c.Binary.HexPrefix,
		NullMarker:   c.Copy.NullMarker,
	}
}
