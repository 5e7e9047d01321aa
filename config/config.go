package config

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	ProbeStatement = "statement"
	ProbePing      = "ping"
)

const (
	DefaultDriver       = "pgx"
	DefaultHealInterval = "5s"
)

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

// FailoverConfig controls the background sweep and the health probe strategy.
type FailoverConfig struct {
	HealInterval string `mapstructure:"heal_interval"`
	Probe        string `mapstructure:"probe"`
	ProbeTimeout string `mapstructure:"probe_timeout"`
}

// DatasourceConfig describes one independent database backend. The order of
// datasources in Config defines routing priority.
type DatasourceConfig struct {
	Name            string `mapstructure:"name"`
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Driver          string `mapstructure:"driver"`
	ValidationQuery string `mapstructure:"validation_query"`
	MaxPoolSize     int    `mapstructure:"max_pool_size"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Admin       AdminConfig        `mapstructure:"admin"`
	Failover    FailoverConfig     `mapstructure:"failover"`
	Datasources []DatasourceConfig `mapstructure:"datasources"`
}

// Load reads config.yaml from ./config or the working directory, overlaid
// with environment variables. A missing file is not an error.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	return decode(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		slog.Error("failed to read config file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return nil, err
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("admin.address", ":8090")
	v.SetDefault("failover.heal_interval", DefaultHealInterval)
	v.SetDefault("failover.probe", ProbeStatement)
	v.SetDefault("failover.probe_timeout", "0s")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// HealIntervalDuration returns the parsed sweep interval, falling back to
// the default when unset.
func (c *Config) HealIntervalDuration() time.Duration {
	raw := c.Failover.HealInterval
	if raw == "" {
		raw = DefaultHealInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ProbeTimeoutDuration returns the per-probe deadline. Zero means the probe
// inherits whatever deadline the caller's context carries.
func (c *Config) ProbeTimeoutDuration() time.Duration {
	if c.Failover.ProbeTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Failover.ProbeTimeout)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Failover,
			validation.Required,
			validation.By(func(value interface{}) error {
				fc, ok := value.(FailoverConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a FailoverConfig")
				}
				return validation.ValidateStruct(&fc,
					validation.Field(&fc.HealInterval,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
					validation.Field(&fc.Probe,
						validation.In(ProbeStatement, ProbePing),
					),
					validation.Field(&fc.ProbeTimeout,
						validation.By(validateOptionalDuration),
					),
				)
			}),
		),
		validation.Field(&c.Datasources,
			validation.Required,
			validation.Length(1, 0),
			validation.By(validateUniqueNames),
		),
	)
}

// ValidateDatasources checks a datasource set on its own: at least one entry,
// unique names, and every entry valid.
func ValidateDatasources(datasources []DatasourceConfig) error {
	return validation.Validate(datasources,
		validation.Required,
		validation.Length(1, 0),
		validation.By(validateUniqueNames),
	)
}

// Validate enforces the startup rules for a single datasource: non-blank
// name, url and username, and a pool of at least one connection.
func (d DatasourceConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.By(notBlank)),
		validation.Field(&d.URL, validation.By(notBlank)),
		validation.Field(&d.Username, validation.By(notBlank)),
		validation.Field(&d.MaxPoolSize,
			validation.Required.Error("must be at least 1"),
			validation.Min(1),
		),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
		validation.Field(&d.ConnMaxLifetime, validation.By(validateOptionalDuration)),
	)
}

// DriverName returns the configured driver, defaulting to pgx.
func (d DatasourceConfig) DriverName() string {
	if strings.TrimSpace(d.Driver) == "" {
		return DefaultDriver
	}
	return strings.TrimSpace(d.Driver)
}

// ConnMaxLifetimeDuration returns zero when unset, meaning connections are
// reused forever.
func (d DatasourceConfig) ConnMaxLifetimeDuration() time.Duration {
	if d.ConnMaxLifetime == "" {
		return 0
	}
	lifetime, err := time.ParseDuration(d.ConnMaxLifetime)
	if err != nil {
		return 0
	}
	return lifetime
}

func notBlank(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if strings.TrimSpace(s) == "" {
		return validation.NewError("validation_blank", "cannot be blank")
	}

	return nil
}

func validateUniqueNames(value interface{}) error {
	datasources, ok := value.([]DatasourceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of datasources")
	}

	seen := make(map[string]struct{}, len(datasources))
	for _, ds := range datasources {
		if _, dup := seen[ds.Name]; dup {
			return validation.NewError("validation_duplicate_name", "datasource name "+ds.Name+" is used more than once")
		}
		seen[ds.Name] = struct{}{}
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

func validateOptionalDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "cannot be negative")
	}

	return nil
}
