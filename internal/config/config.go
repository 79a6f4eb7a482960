package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/parcel-query/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	// Map keys (database and user names) are lower-cased by viper on load.
	Databases map[string]db.Config `yaml:"databases" mapstructure:"databases"`
	Datasets  DatasetsConfig       `yaml:"datasets" mapstructure:"datasets"`
	Server    ServerConfig         `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig           `yaml:"auth" mapstructure:"auth"`
	Tiles     TilesConfig          `yaml:"tiles" mapstructure:"tiles"`
	Import    ImportConfig         `yaml:"import" mapstructure:"import"`
	Log       LogConfig            `yaml:"log" mapstructure:"log"`
}

// DatasetsConfig locates the dataset definitions file.
type DatasetsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port           int             `yaml:"port" mapstructure:"port"`
	DefaultAOI     string          `yaml:"default_aoi" mapstructure:"default_aoi"`
	AllowedOrigins []string        `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig is a token bucket shared by all clients. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// AuthConfig enables HTTP basic authentication.
type AuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   map[string]User `yaml:"users" mapstructure:"users"`
}

// User is an API account. AOIs restricts the areas of interest the user may
// query; empty means all.
type User struct {
	PasswordHash string   `yaml:"password_hash" mapstructure:"password_hash"`
	AOIs         []string `yaml:"aois" mapstructure:"aois"`
}

// TilesConfig bounds the zoom levels vector tiles are served for.
type TilesConfig struct {
	MinZoom int `yaml:"min_zoom" mapstructure:"min_zoom"`
	MaxZoom int `yaml:"max_zoom" mapstructure:"max_zoom"`
}

// ImportConfig configures shapefile parcel imports.
type ImportConfig struct {
	SRID      int `yaml:"srid" mapstructure:"srid"`
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	// Environment
	v.SetEnvPrefix("PARCELQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("databases.main.url", "")
	v.SetDefault("databases.main.max_conns", 10)
	v.SetDefault("databases.main.min_conns", 1)
	v.SetDefault("datasets.path", "config/datasets.json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.default_aoi", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("tiles.min_zoom", 12)
	v.SetDefault("tiles.max_zoom", 20)
	v.SetDefault("import.srid", 4326)
	v.SetDefault("import.batch_size", 50000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on. Modes are "serve",
// "query" and "import".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Datasets.Path == "" {
		errs = append(errs, "datasets.path is required")
	}
	if len(c.Databases) == 0 {
		errs = append(errs, "at least one database is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimit.RPS < 0 {
			errs = append(errs, "server.rate_limit.rps must be >= 0")
		}
		if c.Tiles.MinZoom < 0 || c.Tiles.MaxZoom > 22 || c.Tiles.MinZoom > c.Tiles.MaxZoom {
			errs = append(errs, fmt.Sprintf("tiles zoom range %d-%d is invalid", c.Tiles.MinZoom, c.Tiles.MaxZoom))
		}
		if c.Auth.Enabled && len(c.Auth.Users) == 0 {
			errs = append(errs, "auth.users is required when auth is enabled")
		}
		for _, name := range sortedUsers(c.Auth.Users) {
			if c.Auth.Users[name].PasswordHash == "" {
				errs = append(errs, fmt.Sprintf("auth.users.%s.password_hash is required", name))
			}
		}
	case "query":
	case "import":
		if c.Import.SRID <= 0 {
			errs = append(errs, "import.srid must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func sortedUsers(users map[string]User) []string {
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
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
