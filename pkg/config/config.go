package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/edgeflare/advres/pkg/store"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/advres/pkg/config.Version=...".
var Version = "dev"

// DefaultEnvFile is read before the config file; a missing file is ignored.
const DefaultEnvFile = "config/config.env"

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Database drivers
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds application-wide configuration
type Config struct {
	Port      int             `mapstructure:"port"`
	Env       string          `mapstructure:"env"`
	DB        DBConfig        `mapstructure:"db"`
	Body      BodyConfig      `mapstructure:"body"`
	Upload    UploadConfig    `mapstructure:"upload"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	HPP       HPPConfig       `mapstructure:"hpp"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Static    StaticConfig    `mapstructure:"static"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Query     QueryConfig     `mapstructure:"query"`
	Resources []Resource      `mapstructure:"resources"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	URI    string `mapstructure:"uri"`
	Name   string `mapstructure:"name"`
	// ConnectTimeout bounds connection retries at startup; zero tries once.
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`

	// postgres only
	Schema        string `mapstructure:"schema"`
	NotifyChannel string `mapstructure:"notifyChannel"` // reload table metadata on NOTIFY
}

type BodyConfig struct {
	Limit int64 `mapstructure:"limit"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"maxBytes"`
}

type RateLimitConfig struct {
	Window     time.Duration `mapstructure:"window"`
	Max        int           `mapstructure:"max"`
	RedisAddr  string        `mapstructure:"redisAddr"`
	TrustProxy bool          `mapstructure:"trustProxy"`
}

type HPPConfig struct {
	Whitelist []string `mapstructure:"whitelist"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type StaticConfig struct {
	Dir string `mapstructure:"dir"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ServerConfig struct {
	MaxConnections  int           `mapstructure:"maxConnections"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type QueryConfig struct {
	DefaultLimit int `mapstructure:"defaultLimit"`
	MaxLimit     int `mapstructure:"maxLimit"`
}

// Resource is a read-only collection mounted at GET /api/v1/<name>.
type Resource struct {
	Name        string           `mapstructure:"name"`
	Collection  string           `mapstructure:"collection"` // defaults to Name
	IDField     string           `mapstructure:"idField"`
	DefaultSort string           `mapstructure:"defaultSort"` // default "-createdAt", skipped on tables without the column
	Populate    []store.Populate `mapstructure:"populate"`
	Relations   []store.Relation `mapstructure:"relations"`
}

// CollectionName returns the collection or table backing r.
func (r Resource) CollectionName() string {
	if r.Collection != "" {
		return r.Collection
	}
	return r.Name
}

// IsDevelopment reports whether development-only features (request logging) are on.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.DB.Driver {
	case DriverMongo, DriverPostgres:
		if c.DB.URI == "" {
			errs = append(errs, fmt.Errorf("db.uri is required for driver %q", c.DB.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	seen := make(map[string]bool)
	for i, r := range c.Resources {
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("resources[%d]: name is required", i))
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("resources[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("env", EnvProduction)
	v.SetDefault("db.driver", DriverMongo)
	v.SetDefault("db.uri", "")
	v.SetDefault("db.name", "advres")
	v.SetDefault("db.connectTimeout", "30s")
	v.SetDefault("db.schema", "public")
	v.SetDefault("db.notifyChannel", "")
	v.SetDefault("body.limit", 1<<20)
	v.SetDefault("upload.maxBytes", 10<<20)
	v.SetDefault("rateLimit.window", "10m")
	v.SetDefault("rateLimit.max", 100)
	v.SetDefault("rateLimit.redisAddr", "")
	v.SetDefault("rateLimit.trustProxy", false)
	v.SetDefault("hpp.whitelist", []string{})
	v.SetDefault("cors.allowedOrigins", []string{"*"})
	v.SetDefault("static.dir", "public")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("server.maxConnections", 0)
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("query.defaultLimit", 25)
	v.SetDefault("query.maxLimit", 0)
}

// EnvPrefix namespaces automatic env lookups: db.uri is read from ADVRES_DB_URI.
const EnvPrefix = "ADVRES"

// envBindings maps config keys to the environment variables read for them,
// in order of precedence.
var envBindings = map[string][]string{
	"port":                {"PORT"},
	"env":                 {"APP_ENV", "NODE_ENV"},
	"db.driver":           {"DB_DRIVER"},
	"db.uri":              {"MONGO_URI", "DATABASE_URL"},
	"db.name":             {"DB_NAME"},
	"rateLimit.redisAddr": {"REDIS_URL"},
}

// New returns a viper instance with defaults and environment bindings, but
// without reading any file. Load uses it; commands bind their flags to it.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	return v
}

// Load reads the env file, then the config file, then the environment, and
// decodes the result. Flags bound to v win over all of them.
func Load(v *viper.Viper, cfgFile, envFile string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading env file %s: %w", envFile, err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("advres")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// DecodeHook converts durations and comma-separated lists, as written in env
// files, into their typed fields.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToSliceHook,
	)
}

func stringToSliceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return []string{}, nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}
