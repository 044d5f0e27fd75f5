package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable the service reads from the environment. Values
// not present in the environment keep their defaults.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Environments EnvironmentsConfig `koanf:"environments"`
	Query        QueryConfig        `koanf:"query"`
	Build        BuildConfig        `koanf:"build"`
	Perf         PerfConfig         `koanf:"perf"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host" env:"SERVER_HOST"`
	Port int    `koanf:"port" env:"SERVER_PORT"`
}

// EnvironmentsConfig locates the environments file and the base directory used
// to resolve relative paths inside it.
type EnvironmentsConfig struct {
	ConfigPath string `koanf:"config_path" env:"ENVIRONMENTS_CONFIG"`
	BaseDir    string `koanf:"base_dir"    env:"ENVIRONMENTS_BASE_DIR"`
}

// QueryConfig contains query store and executor settings.
type QueryConfig struct {
	TTLSeconds   int `koanf:"ttl_seconds"   env:"QUERY_TTL_SECONDS"`
	MaxLimit     int `koanf:"max_limit"     env:"QUERY_MAX_LIMIT"`
	AsyncWorkers int `koanf:"async_workers" env:"QUERY_ASYNC_WORKERS"`
}

// BuildConfig contains the compile pipeline settings.
type BuildConfig struct {
	Command        string `koanf:"command"         env:"METRICFLOW_BUILD_CMD"`
	TimeoutSeconds int    `koanf:"timeout_seconds" env:"METRICFLOW_BUILD_TIMEOUT"`
}

// PerfConfig contains the perf span sink settings.
type PerfConfig struct {
	LogPath string `koanf:"log_path" env:"METRICFLOW_PERF_LOG_PATH"`
}

func (c *QueryConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *BuildConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7100,
		},
		Environments: EnvironmentsConfig{
			ConfigPath: "environments.yml",
		},
		Query: QueryConfig{
			TTLSeconds:   3600,
			MaxLimit:     10000,
			AsyncWorkers: 4,
		},
		Build: BuildConfig{
			TimeoutSeconds: 600,
		},
		Perf: PerfConfig{
			LogPath: "/tmp/metricflow-perf.log",
		},
	}
}

// envMappings maps recognized environment variables onto koanf paths. The
// names are part of the public contract and cannot follow a derived scheme.
var envMappings = map[string]string{
	"SERVER_HOST":              "server.host",
	"SERVER_PORT":              "server.port",
	"ENVIRONMENTS_CONFIG":      "environments.config_path",
	"ENVIRONMENTS_BASE_DIR":    "environments.base_dir",
	"QUERY_TTL_SECONDS":        "query.ttl_seconds",
	"QUERY_MAX_LIMIT":          "query.max_limit",
	"QUERY_ASYNC_WORKERS":      "query.async_workers",
	"METRICFLOW_BUILD_CMD":     "build.command",
	"METRICFLOW_BUILD_TIMEOUT": "build.timeout_seconds",
	"METRICFLOW_PERF_LOG_PATH": "perf.log_path",
}

// Load builds the effective configuration from defaults overlaid with the
// recognized environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			if path, ok := envMappings[key]; ok {
				return path, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
