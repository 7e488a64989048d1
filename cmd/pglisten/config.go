package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/tornpsql/tornpsql/postgres"
	"github.com/tornpsql/tornpsql/pubsub"
)

const envPrefix = "PGLISTEN_"

// Config holds everything pglisten needs to connect and listen. Values come
// from defaults, then PGLISTEN_* environment variables, then flags.
type Config struct {
	URL            string        `koanf:"url"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	Database       string        `koanf:"database"`
	User           string        `koanf:"user"`
	Password       string        `koanf:"password"`
	SSLMode        string        `koanf:"sslmode"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	Heartbeat      time.Duration `koanf:"heartbeat"`
	LogLevel       string        `koanf:"log_level"`
	LogJSON        bool          `koanf:"log_json"`
	LogStatements  bool          `koanf:"log_statements"`
	MetricsAddr    string        `koanf:"metrics_addr"`
}

func defaultConfig() Config {
	return Config{
		Host:           postgres.DefaultHost,
		Port:           postgres.DefaultPort,
		SSLMode:        string(postgres.SSLModePrefer),
		ConnectTimeout: 10 * time.Second,
		Heartbeat:      pubsub.DefaultHeartbeat,
		LogLevel:       "info",
	}
}

// loadConfig merges defaults, the environment returned by environ and every
// flag the user set explicitly.
func loadConfig(flags *pflag.FlagSet, environ func() []string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnvKey,
		EnvironFunc:   environ,
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var setErr error

	flags.Visit(func(f *pflag.Flag) {
		if setErr != nil {
			return
		}

		if err := k.Set(flagKey(f.Name), f.Value.String()); err != nil {
			setErr = fmt.Errorf("failed to apply flag --%s: %w", f.Name, err)
		}
	})

	if setErr != nil {
		return Config{}, setErr
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Heartbeat <= 0 {
		return Config{}, fmt.Errorf("heartbeat must be greater than zero, got %s", cfg.Heartbeat)
	}

	return cfg, nil
}

// transformEnvKey maps PGLISTEN_LOG_LEVEL to log_level.
func transformEnvKey(key, value string) (string, any) {
	return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// clientOptions translates the configuration into client options.
func (c Config) clientOptions(logger postgres.Logger) []postgres.Option {
	opts := []postgres.Option{
		postgres.WithHost(c.Host),
		postgres.WithPort(c.Port),
		postgres.WithDatabase(c.Database),
		postgres.WithUser(c.User),
		postgres.WithPassword(c.Password),
		postgres.WithSSLMode(postgres.SSLMode(c.SSLMode)),
		postgres.WithConnectTimeout(c.ConnectTimeout),
		postgres.WithStatementLogging(c.LogStatements),
		postgres.WithLogger(logger),
	}

	if c.URL != "" {
		opts = append(opts, postgres.WithURL(c.URL))
	}

	if c.ConnectRetries > 0 {
		opts = append(opts, postgres.WithConnectRetries(c.ConnectRetries, 250*time.Millisecond))
	}

	return opts
}
