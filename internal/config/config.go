// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"

	"github.com/coffersTech/logrelay/internal/model"
	"github.com/coffersTech/logrelay/internal/sink"
)

// Config is the full process configuration.
type Config struct {
	ListenAddr     string `env:"LOGRELAY_LISTEN_ADDR" envDefault:"0.0.0.0:9000"`
	AdminAddr      string `env:"LOGRELAY_ADMIN_ADDR" envDefault:":9090"`
	SessionName    string `env:"LOGRELAY_SESSION_NAME" envDefault:"logrelay"`
	DefaultLevel   string `env:"LOGRELAY_DEFAULT_LEVEL" envDefault:"trace"`
	MaxConnections int    `env:"LOGRELAY_MAX_CONNECTIONS" envDefault:"0"`

	Sinks           []string `env:"LOGRELAY_SINKS" envDefault:"console" envSeparator:","`
	SinkMemoryLimit int64    `env:"LOGRELAY_SINK_MEMORY_LIMIT" envDefault:"67108864"`

	ConsolePretty bool `env:"LOGRELAY_CONSOLE_PRETTY" envDefault:"false"`

	HTTPURL           string        `env:"LOGRELAY_HTTP_URL"`
	HTTPAPIKey        string        `env:"LOGRELAY_HTTP_API_KEY"`
	HTTPBatchSize     int           `env:"LOGRELAY_HTTP_BATCH_SIZE" envDefault:"100"`
	HTTPFlushInterval time.Duration `env:"LOGRELAY_HTTP_FLUSH_INTERVAL" envDefault:"1s"`
	HTTPCompress      bool          `env:"LOGRELAY_HTTP_COMPRESS" envDefault:"false"`

	NATSURL     string `env:"LOGRELAY_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSSubject string `env:"LOGRELAY_NATS_SUBJECT" envDefault:"logs"`

	LogLevel   string `env:"LOGRELAY_LOG_LEVEL" envDefault:"info"`
	LogConsole bool   `env:"LOGRELAY_LOG_CONSOLE" envDefault:"false"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return load(env.Options{})
}

// LoadFrom reads vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sinks = normalizeKinds(cfg.Sinks)
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LOGRELAY_LISTEN_ADDR is required"))
	}
	if _, err := model.ParseLevel(c.DefaultLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOGRELAY_DEFAULT_LEVEL: %w", err))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("LOGRELAY_MAX_CONNECTIONS must not be negative"))
	}
	if len(c.Sinks) == 0 {
		errs = append(errs, errors.New("LOGRELAY_SINKS names no sink"))
	}
	for _, kind := range c.Sinks {
		switch kind {
		case sink.KindConsole, sink.KindMemory:
		case sink.KindHTTP:
			if c.HTTPURL == "" {
				errs = append(errs, errors.New("LOGRELAY_HTTP_URL is required for the http sink"))
			}
		case sink.KindNATS:
			if c.NATSURL == "" {
				errs = append(errs, errors.New("LOGRELAY_NATS_URL is required for the nats sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("LOGRELAY_SINKS: %w: %q", sink.ErrUnknownKind, kind))
		}
	}

	return errors.Join(errs...)
}

// Level returns the parsed classifier default. Call Validate first.
func (c Config) Level() model.Level {
	l, err := model.ParseLevel(c.DefaultLevel)
	if err != nil {
		return model.LevelTrace
	}
	return l
}

// SinkOptions maps the configuration onto the sink package.
func (c Config) SinkOptions() sink.Options {
	return sink.Options{
		Kinds:         c.Sinks,
		ConsolePretty: c.ConsolePretty,
		HTTP: sink.HTTPOptions{
			URL:           c.HTTPURL,
			APIKey:        c.HTTPAPIKey,
			BatchSize:     c.HTTPBatchSize,
			FlushInterval: c.HTTPFlushInterval,
			MemoryLimit:   c.SinkMemoryLimit,
			Compress:      c.HTTPCompress,
		},
		NATSURL:     c.NATSURL,
		NATSSubject: c.NATSSubject,
	}
}

func normalizeKinds(kinds []string) []string {
	out := kinds[:0]
	for _, k := range kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
