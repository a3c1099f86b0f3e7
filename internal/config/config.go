// Package config loads runtime settings from defaults, an optional YAML
// file, VOCABIO_ environment variables and command-line flags, in that order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides. VOCABIO_SERVER_ADDR
// maps to server.addr.
const EnvPrefix = "VOCABIO_"

type Config struct {
	Database Database `koanf:"database"`
	Server   Server   `koanf:"server"`
	Sync     Sync     `koanf:"sync"`
	Review   Review   `koanf:"review"`
	Log      Log      `koanf:"log"`
}

type Database struct {
	Path string `koanf:"path" validate:"required"`
}

type Server struct {
	Addr string `koanf:"addr" validate:"required"`
}

type Sync struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

type Review struct {
	DueLimit   int           `koanf:"due_limit" validate:"min=1,max=500"`
	SessionTTL time.Duration `koanf:"session_ttl" validate:"min=1m"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Database: Database{Path: "vocabio.db"},
		Server:   Server{Addr: "localhost:8080"},
		Sync:     Sync{ReposDir: "repos"},
		Review:   Review{DueLimit: 20, SessionTTL: 30 * 24 * time.Hour},
		Log:      Log{Level: "info", Format: "text"},
	}
}

// RegisterFlags adds the overridable settings to fs. Only flags the user
// actually sets take precedence over the file and environment.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("database.path", d.Database.Path, "Path to the SQLite database file")
	fs.String("server.addr", d.Server.Addr, "Address the HTTP server listens on")
	fs.String("sync.repos_dir", d.Sync.ReposDir, "Directory git sources are cloned into")
	fs.Int("review.due_limit", d.Review.DueLimit, "Default number of items in the due queue")
	fs.Duration("review.session_ttl", d.Review.SessionTTL, "Lifetime of issued session tokens")
	fs.String("log.level", d.Log.Level, "Log level (debug, info, warn, error)")
	fs.String("log.format", d.Log.Format, "Log format (text, json)")
}

// Load builds the configuration. path may be empty; a missing file at the
// given path is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("loading flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps VOCABIO_REVIEW_DUE_LIMIT to review.due_limit: the first
// underscore separates the section, the rest belong to the key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}
