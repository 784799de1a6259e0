package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by FromEnv, e.g.
// ROOMLEDGER_STORAGE_DATA_DIR or ROOMLEDGER_LOG_LEVEL.
const EnvPrefix = "ROOMLEDGER"

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// FromEnv overlays ROOMLEDGER_* environment variables onto cfg. Variables that
// are unset leave the field unchanged.
func FromEnv(cfg *Config) error {
	return envconfig.Process(EnvPrefix, cfg)
}
