// Package config loads lazydocs settings from an optional .env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/river-now/lazyfield/kit/colorlog"
)

const (
	rootKey      = "LAZYDOCS_ROOT"
	addrKey      = "LAZYDOCS_ADDR"
	globKey      = "LAZYDOCS_GLOB"
	modeKey      = "LAZYDOCS_MODE"
	logLevelKey  = "LAZYDOCS_LOG_LEVEL"
	warmLimitKey = "LAZYDOCS_WARM_LIMIT"
	devModeVal   = "development"
)

const (
	DefaultRoot      = "docs"
	DefaultAddr      = ":8080"
	DefaultGlob      = "**/*.md"
	DefaultWarmLimit = 8
)

type Config struct {
	// Directory the documents are read from.
	Root string
	// Listen address for the HTTP server.
	Addr string
	// doublestar pattern, relative to Root, selecting documents.
	Glob string
	// "development" enables the file watcher.
	Mode      string
	LogLevel  slog.Level
	WarmLimit int
}

func (c *Config) IsDev() bool { return c.Mode == devModeVal }

// Load reads envFiles (or ".env" if none are given and it exists) into the
// environment without overriding variables that are already set, then
// builds a Config from the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("error loading env files %v: %w", envFiles, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment alone.
func FromEnv() (*Config, error) {
	c := &Config{
		Root:      getenv(rootKey, DefaultRoot),
		Addr:      getenv(addrKey, DefaultAddr),
		Glob:      getenv(globKey, DefaultGlob),
		Mode:      os.Getenv(modeKey),
		LogLevel:  colorlog.ParseLevel(os.Getenv(logLevelKey)),
		WarmLimit: DefaultWarmLimit,
	}
	if s := os.Getenv(warmLimitKey); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer, got %q", warmLimitKey, s)
		}
		c.WarmLimit = n
	}
	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
