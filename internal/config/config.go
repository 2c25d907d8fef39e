// Package config reads service settings from the environment. A .env file in the
// working directory is loaded by the binaries through godotenv/autoload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// StoreKind selects the RoomStore backend.
type StoreKind string

const (
	StorePostgres StoreKind = "postgres"
	StoreMemory   StoreKind = "memory"
)

// Config is the process configuration shared by the server and the reaper.
type Config struct {
	Env            string
	Addr           string
	Store          StoreKind
	UseRedis       bool
	AllowedOrigins []string
	LogLevel       logrus.Level

	// TokenExpiry of 0 issues tokens without an exp claim.
	TokenExpiry   time.Duration
	KeyPath       string
	PublicKeyPath string

	// EmbeddedReaper runs the stale-room sweep inside the server process.
	EmbeddedReaper    bool
	ReaperInterval    time.Duration
	InactivityTimeout time.Duration
}

// Production reports whether TABLETOP_ENV is "production".
func (c Config) Production() bool { return c.Env == "production" }

// Load reads the environment, applying defaults for unset keys.
func Load() (Config, error) {
	cfg := Config{
		Env:           getEnv("TABLETOP_ENV", "development"),
		Store:         StoreKind(strings.ToLower(getEnv("ROOM_STORE", string(StorePostgres)))),
		KeyPath:       os.Getenv("JWT_PRIVATE_KEY_PATH"),
		PublicKeyPath: os.Getenv("JWT_PUBLIC_KEY_PATH"),
	}
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return Config{}, fmt.Errorf("ROOM_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	port := getEnv("PORT", "8080")
	if cfg.Production() {
		cfg.Addr = ":" + port
	} else {
		cfg.Addr = "localhost:" + port
	}

	var err error
	if cfg.UseRedis, err = strconv.ParseBool(getEnv("USE_REDIS", "false")); err != nil {
		return Config{}, fmt.Errorf("USE_REDIS: %w", err)
	}
	if cfg.EmbeddedReaper, err = strconv.ParseBool(getEnv("EMBEDDED_REAPER", "true")); err != nil {
		return Config{}, fmt.Errorf("EMBEDDED_REAPER: %w", err)
	}
	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.TokenExpiry, err = parseExpiry(os.Getenv("TOKEN_EXPIRE_TIME")); err != nil {
		return Config{}, fmt.Errorf("TOKEN_EXPIRE_TIME: %w", err)
	}

	if cfg.Production() {
		for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{"https://*", "http://*"}
	}

	cfg.ReaperInterval = time.Duration(getEnvInt("REAPER_INTERVAL_SEC", 60)) * time.Second
	cfg.InactivityTimeout = time.Duration(getEnvInt("ROOM_INACTIVITY_TIMEOUT_SEC", 600)) * time.Second
	if cfg.ReaperInterval <= 0 || cfg.InactivityTimeout <= 0 {
		return Config{}, fmt.Errorf("reaper interval and inactivity timeout must be positive")
	}
	return cfg, nil
}

// Logger builds the process logger: JSON in production, coloured text elsewhere.
func (c Config) Logger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(c.LogLevel)
	if c.Production() {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

func parseExpiry(v string) (time.Duration, error) {
	if v == "" || v == "never" || v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return def
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return def
	}
	return val
}
