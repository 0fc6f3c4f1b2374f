// Package config reads the daemon's environment-variable configuration,
// per spec.md section 6. It deliberately stays on os.Getenv/strconv
// rather than a config library: the teacher daemon never used one
// either, flag+env was always enough for a single-binary service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-resolved set of environment-derived settings read
// once at process start.
type Config struct {
	Host string
	Port int

	DriverBinary     string
	DriverTimeout    time.Duration
	DriverMaxRetries int
	DriverFlags      string

	SearchHeartbeat  time.Duration
	SearchDirTimeout time.Duration
	SizeHeartbeat    time.Duration
	SizeDirTimeout   time.Duration

	LogLevel string
}

// Load reads every supported environment variable, applying spec.md's
// defaults for anything unset or unparseable.
func Load() Config {
	return Config{
		Host: stringEnv("HUB_HOST", "127.0.0.1"),
		Port: intEnv("HUB_PORT", 8000),

		DriverBinary:     stringEnv("DRIVER_BINARY", "rclone"),
		DriverTimeout:    secondsEnv("DRIVER_TIMEOUT_SECONDS", 300),
		DriverMaxRetries: intEnv("DRIVER_MAX_RETRIES", 1),
		DriverFlags:      stringEnv("DRIVER_FLAGS", ""),

		SearchHeartbeat:  floatSecondsEnv("SEARCH_HEARTBEAT_SECONDS", 1.0),
		SearchDirTimeout: secondsEnv("SEARCH_DIR_TIMEOUT_SECONDS", 30),
		SizeHeartbeat:    floatSecondsEnv("SIZE_HEARTBEAT_SECONDS", 1.0),
		SizeDirTimeout:   secondsEnv("SIZE_DIR_TIMEOUT_SECONDS", 30),

		LogLevel: stringEnv("LOG_LEVEL", "debug"),
	}
}

// Addr is the HTTP listen address in host:port form.
func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func secondsEnv(key string, defSeconds int) time.Duration {
	return time.Duration(intEnv(key, defSeconds)) * time.Second
}

func floatSecondsEnv(key string, defSeconds float64) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return time.Duration(defSeconds * float64(time.Second))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return time.Duration(defSeconds * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}
