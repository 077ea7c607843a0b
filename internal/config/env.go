// Package config provides environment configuration helpers for waytale commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the serve command.
const (
	DefaultWebPort   = "8090"
	DefaultCacheDir  = "cache"
	DefaultAssetDir  = "assets"
	DefaultLogLevel  = "info"
)

// Env returns the value of an environment variable or a fallback.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvInt returns an integer environment variable or a fallback.
// Malformed values fall back silently.
func EnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvDuration returns a duration environment variable (e.g. "30s") or a fallback.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// Required returns the value of an environment variable.
// Exits with a usage hint if not set.
func Required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}
