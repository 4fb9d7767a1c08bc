// Package config loads service configuration from the environment. A .env
// file in the working directory is applied first when present; real
// environment variables win.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load applies the .env file if one exists. Missing files are not an error;
// production deployments configure the environment directly.
func Load() {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Printf("WARNING: Failed to load .env file: %v", err)
	}
}

// RequiredString returns the named variable, failing if it is unset or empty.
func RequiredString(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

// RequiredInt returns the named variable parsed as an int.
func RequiredInt(key string) (int, error) {
	value, err := RequiredString(key)
	if err != nil {
		return 0, err
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer, got %q", key, value)
	}
	return intValue, nil
}

// String returns the named variable or fallback when unset.
func String(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Int returns the named variable parsed as an int, or fallback when unset.
// A set-but-unparseable value is an error rather than a silent fallback.
func Int(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer, got %q", key, value)
	}
	return intValue, nil
}

// Duration returns the named variable parsed with time.ParseDuration, or
// fallback when unset.
func Duration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a duration, got %q", key, value)
	}
	return d, nil
}
