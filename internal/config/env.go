package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// envPaths are searched in order; the first readable file wins
var envPaths = []string{".env", "../.env", "../../.env"}

// LoadEnv copies KEY=VALUE lines from the first .env file found into the
// process environment. Variables already set are left alone.
func LoadEnv() error {
	for _, envPath := range envPaths {
		data, err := os.ReadFile(envPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return eris.Wrapf(err, "config: read %s", envPath)
		}
		return applyEnv(string(data))
	}
	return nil
}

func applyEnv(data string) error {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return eris.Wrapf(err, "config: set %s", key)
		}
	}
	return nil
}

// GetEnv gets environment variable with default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets integer environment variable with default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
