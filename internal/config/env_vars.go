package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	appNameVar        = "APP_NAME"
	envVar            = "ENV"
	logLevelVar       = "LOG_LEVEL"
	apiBaseURLVar     = "API_BASE_URL"
	keyringBackendVar = "KEYRING_BACKEND"
	keyringDirVar     = "KEYRING_DIR"
	keyringPassVar    = "KEYRING_PASSWORD"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Client")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "http://localhost:8000")
}

// GetKeyringBackend returns the keyring backend to store tokens in. Empty lets the keyring
// library pick the best available one for the platform.
func (EnvVars) GetKeyringBackend() string {
	return GetEnv(keyringBackendVar, "")
}

func (EnvVars) GetKeyringDir() string {
	if dir := os.Getenv(keyringDirVar); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".session-client")
	}
	return filepath.Join(base, "session-client", "keyring")
}

func (EnvVars) GetKeyringPassword() string {
	return GetEnv(keyringPassVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt returns the integer value of envVar, or defaultValue when unset or unparsable.
func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// GetEnvDuration returns the duration value of envVar, or defaultValue when unset or unparsable.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
