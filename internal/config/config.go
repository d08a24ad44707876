package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// Config holds the client configuration
type Config struct {
	ServerURL       string
	CredentialsPath string
	HTTPTimeout     time.Duration
	LogLevel        string
	DevMode         bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:   "http://localhost:8000", // default backend address
		HTTPTimeout: defaultTimeout,
		LogLevel:    "info",
	}

	// Load AUTHGATE_SERVER_URL (optional, defaults to localhost)
	if serverURL := os.Getenv("AUTHGATE_SERVER_URL"); serverURL != "" {
		cfg.ServerURL = strings.TrimRight(serverURL, "/")
	}

	// Load AUTHGATE_CREDENTIALS (optional, defaults to the user config dir)
	if credPath := os.Getenv("AUTHGATE_CREDENTIALS"); credPath != "" {
		cfg.CredentialsPath = credPath
	} else {
		dir, err := credentialsDir()
		if err != nil {
			return nil, fmt.Errorf("resolve credentials path: %w", err)
		}
		cfg.CredentialsPath = filepath.Join(dir, "credentials.db")
	}

	// Load AUTHGATE_TIMEOUT_SECONDS (optional)
	if timeoutStr := os.Getenv("AUTHGATE_TIMEOUT_SECONDS"); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("AUTHGATE_TIMEOUT_SECONDS must be a positive integer, got %q", timeoutStr)
		}
		cfg.HTTPTimeout = time.Duration(seconds) * time.Second
	}

	// Load AUTHGATE_LOG_LEVEL (optional, defaults to info)
	if level := os.Getenv("AUTHGATE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	// Load AUTHGATE_DEV_MODE (optional, defaults to false)
	cfg.DevMode = os.Getenv("AUTHGATE_DEV_MODE") == "true"

	return cfg, nil
}

// credentialsDir returns the directory holding the credential store,
// honoring XDG_CONFIG_HOME when set.
func credentialsDir() (string, error) {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "authgate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "authgate"), nil
}
