// Package config manages configuration for concilia.
//
// Three layers, lowest precedence first: built-in defaults, the project's
// .concilia/config.yaml (discovered by walking up from CWD), and CONCILIA_*
// environment variables. SQLite pragmas and worker tuning use their own
// exact-name environment variables (see pragmas.go, worker.go) because those
// names are a contract shared with the hosting application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	v  *viper.Viper
	mu sync.RWMutex
)

// Initialize sets up the configuration singleton. Safe to call more than
// once; later calls rebuild the instance (flags re-apply their overrides
// via Set).
func Initialize() error {
	mu.Lock()
	defer mu.Unlock()

	nv := viper.New()
	setDefaults(nv)

	nv.SetEnvPrefix("CONCILIA")
	nv.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	nv.AutomaticEnv()

	// Project config wins over user-level config.
	if dir, err := FindProjectDir(); err == nil {
		nv.AddConfigPath(dir)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		nv.AddConfigPath(filepath.Join(xdg, "concilia"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		nv.AddConfigPath(filepath.Join(home, ".concilia"))
	}
	nv.SetConfigName("config")
	nv.SetConfigType("yaml")

	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v = nv
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("db", "")
	nv.SetDefault("json", false)
	nv.SetDefault("quiet", false)
	nv.SetDefault("verbose", false)
	nv.SetDefault("no-color", false)
	nv.SetDefault("export-dir", "")
	nv.SetDefault("worker.shutdown-grace", 10*time.Second)
}

// FindProjectDir walks up from CWD looking for a .concilia directory that
// contains config.yaml.
func FindProjectDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".concilia")
		if _, err := os.Stat(filepath.Join(candidate, "config.yaml")); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no .concilia/config.yaml found (run 'concilia init' first)")
}

// ResetForTesting discards the singleton so tests can exercise Initialize
// against a controlled filesystem.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	v = nil
}

// Set overrides a value on the singleton (used by flag binding).
func Set(key string, value interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if v != nil {
		v.Set(key, value)
	}
}

// GetString returns a string config value ("" before Initialize).
func GetString(key string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns a bool config value (false before Initialize).
func GetBool(key string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns an int config value (0 before Initialize).
func GetInt(key string) int {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration returns a duration config value (0 before Initialize).
func GetDuration(key string) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// IsSet reports whether a key was set by any layer above the defaults.
func IsSet(key string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if v == nil {
		return false
	}
	return v.IsSet(key)
}
