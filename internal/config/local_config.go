package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig represents the subset of config.yaml fields that need to be read
// directly from the file rather than through the viper singleton. This is
// needed when the CWD has changed since config initialization, or when
// checking config before viper is initialized (doctor does both).
type LocalConfig struct {
	Db        string `yaml:"db"`
	Json      bool   `yaml:"json"`
	NoColor   bool   `yaml:"no-color"`
	ExportDir string `yaml:"export-dir"`
}

// LoadLocalConfig reads and parses config.yaml directly from the specified
// .concilia directory, bypassing the viper singleton.
//
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't
// be parsed.
func LoadLocalConfig(conciliaDir string) *LocalConfig {
	configPath := filepath.Join(conciliaDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from conciliaDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable
// overrides. Environment variables take precedence over config file values.
//
// Supported environment variables:
// - CONCILIA_DB: overrides db
// - CONCILIA_EXPORT_DIR: overrides export-dir
func LoadLocalConfigWithEnv(conciliaDir string) *LocalConfig {
	cfg := LoadLocalConfig(conciliaDir)

	if envDb := os.Getenv("CONCILIA_DB"); envDb != "" {
		cfg.Db = envDb
	}
	if envDir := os.Getenv("CONCILIA_EXPORT_DIR"); envDir != "" {
		cfg.ExportDir = envDir
	}

	return cfg
}

// GetLocalDBPath reads db from the local config.yaml file, preferring the
// CONCILIA_DB environment variable.
func GetLocalDBPath(conciliaDir string) string {
	return LoadLocalConfigWithEnv(conciliaDir).Db
}
