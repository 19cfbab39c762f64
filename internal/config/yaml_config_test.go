package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsYamlOnlyKey(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		// Exact matches
		{"db", true},
		{"json", true},
		{"no-color", true},
		{"export-dir", true},

		// Prefix matches
		{"worker.shutdown-grace", true},
		{"worker.custom-key", true},
		{"export.format", true},
		{"sqlite.cache-size", true},

		// Database-stored keys (should return false)
		{"custom.setting", false},
		{"status.custom", false},
		{"base_prefix", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := IsYamlOnlyKey(tt.key)
			if got != tt.expected {
				t.Errorf("IsYamlOnlyKey(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		key      string
		value    string
		expected string
	}{
		{
			name:     "update commented key",
			content:  "# json: false\nother: value",
			key:      "json",
			value:    "true",
			expected: "json: true\nother: value",
		},
		{
			name:     "update existing key",
			content:  "json: false\nother: value",
			key:      "json",
			value:    "true",
			expected: "json: true\nother: value",
		},
		{
			name:     "add new key",
			content:  "other: value",
			key:      "json",
			value:    "true",
			expected: "other: value\n\njson: true",
		},
		{
			name:     "preserve indentation",
			content:  "  # json: false\nother: value",
			key:      "json",
			value:    "true",
			expected: "  json: true\nother: value",
		},
		{
			name:     "handle string value",
			content:  "# export-dir: \"\"\nother: value",
			key:      "export-dir",
			value:    "exports",
			expected: "export-dir: \"exports\"\nother: value",
		},
		{
			name:     "handle duration value",
			content:  "# worker.shutdown-grace: \"5s\"",
			key:      "worker.shutdown-grace",
			value:    "30s",
			expected: "worker.shutdown-grace: 30s",
		},
		{
			name:     "quote special characters",
			content:  "other: value",
			key:      "export-dir",
			value:    "dir: name",
			expected: "other: value\n\nexport-dir: \"dir: name\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := updateYamlKey(tt.content, tt.key, tt.value)
			if err != nil {
				t.Fatalf("updateYamlKey() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("updateYamlKey() =\n%q\nwant:\n%q", got, tt.expected)
			}
		})
	}
}

func TestFormatYamlValue(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"true", "true"},
		{"false", "false"},
		{"TRUE", "true"},
		{"FALSE", "false"},
		{"123", "123"},
		{"3.14", "3.14"},
		{"-2000", "-2000"},
		{"30s", "30s"},
		{"5m", "5m"},
		{"simple", "\"simple\""},
		{"has space", "\"has space\""},
		{"has:colon", "\"has:colon\""},
		{"has#hash", "\"has#hash\""},
		{" leading", "\" leading\""},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := formatYamlValue(tt.value)
			if got != tt.expected {
				t.Errorf("formatYamlValue(%q) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}

func TestSetYamlConfig(t *testing.T) {
	// Create a temp directory with .concilia/config.yaml
	tmpDir, err := os.MkdirTemp("", "concilia-yaml-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	conciliaDir := filepath.Join(tmpDir, ".concilia")
	if err := os.MkdirAll(conciliaDir, 0755); err != nil {
		t.Fatalf("Failed to create .concilia dir: %v", err)
	}

	configPath := filepath.Join(conciliaDir, "config.yaml")
	initialConfig := `# Concilia Config
# json: false
other-setting: value
`
	if err := os.WriteFile(configPath, []byte(initialConfig), 0644); err != nil {
		t.Fatalf("Failed to write config.yaml: %v", err)
	}

	// Change to temp directory for the test
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	defer os.Chdir(oldWd)

	// Test SetYamlConfig
	if err := SetYamlConfig("json", "true"); err != nil {
		t.Fatalf("SetYamlConfig() error = %v", err)
	}

	// Read back and verify
	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config.yaml: %v", err)
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "json: true") {
		t.Errorf("config.yaml should contain 'json: true', got:\n%s", contentStr)
	}
	if strings.Contains(contentStr, "# json") {
		t.Errorf("config.yaml should not have commented json, got:\n%s", contentStr)
	}
	if !strings.Contains(contentStr, "other-setting: value") {
		t.Errorf("config.yaml should preserve other settings, got:\n%s", contentStr)
	}
}
