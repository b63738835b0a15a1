package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultTarget is the master database path used when nothing else is configured.
const DefaultTarget = "fsmerge.sqlite3"

// Config represents the application configuration
type Config struct {
	TargetPath string `yaml:"target"`
	PlanPath   string `yaml:"plan"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	LogOutput  string `yaml:"log_output"`
	Output     string `yaml:"output"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/fsmerge/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:  "info",
		LogFormat: "auto",
		Output:    "table",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// YAML config is optional
	_ = loadYAMLConfig(cfg)

	if target := getEnvOrFile("FSMERGE_TARGET", "FSMERGE_TARGET_FILE"); target != "" {
		cfg.TargetPath = target
	}
	if plan := getEnvOrFile("FSMERGE_PLAN", "FSMERGE_PLAN_FILE"); plan != "" {
		cfg.PlanPath = plan
	}
	if logLevel := os.Getenv("FSMERGE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("FSMERGE_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if logOutput := os.Getenv("FSMERGE_LOG_OUTPUT"); logOutput != "" {
		cfg.LogOutput = logOutput
	}
	if output := os.Getenv("FSMERGE_OUTPUT"); output != "" {
		cfg.Output = output
	}

	if cfg.TargetPath == "" {
		cfg.TargetPath = DefaultTarget
	}

	return cfg, nil
}

// loadYAMLConfig loads configuration from ~/.config/fsmerge/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "fsmerge", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
