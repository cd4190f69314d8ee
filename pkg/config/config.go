// Package config handles loading and managing callscope configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for callscope.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Output   OutputConfig   `yaml:"output"`
	Server   ServerConfig   `yaml:"server"`
}

// AnalysisConfig controls how the call graph is built.
type AnalysisConfig struct {
	Project          string   `yaml:"project"`   // tsconfig path relative to the workspace root
	MaxDepth         int      `yaml:"max_depth"` // -1 = unbounded
	Wrappers         []string `yaml:"wrappers"`
	Extensions       []string `yaml:"extensions"` // informational; the allow-list is fixed
	ParseConcurrency int      `yaml:"parse_concurrency"`
}

// OutputConfig controls rendering.
type OutputConfig struct {
	Format string `yaml:"format"`
	Top    int    `yaml:"top"` // max functions shown, 0 = all
}

// ServerConfig points at a callscoped instance for report upload.
type ServerConfig struct {
	URL       string `yaml:"url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Project:    "tsconfig.json",
			MaxDepth:   -1,
			Wrappers:   []string{"memo", "React.memo", "forwardRef", "React.forwardRef"},
			Extensions: []string{".ts", ".tsx"},
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			APIKeyEnv: "CALLSCOPE_API_KEY",
		},
	}
}

// Load reads a config file from the given path.
// If the file does not exist, it returns the default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Analysis.MaxDepth < -1 {
		return nil, fmt.Errorf("parsing config: analysis.max_depth must be -1 or non-negative, got %d", cfg.Analysis.MaxDepth)
	}

	return cfg, nil
}

// APIKey returns the upload API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Server.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Server.APIKeyEnv)
}

// FindConfigFile looks for .callscope/config.yaml in the given directory
// and its parents, returning the path if found, or "" if not.
func FindConfigFile(dir string) string {
	for {
		candidate := filepath.Join(dir, ".callscope", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// CacheDir returns the cache directory for a given workspace path.
// Uses ~/.cache/callscope/<repo-slug>/ to avoid polluting the repo.
func CacheDir(workspacePath string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	slug := repoSlug(workspacePath)
	return filepath.Join(home, ".cache", "callscope", slug)
}

// GraphDir returns the call graph storage directory for a workspace.
func GraphDir(workspacePath string) string {
	return filepath.Join(CacheDir(workspacePath), "graphs")
}

// ReportDir returns the analysis report storage directory for a workspace.
func ReportDir(workspacePath string) string {
	return filepath.Join(CacheDir(workspacePath), "reports")
}

// repoSlug creates a filesystem-safe identifier from a workspace path.
// Uses the last two path components (e.g., "user_myrepo" from "/home/user/myrepo").
func repoSlug(workspacePath string) string {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		abs = workspacePath
	}
	dir := filepath.Base(filepath.Dir(abs))
	base := filepath.Base(abs)
	return dir + "_" + base
}

// FindWorkspaceRoot walks up from dir looking for a .git entry or a
// tsconfig.json file.
func FindWorkspaceRoot(dir string) (string, error) {
	for {
		for _, marker := range []string{".git", "tsconfig.json"} {
			candidate := filepath.Join(dir, marker)
			if _, err := os.Stat(candidate); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no workspace found (looked for .git or tsconfig.json)")
}
