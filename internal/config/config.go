// Package config loads and validates the CodeKB configuration file.
// Configuration is YAML, stored as .codekb.yaml in the indexed root, with
// sensible defaults when the file is absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FileName is the per-project configuration file name.
const FileName = ".codekb.yaml"

// DefaultDataDirName is the data directory created under the indexed root.
const DefaultDataDirName = ".codekb"

// Config is the complete CodeKB configuration.
type Config struct {
	Version int          `yaml:"version"`
	Paths   PathsConfig  `yaml:"paths"`
	Index   IndexConfig  `yaml:"index"`
	Search  SearchConfig `yaml:"search"`
	Logging LogConfig    `yaml:"logging"`
}

// PathsConfig configures where state lives and what gets excluded.
type PathsConfig struct {
	// DataDir is the directory holding the metadata and index databases.
	// Relative paths are resolved against the indexed root.
	DataDir string `yaml:"data_dir"`

	// Exclude lists path globs skipped during crawling, merged with the
	// built-in defaults.
	Exclude []string `yaml:"exclude"`
}

// IndexConfig tunes indexing behavior.
type IndexConfig struct {
	// MaxFileSize is the per-file byte ceiling; larger files are skipped.
	MaxFileSize int64 `yaml:"max_file_size"`

	// Workers is the tokenization parallelism (0 = NumCPU).
	Workers int `yaml:"workers"`

	// RespectGitignore enables .gitignore parsing during crawls.
	RespectGitignore bool `yaml:"respect_gitignore"`
}

// SearchConfig tunes query defaults.
type SearchConfig struct {
	// MaxResults is the default result cap per query.
	MaxResults int `yaml:"max_results"`

	// ContextLines is the number of surrounding lines in snippets.
	ContextLines int `yaml:"context_lines"`

	// MaxSnippetsPerFile caps snippet blocks per result file.
	MaxSnippetsPerFile int `yaml:"max_snippets_per_file"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// defaultExcludes are always applied regardless of per-call options.
var defaultExcludes = []string{
	".git",
	".codekb",
	"node_modules",
	"vendor",
	"__pycache__",
	"dist",
	"build",
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDirName,
			Exclude: nil,
		},
		Index: IndexConfig{
			MaxFileSize:      10 * 1024 * 1024,
			Workers:          runtime.NumCPU(),
			RespectGitignore: true,
		},
		Search: SearchConfig{
			MaxResults:         20,
			ContextLines:       2,
			MaxSnippetsPerFile: 5,
		},
		Logging: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
	}
}

// Load reads the configuration from root/.codekb.yaml. A missing file
// returns defaults; a malformed file is an error.
func Load(root string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(root, FileName))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to root/.codekb.yaml.
func (c *Config) Save(root string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(root, FileName), data, 0o644)
}

// Validate checks the configuration for invalid values and fills in
// defaults for zero values.
func (c *Config) Validate() error {
	if c.Version <= 0 {
		c.Version = 1
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = DefaultDataDirName
	}
	if c.Index.MaxFileSize < 0 {
		return fmt.Errorf("index.max_file_size must not be negative: %d", c.Index.MaxFileSize)
	}
	if c.Index.MaxFileSize == 0 {
		c.Index.MaxFileSize = Default().Index.MaxFileSize
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must not be negative: %d", c.Index.Workers)
	}
	if c.Index.Workers == 0 {
		c.Index.Workers = runtime.NumCPU()
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = Default().Search.MaxResults
	}
	if c.Search.ContextLines < 0 {
		return fmt.Errorf("search.context_lines must not be negative: %d", c.Search.ContextLines)
	}
	if c.Search.MaxSnippetsPerFile <= 0 {
		c.Search.MaxSnippetsPerFile = Default().Search.MaxSnippetsPerFile
	}
	return nil
}

// ExcludePatterns returns the built-in excludes merged with the configured
// ones. The built-ins come first so user patterns only add to them.
func (c *Config) ExcludePatterns() []string {
	out := make([]string, 0, len(defaultExcludes)+len(c.Paths.Exclude))
	out = append(out, defaultExcludes...)
	out = append(out, c.Paths.Exclude...)
	return out
}

// DataDir resolves the configured data directory against root.
func (c *Config) DataDir(root string) string {
	if filepath.IsAbs(c.Paths.DataDir) {
		return c.Paths.DataDir
	}
	return filepath.Join(root, c.Paths.DataDir)
}
