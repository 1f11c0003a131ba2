// Package config handles repository layout and process configuration.
// A lattice repository is a directory containing a .lattice/ dir with the
// config file, the stores, the provider cache, and the run checkpoint.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/matsen/lattice/internal/pipeline"
)

// Repository layout names.
const (
	LatticeDir     = ".lattice"
	ConfigFile     = "config.yaml"
	CheckpointFile = "checkpoint.json"
	CacheDir       = "cache"
	GraphDBFile    = "graph.db"
	VectorDir      = "vectors"
	PDFDir         = "pdfs"
)

// ProviderConfig configures the metadata provider client.
type ProviderConfig struct {
	BaseURL string  `yaml:"metadata_base_url"`
	APIKey  string  `yaml:"-"` // From METADATA_API_KEY only; never serialized
	RPS     float64 `yaml:"metadata_rps"`
}

// AnalysisConfig configures the analysis providers.
type AnalysisConfig struct {
	Primary  string `yaml:"primary"`  // ollama, groq, or gemini
	Fallback string `yaml:"fallback"` // Optional second choice
	RPM      int    `yaml:"analysis_rpm"`

	OllamaURL  string `yaml:"ollama_url"`
	Model      string `yaml:"model"`       // Completion model override
	EmbedModel string `yaml:"embed_model"` // Embedding model override
}

// StoreConfig configures the two storage backends.
type StoreConfig struct {
	GraphURI        string `yaml:"graph_uri"`         // Defaults to .lattice/graph.db
	GraphUser       string `yaml:"graph_user"`        // Unused by the SQLite backend
	GraphPassword   string `yaml:"-"`                 // From GRAPH_PASSWORD only
	VectorStorePath string `yaml:"vector_store_path"` // Defaults to .lattice/vectors
	EmbeddingDim    int    `yaml:"embedding_dim"`
}

// Config is the process configuration stored in .lattice/config.yaml.
type Config struct {
	Metadata ProviderConfig     `yaml:"metadata"`
	Analysis AnalysisConfig     `yaml:"analysis"`
	Store    StoreConfig        `yaml:"store"`
	Pipeline pipeline.RunConfig `yaml:"pipeline"` // Run defaults; CLI flags override
	LogLevel string             `yaml:"log_level"`
}

// Default returns the configuration a fresh repository starts with.
func Default() Config {
	return Config{
		Analysis: AnalysisConfig{Primary: "ollama", RPM: 60},
		Store:    StoreConfig{EmbeddingDim: 384},
		LogLevel: "info",
	}
}

// Path helpers, all rooted at the repository root.

func LatticePath(root string) string    { return filepath.Join(root, LatticeDir) }
func ConfigPath(root string) string     { return filepath.Join(root, LatticeDir, ConfigFile) }
func CheckpointPath(root string) string { return filepath.Join(root, LatticeDir, CheckpointFile) }
func CachePath(root string) string      { return filepath.Join(root, LatticeDir, CacheDir) }
func GraphDBPath(root string) string    { return filepath.Join(root, LatticeDir, GraphDBFile) }
func VectorPath(root string) string     { return filepath.Join(root, LatticeDir, VectorDir) }
func PDFPath(root string) string        { return filepath.Join(root, LatticeDir, PDFDir) }

// IsRepository checks whether root contains a lattice repository.
func IsRepository(root string) bool {
	info, err := os.Stat(LatticePath(root))
	return err == nil && info.IsDir()
}

// FindRepository walks up from start to locate a repository root.
func FindRepository(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		if IsRepository(abs) {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("not in a lattice repository (no %s directory found)", LatticeDir)
		}
		abs = parent
	}
}

// Load reads the repository configuration and applies environment
// overrides. Secrets come from the environment only.
func Load(root string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg), nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return applyEnv(cfg), nil
}

// Save writes the configuration file. Secret fields are excluded by their
// yaml tags, so a saved config never contains keys or passwords.
func Save(root string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(LatticePath(root), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", LatticeDir, err)
	}
	return os.WriteFile(ConfigPath(root), data, 0644)
}

func applyEnv(cfg Config) Config {
	if v := os.Getenv("METADATA_API_KEY"); v != "" {
		cfg.Metadata.APIKey = v
	}
	if v := os.Getenv("METADATA_BASE_URL"); v != "" {
		cfg.Metadata.BaseURL = v
	}
	if v := os.Getenv("GRAPH_PASSWORD"); v != "" {
		cfg.Store.GraphPassword = v
	}
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ANALYSIS_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil && rpm > 0 {
			cfg.Analysis.RPM = rpm
		}
	}
	return cfg
}

// Redacted returns a copy safe for logs and status output: secret values
// are replaced with a marker when present.
func (c Config) Redacted() Config {
	out := c
	if out.Metadata.APIKey != "" {
		out.Metadata.APIKey = "[redacted]"
	}
	if out.Store.GraphPassword != "" {
		out.Store.GraphPassword = "[redacted]"
	}
	return out
}
