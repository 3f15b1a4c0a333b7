package graphmend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/graphmend/graph"
)

// Config holds all configuration for the graphmend engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.graphmend/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "graphmend".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.graphmend/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Persist enables saving runs to SQLite so they can be resumed and
	// searched. When false the engine keeps each run in memory only and
	// never opens a database.
	Persist bool `json:"persist" yaml:"persist"`

	// LLM providers
	Completion LLMConfig `json:"completion" yaml:"completion"`
	Embedding  LLMConfig `json:"embedding" yaml:"embedding"` // optional: duplicate-candidate vectors when Persist is on

	// Extraction
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`

	// Repair loop
	Repair RepairConfig `json:"repair" yaml:"repair"`

	// Policy drives the consistency checker: which relation categories an
	// entity type must carry, and how aggressively to flag duplicates.
	Policy graph.Policy `json:"policy" yaml:"policy"`

	// Embedding dimensions (must match the embedding model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single model provider endpoint.
type LLMConfig struct {
	Provider       string `json:"provider" yaml:"provider"` // lmstudio, ollama, openai, openrouter, groq, xai, gemini, custom
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ExtractionConfig tunes prompt construction and response decoding.
type ExtractionConfig struct {
	// MaxPromptChars caps the source text included in a single model call.
	// Longer inputs are split on paragraph boundaries and merged piecewise.
	MaxPromptChars int `json:"max_prompt_chars" yaml:"max_prompt_chars"`

	// MaxTokens is the completion budget requested per call.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature for extraction calls. Zero keeps output deterministic.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// EnrichThin adds a second pass after initial extraction asking the
	// model to flesh out entities that came back without attributes.
	EnrichThin bool `json:"enrich_thin" yaml:"enrich_thin"`
}

// RepairConfig bounds the repair loop.
type RepairConfig struct {
	// Budget is the maximum number of repair extraction calls per run.
	// When it reaches zero with gaps still open, the run ends
	// budget-exhausted and the gaps are labeled unresolved.
	Budget int `json:"budget" yaml:"budget"`

	// BatchSize caps how many open gaps a single repair query targets.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// MemoryBudget caps the session memory carried across repair calls,
	// in bytes of prompt/response text. Oldest exchanges are evicted first.
	MemoryBudget int `json:"memory_budget" yaml:"memory_budget"`
}

// DefaultConfig returns a Config with sensible defaults for local inference
// against an LM Studio server. Persistence is off; enable Persist to keep
// runs in ~/.graphmend/graphmend.db.
func DefaultConfig() Config {
	return Config{
		DBName:     "graphmend",
		StorageDir: "home",
		Completion: LLMConfig{
			Provider:       "lmstudio",
			Model:          "meta-llama-3.1-8b-instruct",
			BaseURL:        "http://127.0.0.1:1234",
			TimeoutSeconds: 120,
		},
		Embedding: LLMConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			BaseURL:        "http://localhost:11434",
			TimeoutSeconds: 120,
		},
		Extraction: ExtractionConfig{
			MaxPromptChars: 16000,
			MaxTokens:      800,
			Temperature:    0,
		},
		Repair: RepairConfig{
			Budget:       3,
			BatchSize:    4,
			MemoryBudget: 16384,
		},
		Policy:       graph.DefaultPolicy(),
		EmbeddingDim: 768,
	}
}

// LoadConfig reads a YAML or JSON config file over DefaultConfig, so
// omitted fields keep their defaults. Format is chosen by extension.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return cfg, nil
}

// applyDefaults fills zero values from DefaultConfig so a partially
// specified Config still builds a working engine. A zero repair budget
// is kept: it is a valid choice meaning no repair calls at all.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Completion.Provider == "" {
		c.Completion = def.Completion
	}
	if c.Extraction.MaxPromptChars == 0 {
		c.Extraction.MaxPromptChars = def.Extraction.MaxPromptChars
	}
	if c.Extraction.MaxTokens == 0 {
		c.Extraction.MaxTokens = def.Extraction.MaxTokens
	}
	if c.Repair.BatchSize == 0 {
		c.Repair.BatchSize = def.Repair.BatchSize
	}
	if c.Repair.MemoryBudget == 0 {
		c.Repair.MemoryBudget = def.Repair.MemoryBudget
	}
	if c.Policy.RequiredRelations == nil && c.Policy.DuplicateThreshold == 0 {
		c.Policy = def.Policy
	}
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = def.EmbeddingDim
	}
}

// validate checks the values an engine cannot run with.
func (c *Config) validate() error {
	if c.Repair.Budget < 0 {
		return fmt.Errorf("%w: repair budget must be >= 0", ErrInvalidConfig)
	}
	if c.Repair.BatchSize < 1 {
		return fmt.Errorf("%w: repair batch size must be >= 1", ErrInvalidConfig)
	}
	if c.Policy.DuplicateThreshold < 0 || c.Policy.DuplicateThreshold > 1 {
		return fmt.Errorf("%w: duplicate threshold must be in [0,1]", ErrInvalidConfig)
	}
	if c.Extraction.MaxPromptChars < 1000 {
		return fmt.Errorf("%w: max prompt chars must be >= 1000", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "graphmend"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".graphmend")
		return filepath.Join(dir, name+".db")
	}
}
