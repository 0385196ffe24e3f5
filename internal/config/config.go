package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config represents the complete ctxsys configuration. It mirrors the
// option table in SPEC_FULL.md section 6.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings" json:"embeddings"`
	Summarization SummarizationConfig `yaml:"summarization" json:"summarization"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" json:"retrieval"`
	Indexing      IndexingConfig      `yaml:"indexing" json:"indexing"`
	Sessions      SessionsConfig      `yaml:"sessions" json:"sessions"`
	Legacy        LegacyConfig        `yaml:"legacy" json:"legacy"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// DatabaseConfig locates the single-file store.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// EmbeddingsConfig configures the active Embedder.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// OllamaHost is read by the Ollama-backed provider; empty uses its
	// built-in default endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// SummarizationConfig configures the active Summarizer/Generator pair used
// by the assembler's degrade-to-summary stage and the rewriter's HyDE stage.
type SummarizationConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// RetrievalConfig configures the hybrid search engine and the assembler's
// token budget.
type RetrievalConfig struct {
	// DefaultMaxTokens is the assembler's packing budget.
	DefaultMaxTokens int `yaml:"default_max_tokens" json:"default_max_tokens"`

	// Strategies lists which named strategies Engine.Search runs.
	Strategies []string `yaml:"strategies" json:"strategies"`

	// Weights scales each strategy's RRF contribution by name.
	Weights map[string]float64 `yaml:"weights" json:"weights"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MinScore filters fused results below this score.
	MinScore float64 `yaml:"min_score" json:"min_score"`

	// Expand and ExpandTokens control graph expansion after fusion.
	Expand       bool `yaml:"expand" json:"expand"`
	ExpandTokens int  `yaml:"expand_tokens" json:"expand_tokens"`

	// Gate, Decompose, HyDE control the rewriting stages run before search.
	Gate      bool `yaml:"gate" json:"gate"`
	Decompose bool `yaml:"decompose" json:"decompose"`
	HyDE      bool `yaml:"hyde" json:"hyde"`

	// DecisionStopWords tunes the decision lexical index's tokenizer,
	// independent of the entity index's stop-word list.
	DecisionStopWords []string `yaml:"decision_stopwords" json:"decision_stopwords"`
}

// IndexingConfig is advisory configuration for external indexers; the
// engine itself does not parse source, but honors these patterns when an
// indexer asks which paths to skip.
type IndexingConfig struct {
	Ignore []string `yaml:"ignore" json:"ignore"`
}

// SessionsConfig configures advisory session-record pruning. The engine
// does not manage sessions itself; this is read by external tooling that
// writes session records into the store.
type SessionsConfig struct {
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// LegacyConfig points at a teacher-era on-disk layout for one-time import
// via internal/legacy.
type LegacyConfig struct {
	BleveDir string `yaml:"bleve_dir" json:"bleve_dir"`
	HNSWPath string `yaml:"hnsw_path" json:"hnsw_path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// defaultIgnorePatterns are the advisory defaults handed to external
// indexers.
var defaultIgnorePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Path: filepath.Join(".ctx-sys", "ctx-sys.db"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "mxbai-embed-large",
			OllamaHost: "",
		},
		Summarization: SummarizationConfig{
			Provider: "ollama",
			Model:    "qwen3:0.6b",
		},
		Retrieval: RetrievalConfig{
			DefaultMaxTokens: 4000,
			Strategies:       []string{"vec", "graph", "lex"},
			Weights:          map[string]float64{"vec": 1.0, "graph": 0.7, "lex": 1.0},
			RRFConstant:      60,
			MinScore:         0,
			Expand:           false,
			ExpandTokens:     2000,
			Gate:             false,
			Decompose:        false,
			HyDE:             false,
			DecisionStopWords: []string{
				"the", "a", "an", "is", "are", "was", "were", "be", "been",
				"and", "or", "but", "for", "to", "of", "in", "on", "at", "we",
			},
		},
		Indexing: IndexingConfig{
			Ignore: defaultIgnorePatterns,
		},
		Sessions: SessionsConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Legacy: LegacyConfig{},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ctxsys/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ctxsys/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ctxsys", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ctxsys", "config.yaml")
	}
	return filepath.Join(home, ".config", "ctxsys", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// precedence in increasing order:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/ctxsys/config.yaml)
//  3. Project config (.ctxsys.yaml in project root)
//  4. Environment variables (CTXSYS_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .ctxsys.yaml or .ctxsys.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".ctxsys.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".ctxsys.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.Summarization.Provider != "" {
		c.Summarization.Provider = other.Summarization.Provider
	}
	if other.Summarization.Model != "" {
		c.Summarization.Model = other.Summarization.Model
	}

	if other.Retrieval.DefaultMaxTokens != 0 {
		c.Retrieval.DefaultMaxTokens = other.Retrieval.DefaultMaxTokens
	}
	if len(other.Retrieval.Strategies) > 0 {
		c.Retrieval.Strategies = other.Retrieval.Strategies
	}
	if len(other.Retrieval.Weights) > 0 {
		for name, w := range other.Retrieval.Weights {
			if c.Retrieval.Weights == nil {
				c.Retrieval.Weights = map[string]float64{}
			}
			c.Retrieval.Weights[name] = w
		}
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.MinScore != 0 {
		c.Retrieval.MinScore = other.Retrieval.MinScore
	}
	if other.Retrieval.Expand {
		c.Retrieval.Expand = other.Retrieval.Expand
	}
	if other.Retrieval.ExpandTokens != 0 {
		c.Retrieval.ExpandTokens = other.Retrieval.ExpandTokens
	}
	if other.Retrieval.Gate {
		c.Retrieval.Gate = other.Retrieval.Gate
	}
	if other.Retrieval.Decompose {
		c.Retrieval.Decompose = other.Retrieval.Decompose
	}
	if other.Retrieval.HyDE {
		c.Retrieval.HyDE = other.Retrieval.HyDE
	}
	if len(other.Retrieval.DecisionStopWords) > 0 {
		c.Retrieval.DecisionStopWords = other.Retrieval.DecisionStopWords
	}

	if len(other.Indexing.Ignore) > 0 {
		c.Indexing.Ignore = other.Indexing.Ignore
	}

	if other.Sessions.Retention != 0 {
		c.Sessions.Retention = other.Sessions.Retention
	}

	if other.Legacy.BleveDir != "" {
		c.Legacy.BleveDir = other.Legacy.BleveDir
	}
	if other.Legacy.HNSWPath != "" {
		c.Legacy.HNSWPath = other.Legacy.HNSWPath
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies CTXSYS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CTXSYS_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("CTXSYS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CTXSYS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CTXSYS_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("CTXSYS_SUMMARIZATION_PROVIDER"); v != "" {
		c.Summarization.Provider = v
	}
	if v := os.Getenv("CTXSYS_SUMMARIZATION_MODEL"); v != "" {
		c.Summarization.Model = v
	}

	if v := os.Getenv("CTXSYS_RETRIEVAL_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.DefaultMaxTokens = n
		}
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_STRATEGIES"); v != "" {
		c.Retrieval.Strategies = splitCSV(v)
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_MIN_SCORE"); v != "" {
		if m, err := parseFloat64(v); err == nil {
			c.Retrieval.MinScore = m
		}
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_EXPAND"); v != "" {
		c.Retrieval.Expand = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_EXPAND_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.ExpandTokens = n
		}
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_GATE"); v != "" {
		c.Retrieval.Gate = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_DECOMPOSE"); v != "" {
		c.Retrieval.Decompose = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("CTXSYS_RETRIEVAL_HYDE"); v != "" {
		c.Retrieval.HyDE = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("CTXSYS_SESSIONS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sessions.Retention = d
		}
	}

	if v := os.Getenv("CTXSYS_LEGACY_BLEVE_DIR"); v != "" {
		c.Legacy.BleveDir = v
	}
	if v := os.Getenv("CTXSYS_LEGACY_HNSW_PATH"); v != "" {
		c.Legacy.HNSWPath = v
	}

	if v := os.Getenv("CTXSYS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// splitCSV splits a comma-separated env var value into a trimmed, non-empty
// string slice.
func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for .git directory or .ctxsys.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".ctxsys.yaml")) ||
			fileExists(filepath.Join(currentDir, ".ctxsys.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
// Advisory only; external indexers use this to pick registration roots.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"}

	var found []string
	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}

	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string
	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}

	return found
}

// isNextJS checks if the project is a Next.js project.
func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	if c.Retrieval.DefaultMaxTokens <= 0 {
		return fmt.Errorf("retrieval.default_max_tokens must be positive, got %d", c.Retrieval.DefaultMaxTokens)
	}
	if c.Retrieval.MinScore < 0 {
		return fmt.Errorf("retrieval.min_score must be non-negative, got %f", c.Retrieval.MinScore)
	}
	for _, name := range c.Retrieval.Strategies {
		if !validStrategyNames[name] {
			return fmt.Errorf("retrieval.strategies: unknown strategy %q", name)
		}
	}
	for name, w := range c.Retrieval.Weights {
		if w < 0 {
			return fmt.Errorf("retrieval.weights[%s] must be non-negative, got %f", name, w)
		}
	}

	validProviders := map[string]bool{"ollama": true, "static": true}
	if c.Embeddings.Provider != "" && !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Summarization.Provider != "" && !validProviders[strings.ToLower(c.Summarization.Provider)] {
		return fmt.Errorf("summarization.provider must be 'ollama' or 'static', got %s", c.Summarization.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

var validStrategyNames = map[string]bool{"lex": true, "vec": true, "graph": true}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing
// values. Returns a list of field names that were added with their default
// values, used when upgrading a config file written by an older version.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Retrieval.DefaultMaxTokens == 0 {
		c.Retrieval.DefaultMaxTokens = defaults.Retrieval.DefaultMaxTokens
		added = append(added, "retrieval.default_max_tokens")
	}
	if len(c.Retrieval.Strategies) == 0 {
		c.Retrieval.Strategies = defaults.Retrieval.Strategies
		added = append(added, "retrieval.strategies")
	}
	if len(c.Retrieval.Weights) == 0 {
		c.Retrieval.Weights = defaults.Retrieval.Weights
		added = append(added, "retrieval.weights")
	}
	if c.Retrieval.RRFConstant == 0 {
		c.Retrieval.RRFConstant = defaults.Retrieval.RRFConstant
		added = append(added, "retrieval.rrf_constant")
	}
	if c.Retrieval.ExpandTokens == 0 {
		c.Retrieval.ExpandTokens = defaults.Retrieval.ExpandTokens
		added = append(added, "retrieval.expand_tokens")
	}
	if len(c.Retrieval.DecisionStopWords) == 0 {
		c.Retrieval.DecisionStopWords = defaults.Retrieval.DecisionStopWords
		added = append(added, "retrieval.decision_stopwords")
	}

	if c.Sessions.Retention == 0 {
		c.Sessions.Retention = defaults.Sessions.Retention
		added = append(added, "sessions.retention")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
		added = append(added, "logging.level")
	}

	return added
}
