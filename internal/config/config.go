package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ollama/ollama/envconfig"
	"gopkg.in/yaml.v3"
)

// Option is one entry of an ordered label -> id registry.
type Option struct {
	Label string `yaml:"label"`
	ID    string `yaml:"id"`
}

// OllamaConfig configures the local model server.
type OllamaConfig struct {
	Host           string  `yaml:"host"`
	LLMModel       string  `yaml:"llm_model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	NumPredict     int     `yaml:"num_predict"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
}

// ChunkerConfig configures how pages are split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// RetrievalConfig configures MMR retrieval.
type RetrievalConfig struct {
	K      int     `yaml:"k"`
	FetchK int     `yaml:"fetch_k"`
	Lambda float64 `yaml:"lambda"`
}

// PostgresConfig holds the pgvector connection string.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend    string          `yaml:"backend"`
	PersistDir string          `yaml:"persist_dir"`
	Collection string          `yaml:"collection"`
	Postgres   *PostgresConfig `yaml:"postgres,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// File receives log output while the terminal UI owns the screen.
	// Empty discards it.
	File string `yaml:"file,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Title         string          `yaml:"title"`
	DocumentRoot  string          `yaml:"document_root"`
	Index         IndexConfig     `yaml:"index"`
	Ollama        OllamaConfig    `yaml:"ollama"`
	Chunker       ChunkerConfig   `yaml:"chunker"`
	Retrieval     RetrievalConfig `yaml:"retrieval"`
	Topics        []Option        `yaml:"topics"`
	Roles         []Option        `yaml:"roles"`
	DefaultTopic  string          `yaml:"default_topic"`
	DefaultRole   string          `yaml:"default_role"`
	ResetOnSwitch *bool           `yaml:"reset_on_switch,omitempty"`
	Log           LogConfig       `yaml:"log"`
}

const (
	defaultTemperature = 0.2
	defaultOverlap     = 200
	defaultLambda      = 0.5
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	AllTopicsLabel = "All documents"
)

// Load reads a config from path. A missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	// Values that may legitimately be zero are pre-filled, so only keys
	// present in the file override them.
	cfg := AppConfig{
		Ollama:    OllamaConfig{Temperature: defaultTemperature},
		Chunker:   ChunkerConfig{Overlap: defaultOverlap},
		Retrieval: RetrievalConfig{Lambda: defaultLambda},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./docrag.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "docrag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks registry and backend consistency.
func (c *AppConfig) Validate() error {
	switch c.Index.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Index.Postgres == nil || c.Index.Postgres.DSN == "" {
			return errors.New("postgres backend requires index.postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if c.Retrieval.Lambda < 0 || c.Retrieval.Lambda > 1 {
		return fmt.Errorf("retrieval.lambda (%g) must be within [0, 1]", c.Retrieval.Lambda)
	}
	if c.Ollama.Temperature < 0 {
		return fmt.Errorf("ollama.temperature (%g) must not be negative", c.Ollama.Temperature)
	}
	if c.Chunker.Overlap < 0 {
		return fmt.Errorf("chunker.overlap (%d) must not be negative", c.Chunker.Overlap)
	}
	if c.Retrieval.FetchK < c.Retrieval.K {
		return fmt.Errorf("retrieval.fetch_k (%d) must be >= retrieval.k (%d)", c.Retrieval.FetchK, c.Retrieval.K)
	}
	if err := checkRegistry("topics", c.Topics, true); err != nil {
		return err
	}
	if err := checkRegistry("roles", c.Roles, false); err != nil {
		return err
	}
	if _, ok := c.TopicLabel(c.DefaultTopic); !ok {
		return fmt.Errorf("default_topic %q is not a registered topic", c.DefaultTopic)
	}
	return nil
}

func checkRegistry(name string, opts []Option, allowEmptyID bool) error {
	labels := make(map[string]bool, len(opts))
	ids := make(map[string]bool, len(opts))
	for _, o := range opts {
		if o.Label == "" {
			return fmt.Errorf("%s: entry with id %q has no label", name, o.ID)
		}
		if o.ID == "" && !allowEmptyID {
			return fmt.Errorf("%s: entry %q has no id", name, o.Label)
		}
		if labels[o.Label] {
			return fmt.Errorf("%s: duplicate label %q", name, o.Label)
		}
		if ids[o.ID] {
			return fmt.Errorf("%s: duplicate id %q", name, o.ID)
		}
		labels[o.Label] = true
		ids[o.ID] = true
	}
	return nil
}

// TopicIDs returns the ids of all real topics, skipping the no-filter entry.
func (c *AppConfig) TopicIDs() []string {
	var ids []string
	for _, t := range c.Topics {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// TopicLabel returns the label registered for a topic id.
func (c *AppConfig) TopicLabel(id string) (string, bool) {
	return lookupLabel(c.Topics, id)
}

// RoleLabel returns the label registered for a role id.
func (c *AppConfig) RoleLabel(id string) (string, bool) {
	return lookupLabel(c.Roles, id)
}

// ResolveTopic accepts either a topic id or a label (case-insensitive) and returns the id.
func (c *AppConfig) ResolveTopic(s string) (string, bool) {
	return resolve(c.Topics, s)
}

// ResolveRole accepts either a role id or a label (case-insensitive) and returns the id.
func (c *AppConfig) ResolveRole(s string) (string, bool) {
	return resolve(c.Roles, s)
}

// Reset reports whether the transcript is cleared when topic or role changes.
func (c *AppConfig) Reset() bool {
	return c.ResetOnSwitch == nil || *c.ResetOnSwitch
}

func lookupLabel(opts []Option, id string) (string, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o.Label, true
		}
	}
	return "", false
}

func resolve(opts []Option, s string) (string, bool) {
	for _, o := range opts {
		if o.ID == s {
			return o.ID, true
		}
	}
	for _, o := range opts {
		if strings.EqualFold(o.Label, s) {
			return o.ID, true
		}
	}
	return "", false
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Title:        "Local RAG assistant",
		DocumentRoot: "data",
		Index: IndexConfig{
			Backend:    BackendSQLite,
			PersistDir: "chroma_db",
			Collection: "engineering_docs",
		},
		Ollama: OllamaConfig{
			LLMModel:       "llama3.2",
			EmbeddingModel: "mxbai-embed-large",
			Temperature:    defaultTemperature,
		},
		Chunker:   ChunkerConfig{Overlap: defaultOverlap},
		Retrieval: RetrievalConfig{Lambda: defaultLambda},
		Topics: []Option{
			{Label: AllTopicsLabel, ID: ""},
			{Label: "User guide", ID: "Benutzereinleitung"},
			{Label: "Functional description", ID: "Fachliche_Beschreibung"},
		},
		Roles: []Option{
			{Label: "Default", ID: "default"},
			{Label: "Technician", ID: "technician"},
			{Label: "Manager", ID: "manager"},
		},
		DefaultRole: "default",
		Log:         LogConfig{Level: "info"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Title == "" {
		cfg.Title = "Local RAG assistant"
	}
	if cfg.DocumentRoot == "" {
		cfg.DocumentRoot = "data"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendSQLite
	}
	if cfg.Index.PersistDir == "" {
		cfg.Index.PersistDir = "chroma_db"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "engineering_docs"
	}
	if cfg.Ollama.LLMModel == "" {
		cfg.Ollama.LLMModel = "llama3.2"
	}
	if cfg.Ollama.EmbeddingModel == "" {
		cfg.Ollama.EmbeddingModel = "mxbai-embed-large"
	}
	if cfg.Ollama.NumPredict == 0 {
		cfg.Ollama.NumPredict = 1024
	}
	if cfg.Ollama.MaxConcurrent == 0 {
		cfg.Ollama.MaxConcurrent = 3
	}
	if cfg.Ollama.MaxRetries == 0 {
		cfg.Ollama.MaxRetries = 3
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = 120
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}
	if cfg.Retrieval.FetchK == 0 {
		cfg.Retrieval.FetchK = 10
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = []Option{{Label: "Default", ID: "default"}}
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = cfg.Roles[0].ID
	}
	// The no-filter topic must always be selectable.
	if _, ok := lookupLabel(cfg.Topics, ""); !ok {
		cfg.Topics = append([]Option{{Label: AllTopicsLabel, ID: ""}}, cfg.Topics...)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("DOCRAG_DOCUMENT_ROOT"); v != "" {
		cfg.DocumentRoot = v
	}
	if v := os.Getenv("DOCRAG_PERSIST_DIR"); v != "" {
		cfg.Index.PersistDir = v
	}
	if v := os.Getenv("DOCRAG_PG_DSN"); v != "" {
		cfg.Index.Backend = BackendPostgres
		cfg.Index.Postgres = &PostgresConfig{DSN: v}
	}
	if v := os.Getenv("DOCRAG_LLM_MODEL"); v != "" {
		cfg.Ollama.LLMModel = v
	}
	if v := os.Getenv("DOCRAG_EMBEDDING_MODEL"); v != "" {
		cfg.Ollama.EmbeddingModel = v
	}
}

// ResolveOllamaHost parses host, or returns the OLLAMA_HOST default when host is empty.
func ResolveOllamaHost(host string) (*url.URL, error) {
	if host == "" {
		return envconfig.Host(), nil
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return u, nil
}
