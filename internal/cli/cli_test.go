package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/config"
	"docrag/internal/database"
	"docrag/internal/models"
	"docrag/internal/rag"
)

var vocabulary = []string{"pump", "seal", "travel", "expense"}

// keywordEmbedder embeds text as keyword counts plus a constant component.
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedText(_ context.Context, text string) ([]float64, error) {
	lower := strings.ToLower(text)
	vec := make([]float64, len(vocabulary)+1)
	for i, w := range vocabulary {
		vec[i] = float64(strings.Count(lower, w))
	}
	vec[len(vocabulary)] = 0.1
	return vec, nil
}

type fixedGenerator struct{ prompts []string }

func (g *fixedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return "The pump runs at 40 bar.", nil
}

type corpusLoader struct{}

func (corpusLoader) LoadPages(_ context.Context, path, topic string) ([]models.SourceDocument, error) {
	name := filepath.Base(path)
	pages := map[string][]string{
		"manual.pdf": {"Pump operation. The pump runs at 40 bar.", "Seal maintenance every 500 hours."},
		"policy.pdf": {"Travel expense rules for all staff."},
	}[name]
	var docs []models.SourceDocument
	for i, p := range pages {
		docs = append(docs, models.SourceDocument{Text: p, SourceFile: name, Page: i, Topic: topic})
	}
	return docs, nil
}

// setupTestApp writes a corpus and a config file and replaces the service
// wiring with in-process fakes backed by a real SQLite index.
func setupTestApp(t *testing.T) (string, *fixedGenerator) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	for topic, file := range map[string]string{"manual": "manual.pdf", "policy": "policy.pdf"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, topic), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, topic, file), []byte("%PDF-1.4"), 0o644))
	}

	cfgPath := filepath.Join(dir, "docrag.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
document_root: `+root+`
index:
  persist_dir: `+filepath.Join(dir, "index")+`
topics:
  - label: Manual
    id: manual
  - label: Policies
    id: policy
roles:
  - label: Default
    id: default
  - label: Technician
    id: technician
  - label: Manager
    id: manager
log:
  level: error
`), 0o644))

	gen := &fixedGenerator{}
	prev := newApp
	newApp = func(_ context.Context, cfg *config.AppConfig) (*App, error) {
		return &App{
			Config:    cfg,
			Store:     database.NewSQLiteStore(cfg.Index.PersistDir, cfg.Index.Collection),
			Embedder:  keywordEmbedder{},
			Generator: gen,
			Loader:    corpusLoader{},
		}, nil
	}
	t.Cleanup(func() { newApp = prev })
	return cfgPath, gen
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel, logJSON = "", "", false
	askTopic, askRole, askJSON = "", "", false
	chatTopic, chatRole, chatPlain = "", "", false
	indexJSON = false

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommands_Metadata(t *testing.T) {
	assert.Equal(t, "docqa", rootCmd.Use)
	assert.Equal(t, "ask [question]", askCmd.Use)
	for _, name := range []string{"index", "ask", "chat", "topics", "roles", "stats"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	flag := askCmd.Flags().Lookup("topic")
	require.NotNil(t, flag)
	assert.Equal(t, "t", flag.Shorthand)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestIndexAndAsk(t *testing.T) {
	t.Run("Should build the index and answer with sources", func(t *testing.T) {
		cfgPath, gen := setupTestApp(t)

		out, err := execute(t, "", "--config", cfgPath, "index")
		require.NoError(t, err)
		assert.Contains(t, out, "Files:  2")
		assert.Contains(t, out, "Pages:  3")
		assert.Contains(t, out, "manual:")

		out, err = execute(t, "", "--config", cfgPath, "ask", "--topic", "Manual", "How", "high", "is", "the", "pump", "pressure?")
		require.NoError(t, err)
		assert.Contains(t, out, "The pump runs at 40 bar.")
		assert.Contains(t, out, "Sources:")
		assert.Contains(t, out, "manual.pdf, page 1")
		assert.NotContains(t, out, "policy.pdf")

		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "Question:\nHow high is the pump pressure?")
	})

	t.Run("Should print JSON with the resolved role", func(t *testing.T) {
		cfgPath, _ := setupTestApp(t)
		_, err := execute(t, "", "--config", cfgPath, "index")
		require.NoError(t, err)

		out, err := execute(t, "", "--config", cfgPath, "ask", "--json", "--role", "Technician", "pump?")
		require.NoError(t, err)

		var res askResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, "technician", res.Role)
		assert.Equal(t, "", res.Topic)
		assert.NotEmpty(t, res.Sources)
	})

	t.Run("Should fall back to the default role for an unknown role", func(t *testing.T) {
		cfgPath, gen := setupTestApp(t)
		_, err := execute(t, "", "--config", cfgPath, "index")
		require.NoError(t, err)

		_, err = execute(t, "", "--config", cfgPath, "ask", "--role", "intern", "pump?")
		require.NoError(t, err)
		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "Answer neutrally")
	})

	t.Run("Should ask for an index build first", func(t *testing.T) {
		cfgPath, _ := setupTestApp(t)
		_, err := execute(t, "", "--config", cfgPath, "ask", "pump?")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrIndexUnavailable)
		assert.Contains(t, err.Error(), "docqa index")
	})

	t.Run("Should reject an unknown topic", func(t *testing.T) {
		cfgPath, _ := setupTestApp(t)
		_, err := execute(t, "", "--config", cfgPath, "ask", "--topic", "hr", "pump?")
		assert.ErrorContains(t, err, `unknown topic "hr"`)
	})

	t.Run("Should require a question", func(t *testing.T) {
		cfgPath, _ := setupTestApp(t)
		_, err := execute(t, "", "--config", cfgPath, "ask")
		assert.ErrorContains(t, err, "requires at least 1 arg(s)")
	})
}

func TestIndex_MissingTopicDirectory(t *testing.T) {
	cfgPath, _ := setupTestApp(t)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(cfg.DocumentRoot, "policy")))

	_, err = execute(t, "", "--config", cfgPath, "index")
	assert.ErrorIs(t, err, models.ErrMissingTopicDirectory)
}

func TestRegistriesAndStats(t *testing.T) {
	cfgPath, _ := setupTestApp(t)

	out, err := execute(t, "", "--config", cfgPath, "topics")
	require.NoError(t, err)
	assert.Contains(t, out, config.AllTopicsLabel)
	assert.Contains(t, out, "Manual")
	assert.Contains(t, out, "policy")

	out, err = execute(t, "", "--config", cfgPath, "roles")
	require.NoError(t, err)
	assert.Contains(t, out, "Technician")

	_, err = execute(t, "", "--config", cfgPath, "stats")
	assert.ErrorIs(t, err, models.ErrIndexUnavailable)

	_, err = execute(t, "", "--config", cfgPath, "index")
	require.NoError(t, err)
	out, err = execute(t, "", "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Collection engineering_docs: 3 chunks")
	assert.Contains(t, out, "Policies")
}

func TestChat_Plain(t *testing.T) {
	cfgPath, gen := setupTestApp(t)
	_, err := execute(t, "", "--config", cfgPath, "index")
	require.NoError(t, err)

	script := strings.Join([]string{
		"/topic Manual",
		"/role manager",
		"pump pressure?",
		"/nope",
		"exit",
	}, "\n")
	out, err := execute(t, script, "--config", cfgPath, "chat", "--plain")
	require.NoError(t, err)

	assert.Contains(t, out, "Topic: All documents, role: Default")
	assert.Contains(t, out, "Topic: Manual, role: Default")
	assert.Contains(t, out, "Topic: Manual, role: Manager")
	assert.Contains(t, out, "The pump runs at 40 bar.")
	assert.Contains(t, out, "Error: unknown command /nope")
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Answer briefly and clearly")
}

func TestFormatAnswer(t *testing.T) {
	out := FormatAnswer(&rag.Answer{
		Text: "  Every 500 hours.\n",
		Citations: []models.Citation{
			{SourceFile: "manual.pdf", Page: 4, Topic: "manual", Excerpt: "Seal maintenance every 500 hours."},
		},
	})
	assert.Equal(t, "Every 500 hours.\n\nSources:\n"+
		"  1. [manual.pdf, page 5 - manual]\n"+
		"     Seal maintenance every 500 hours.\n", out)

	assert.Equal(t, "No idea.\n\n", FormatAnswer(&rag.Answer{Text: "No idea."}))
}
