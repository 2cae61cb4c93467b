// Package cli implements the docqa command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docrag/internal/config"
	"docrag/internal/logger"
	"docrag/internal/llm"
)

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	// appConfig is loaded before any subcommand runs.
	appConfig *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions about a private PDF corpus",
	Long: `docqa answers questions from a local collection of PDF documents.

Documents live in <document_root>/<topic>/*.pdf. Build the index with
'docqa index', then ask with 'docqa ask' or chat with 'docqa chat'.
Answers are generated by a local Ollama model from retrieved passages only.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./docrag.yaml or ~/.config/docrag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger.SetupLogger(level, cfg.Log.JSON || logJSON)

	appConfig = cfg
	return nil
}

// LoadConfig reads path, or the default locations when path is empty.
func LoadConfig(path string) (*config.AppConfig, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, used, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded config", "path", used)
	return cfg, nil
}

// resolveSelection maps user supplied topic and role names to registry ids,
// falling back to the configured defaults for empty values.
func resolveSelection(cfg *config.AppConfig, topicArg, roleArg string) (string, llm.Role, error) {
	topic := cfg.DefaultTopic
	if topicArg != "" {
		id, ok := cfg.ResolveTopic(topicArg)
		if !ok {
			return "", llm.RoleDefault, fmt.Errorf("unknown topic %q (see 'docqa topics')", topicArg)
		}
		topic = id
	}

	roleID := cfg.DefaultRole
	if roleArg != "" {
		roleID = roleArg
		if id, ok := cfg.ResolveRole(roleArg); ok {
			roleID = id
		}
	}
	return topic, llm.ResolveRole(roleID), nil
}
