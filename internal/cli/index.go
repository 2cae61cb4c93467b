package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/indexer"
)

var indexJSON bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the vector index from the document root",
	Long: `Loads every PDF below <document_root>/<topic>/, splits the pages into
overlapping chunks, embeds them and replaces the index.

Every configured topic must have a directory with at least one PDF. The
previous index stays in place until all chunks have been embedded.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "print the build report as JSON")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := RunIndex(ctx, app)
	if err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	if indexJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	PrintReport(cmd.OutOrStdout(), report)
	return nil
}

// RunIndex rebuilds the index of app.
func RunIndex(ctx context.Context, app *App, opts ...indexer.Option) (*indexer.BuildReport, error) {
	return app.Builder(opts...).Build(ctx)
}

// PrintReport writes a human readable build summary.
func PrintReport(w io.Writer, report *indexer.BuildReport) {
	fmt.Fprintf(w, "Index built in %v\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Topics: %d\n", report.Topics)
	fmt.Fprintf(w, "  Files:  %d\n", report.Files)
	fmt.Fprintf(w, "  Pages:  %d\n", report.Pages)
	fmt.Fprintf(w, "  Chunks: %d\n", report.Chunks)

	topics := make([]string, 0, len(report.ByTopic))
	for t := range report.ByTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		fmt.Fprintf(w, "    %s: %d chunks\n", t, report.ByTopic[t])
	}
}
