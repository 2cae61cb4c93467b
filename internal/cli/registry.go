package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the configured topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printOptions(cmd.OutOrStdout(), "Topics", appConfig.Topics, appConfig.DefaultTopic)
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the configured roles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printOptions(cmd.OutOrStdout(), "Roles", appConfig.Roles, appConfig.DefaultRole)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chunk counts of the index per topic",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Collection %s: %d chunks\n", stats.Collection, stats.Chunks)
	topics := make([]string, 0, len(stats.ByTopic))
	for t := range stats.ByTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		label, ok := appConfig.TopicLabel(t)
		if !ok {
			label = "unregistered"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-28s %-24s %d\n", label, t, stats.ByTopic[t])
	}
	return nil
}
