package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/models"
	"docrag/internal/rag"
)

var (
	askTopic string
	askRole  string
	askJSON  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the indexed documents",
	Long: `Retrieves the passages most relevant to the question, restricted to a
topic when one is given, and asks the local model to answer from them only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askTopic, "topic", "t", "", "topic id or label (default from config)")
	askCmd.Flags().StringVarP(&askRole, "role", "r", "", "role id or label (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

// askResult is the JSON shape of an answer.
type askResult struct {
	Question string            `json:"question"`
	Topic    string            `json:"topic"`
	Role     string            `json:"role"`
	Answer   string            `json:"answer"`
	Sources  []models.Citation `json:"sources"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	topic, role, err := resolveSelection(appConfig, askTopic, askRole)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if secs := appConfig.Ollama.TimeoutSecs; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	app, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Store.Load(ctx); err != nil {
		return fmt.Errorf("%w (run 'docqa index' first)", err)
	}

	ans, err := app.Chain(topic, role).Ask(ctx, question)
	if err != nil {
		return fmt.Errorf("failed to answer: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(askResult{
			Question: question,
			Topic:    topic,
			Role:     role.ID(),
			Answer:   ans.Text,
			Sources:  ans.Citations,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), FormatAnswer(ans))
	return nil
}

// FormatAnswer renders the answer text followed by its sources.
func FormatAnswer(ans *rag.Answer) string {
	var sb strings.Builder

	sb.WriteString(strings.TrimSpace(ans.Text))
	sb.WriteString("\n\n")

	if len(ans.Citations) > 0 {
		sb.WriteString("Sources:\n")
		for i, c := range ans.Citations {
			topic := c.Topic
			if topic == "" {
				topic = "N/A"
			}
			sb.WriteString(fmt.Sprintf("  %d. [%s - %s]\n", i+1, c.Label(), topic))
			if c.Excerpt != "" {
				sb.WriteString(fmt.Sprintf("     %s\n", c.Excerpt))
			}
		}
	}

	return sb.String()
}
