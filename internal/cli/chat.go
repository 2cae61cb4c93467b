package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/config"
	"docrag/internal/llm"
	"docrag/internal/rag"
	"docrag/internal/session"
	"docrag/internal/tui"
)

var (
	chatTopic string
	chatRole  string
	chatPlain bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the documents",
	Long: `Starts an interactive conversation. Topic and role can be switched at
any time; switching clears the conversation unless reset_on_switch is false.

Controls (terminal UI):
  Enter   - Ask
  Ctrl+T  - Next topic
  Ctrl+R  - Next role
  Ctrl+K  - Toggle reset on switch
  Ctrl+L  - Clear conversation
  Esc     - Quit

With --plain, a line based prompt is used instead. Commands:
  /topic <id|label>, /role <id|label>, /topics, /roles, /reset, exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatTopic, "topic", "t", "", "initial topic id or label")
	chatCmd.Flags().StringVarP(&chatRole, "role", "r", "", "initial role id or label")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "use a line based prompt instead of the terminal UI")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	topic, role, err := resolveSelection(appConfig, chatTopic, chatRole)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Store.Load(ctx); err != nil {
		return fmt.Errorf("%w (run 'docqa index' first)", err)
	}

	sess := app.NewSession(topic, role)
	if chatPlain {
		return runPlainChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), sess, appConfig)
	}
	return tui.Run(ctx, sess, appConfig)
}

// runPlainChat reads questions line by line until EOF or "exit".
func runPlainChat(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session, cfg *config.AppConfig) error {
	scanner := bufio.NewScanner(in)
	reset := cfg.Reset()

	fmt.Fprintf(out, "%s - ask questions about your documents (type 'exit' to quit)\n", cfg.Title)
	printSelection(out, sess, cfg)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(input)
		if lower == "exit" || lower == "quit" {
			break
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if err := runChatCommand(out, input, sess, cfg, reset); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			continue
		}

		turn, err := sess.Ask(ctx, input)
		if err != nil {
			fmt.Fprintln(out, turn.Text)
			if errors.Is(err, context.Canceled) {
				return err
			}
			continue
		}
		fmt.Fprint(out, FormatAnswer(&rag.Answer{Text: turn.Text, Citations: turn.Citations}))
	}
	return scanner.Err()
}

func runChatCommand(out io.Writer, input string, sess *session.Session, cfg *config.AppConfig, reset bool) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	st := sess.State()

	switch strings.ToLower(name) {
	case "/topics":
		printOptions(out, "Topics", cfg.Topics, st.ActiveTopic)
	case "/roles":
		printOptions(out, "Roles", cfg.Roles, st.ActiveRole.ID())
	case "/reset":
		if err := sess.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Conversation cleared")
	case "/topic":
		topic, ok := cfg.ResolveTopic(arg)
		if !ok {
			return fmt.Errorf("unknown topic %q", arg)
		}
		return switchTo(out, sess, cfg, topic, st.ActiveRole, reset)
	case "/role":
		roleID, ok := cfg.ResolveRole(arg)
		if !ok {
			return fmt.Errorf("unknown role %q", arg)
		}
		return switchTo(out, sess, cfg, st.ActiveTopic, llm.ResolveRole(roleID), reset)
	default:
		return fmt.Errorf("unknown command %s", name)
	}
	return nil
}

func switchTo(out io.Writer, sess *session.Session, cfg *config.AppConfig, topic string, role llm.Role, reset bool) error {
	changed, err := sess.Select(topic, role, reset)
	if err != nil {
		return err
	}
	if changed {
		printSelection(out, sess, cfg)
		if reset {
			fmt.Fprintln(out, "Conversation cleared")
		}
	}
	return nil
}

func printSelection(out io.Writer, sess *session.Session, cfg *config.AppConfig) {
	st := sess.State()
	topic, _ := cfg.TopicLabel(st.ActiveTopic)
	role, ok := cfg.RoleLabel(st.ActiveRole.ID())
	if !ok {
		role = st.ActiveRole.ID()
	}
	fmt.Fprintf(out, "Topic: %s, role: %s\n", topic, role)
}

func printOptions(out io.Writer, title string, opts []config.Option, active string) {
	fmt.Fprintf(out, "%s:\n", title)
	for _, o := range opts {
		marker := " "
		if o.ID == active {
			marker = "*"
		}
		id := o.ID
		if id == "" {
			id = "(all)"
		}
		fmt.Fprintf(out, " %s %-28s %s\n", marker, o.Label, id)
	}
}
