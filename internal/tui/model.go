package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/config"
	"docrag/internal/llm"
	"docrag/internal/logger"
	"docrag/internal/models"
	"docrag/internal/session"
)

// answerMsg carries the outcome of a question asked in the background.
type answerMsg struct {
	turn models.Turn
	err  error
}

// Model is the Bubble Tea model of the chat view.
type Model struct {
	ctx     context.Context
	session *session.Session
	title   string
	topics  []config.Option
	roles   []config.Option

	topicIdx int
	roleIdx  int
	reset    bool

	keys     KeyMap
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	waiting  bool
	status   string
	ready    bool
}

// New creates the chat model. The session's active topic and role select
// the initial registry entries.
func New(ctx context.Context, sess *session.Session, cfg *config.AppConfig) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the documents"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		session:  sess,
		title:    cfg.Title,
		topics:   cfg.Topics,
		roles:    cfg.Roles,
		reset:    cfg.Reset(),
		keys:     DefaultKeyMap(),
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Ready.",
	}

	st := sess.State()
	for i, t := range m.topics {
		if t.ID == st.ActiveTopic {
			m.topicIdx = i
		}
	}
	for i, r := range m.roles {
		if r.ID == st.ActiveRole.ID() {
			m.roleIdx = i
		}
	}
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 3 + 1 + ih + 1 // header lines, input line, status
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case answerMsg:
		m.waiting = false
		switch {
		case msg.err == nil:
			m.status = fmt.Sprintf("Answered with %d source(s).", len(msg.turn.Citations))
		case errors.Is(msg.err, models.ErrSessionBusy):
			m.status = "Still answering the previous question."
		default:
			m.status = "Error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Ask):
			return m.ask()
		case key.Matches(msg, m.keys.NextTopic):
			if len(m.topics) > 0 {
				m.selectOption((m.topicIdx+1)%len(m.topics), m.roleIdx)
			}
			return m, nil
		case key.Matches(msg, m.keys.NextRole):
			if len(m.roles) > 0 {
				m.selectOption(m.topicIdx, (m.roleIdx+1)%len(m.roles))
			}
			return m, nil
		case key.Matches(msg, m.keys.ToggleKeep):
			m.reset = !m.reset
			m.status = fmt.Sprintf("Reset chat on switch: %v", m.reset)
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			if err := m.session.Reset(); err != nil {
				m.status = "Error: " + err.Error()
			} else {
				m.status = "Chat cleared."
			}
			m.refresh()
			return m, nil
		case key.Matches(msg, m.keys.ScrollUp):
			m.viewport.HalfViewUp()
			return m, nil
		case key.Matches(msg, m.keys.ScrollDown):
			m.viewport.HalfViewDown()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" {
		return m, nil
	}
	if m.waiting {
		m.status = "Still answering the previous question."
		return m, nil
	}
	m.input.SetValue("")
	m.waiting = true
	m.status = "Thinking..."

	ctx, sess := m.ctx, m.session
	askCmd := func() tea.Msg {
		turn, err := sess.Ask(ctx, q)
		return answerMsg{turn: turn, err: err}
	}
	// The user turn is recorded as soon as Ask starts; show the question right away.
	m.viewport.SetContent(m.renderTranscript(q))
	m.viewport.GotoBottom()
	return m, tea.Batch(askCmd, m.spinner.Tick)
}

func (m *Model) selectOption(topicIdx, roleIdx int) {
	topic := m.topics[topicIdx].ID
	role := llm.ResolveRole(m.roles[roleIdx].ID)

	changed, err := m.session.Select(topic, role, m.reset)
	if err != nil {
		if errors.Is(err, models.ErrSessionBusy) {
			m.status = "Wait for the current answer before switching."
		} else {
			m.status = "Error: " + err.Error()
		}
		return
	}
	m.topicIdx, m.roleIdx = topicIdx, roleIdx
	if changed {
		m.status = fmt.Sprintf("Topic %s, role %s.", m.topics[topicIdx].Label, m.roles[roleIdx].Label)
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript(""))
	m.viewport.GotoBottom()
}

// View renders header, transcript, input and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := titleStyle.Render(m.title)
	selection := mutedStyle.Render(fmt.Sprintf("Topic: %s   Role: %s   Reset on switch: %v",
		m.optionLabel(m.topics, m.topicIdx), m.optionLabel(m.roles, m.roleIdx), m.reset))

	var help []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}

	status := m.status
	if m.waiting {
		status = m.spinner.View() + " " + status
	}

	return header + "\n" +
		selection + "\n" +
		mutedStyle.Render(strings.Join(help, " • ")) + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m Model) optionLabel(opts []config.Option, idx int) string {
	if idx < 0 || idx >= len(opts) {
		return "-"
	}
	return opts[idx].Label
}

// renderTranscript renders the session transcript. pending is a question
// that has been submitted but may not be recorded yet.
func (m Model) renderTranscript(pending string) string {
	msgs := m.session.State().Messages
	if len(msgs) == 0 && pending == "" {
		return mutedStyle.Render("No messages yet.")
	}

	var b strings.Builder
	for _, t := range msgs {
		writeTurn(&b, t)
	}
	if pending != "" && (len(msgs) == 0 || msgs[len(msgs)-1].Text != pending) {
		writeTurn(&b, models.Turn{Speaker: models.SpeakerUser, Text: pending})
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTurn(b *strings.Builder, t models.Turn) {
	switch {
	case t.Speaker == models.SpeakerUser:
		b.WriteString(userStyle.Render("You"))
		b.WriteString("\n" + t.Text + "\n\n")
	case t.Failed:
		b.WriteString(assistantStyle.Render("Assistant"))
		b.WriteString("\n" + errorStyle.Render(t.Text) + "\n\n")
	default:
		b.WriteString(assistantStyle.Render("Assistant"))
		b.WriteString("\n" + t.Text + "\n")
		if len(t.Citations) > 0 {
			b.WriteString(mutedStyle.Render("Sources:") + "\n")
			for i, c := range t.Citations {
				fmt.Fprintf(b, "  %d. %s\n", i+1, sourceStyle.Render(c.Label()))
				fmt.Fprintf(b, "     %s\n", mutedStyle.Render(c.Excerpt))
			}
		}
		b.WriteString("\n")
	}
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Run starts the chat program and blocks until the user quits.
func Run(ctx context.Context, sess *session.Session, cfg *config.AppConfig) error {
	restore, err := redirectLogs(cfg.Log)
	if err != nil {
		return err
	}
	defer restore()

	p := tea.NewProgram(New(ctx, sess, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

// redirectLogs points the process logger at cfg.File, or discards its
// output, until the returned function is called.
func redirectLogs(cfg config.LogConfig) (func(), error) {
	var (
		out       io.Writer = io.Discard
		closeFile           = func() {}
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFile = func() { _ = f.Close() }
	}

	prev := logger.GetDefault()
	logger.Set(logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		Output:     out,
		JSON:       cfg.JSON,
		TimeFormat: logger.DefaultConfig().TimeFormat,
	}))
	return func() {
		logger.Set(prev)
		closeFile()
	}, nil
}
