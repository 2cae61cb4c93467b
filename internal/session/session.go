// Package session holds the conversation state of one user: the active
// topic and role, the answering chain built for them and the transcript.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"docrag/internal/llm"
	"docrag/internal/models"
	"docrag/internal/rag"
)

// FailurePrefix starts the assistant turn recorded for a failed question.
const FailurePrefix = "No answer could be produced: "

// ErrEmptyQuestion is returned for blank questions; nothing is recorded.
var ErrEmptyQuestion = errors.New("empty question")

// Answerer answers one question.
type Answerer interface {
	Ask(ctx context.Context, question string) (*rag.Answer, error)
}

// ChainFactory builds the answering chain for a topic and role.
type ChainFactory func(topic string, role llm.Role) Answerer

// State is a snapshot of a session.
type State struct {
	ActiveTopic string        `json:"active_topic"`
	ActiveRole  llm.Role      `json:"active_role"`
	Messages    []models.Turn `json:"messages"`
}

type Session struct {
	busy sync.Mutex

	mu       sync.RWMutex
	factory  ChainFactory
	topic    string
	role     llm.Role
	chain    Answerer
	messages []models.Turn
	now      func() time.Time
}

// New starts a session with an empty transcript.
func New(factory ChainFactory, topic string, role llm.Role) *Session {
	return &Session{
		factory: factory,
		topic:   topic,
		role:    role,
		chain:   factory(topic, role),
		now:     time.Now,
	}
}

// Select switches topic and role. The chain is rebuilt only when either
// changes, and the transcript is cleared only when reset is also set.
// It reports whether anything changed.
func (s *Session) Select(topic string, role llm.Role, reset bool) (bool, error) {
	if !s.busy.TryLock() {
		return false, models.ErrSessionBusy
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if topic == s.topic && role == s.role {
		return false, nil
	}
	s.topic, s.role = topic, role
	s.chain = s.factory(topic, role)
	if reset {
		s.messages = nil
	}
	return true, nil
}

// Ask records the question, answers it and records the answer. When the
// chain fails, an assistant turn flagged Failed is recorded and the error
// is returned as well.
func (s *Session) Ask(ctx context.Context, question string) (models.Turn, error) {
	if strings.TrimSpace(question) == "" {
		return models.Turn{}, ErrEmptyQuestion
	}
	if !s.busy.TryLock() {
		return models.Turn{}, models.ErrSessionBusy
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	chain := s.chain
	s.messages = append(s.messages, models.Turn{
		Speaker: models.SpeakerUser,
		Text:    question,
		At:      s.now(),
	})
	s.mu.Unlock()

	ans, err := chain.Ask(ctx, question)
	if err == nil {
		err = ctx.Err()
	}

	turn := models.Turn{Speaker: models.SpeakerAssistant, At: s.now()}
	if err != nil {
		turn.Text = FailurePrefix + err.Error()
		turn.Failed = true
	} else {
		turn.Text = ans.Text
		turn.Citations = ans.Citations
	}

	s.mu.Lock()
	s.messages = append(s.messages, turn)
	s.mu.Unlock()

	return turn, err
}

// Reset clears the transcript.
func (s *Session) Reset() error {
	if !s.busy.TryLock() {
		return models.ErrSessionBusy
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
	return nil
}

// Busy reports whether a question is in flight.
func (s *Session) Busy() bool {
	if s.busy.TryLock() {
		s.busy.Unlock()
		return false
	}
	return true
}

// State returns a snapshot. The transcript slice is a copy.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]models.Turn, len(s.messages))
	copy(msgs, s.messages)
	return State{ActiveTopic: s.topic, ActiveRole: s.role, Messages: msgs}
}
