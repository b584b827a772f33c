// Package session orchestrates one continuous dialogue with a remote text-generation service.
//
// A Session owns a conversation and its usage counters. Send, Next and Regenerate
// are the only mutators; capacity rejections are recovered by evicting the
// lowest-priority exchange and resending. A Session is single-writer: calls must
// not overlap, and overlapping calls fail with ErrConcurrentUse.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/contextmgr"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/logx"
	"github.com/d-lowl/cblit/pkg/metrics"
	"github.com/d-lowl/cblit/pkg/utils"
)

// Options tune a session's exchanges.
type Options struct {
	MaxReplyTokens    int
	Temperature       float32
	MaxEvictions      int  // 0 evicts until the window is exhausted
	PreflightEviction bool // evict before sending when the estimate exceeds MaxContextTokens
	MaxContextTokens  int
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{
		MaxReplyTokens: config.DefaultMaxReplyTokens,
		Temperature:    config.DefaultTemperature,
	}
}

// OptionsFromConfig converts the session section of the configuration. The
// context budget is resolved against the configured model.
func OptionsFromConfig(cfg *config.Config) Options {
	sc := cfg.Session
	return Options{
		MaxReplyTokens:    sc.MaxReplyTokens,
		Temperature:       sc.Temperature,
		MaxEvictions:      sc.MaxEvictions,
		PreflightEviction: sc.PreflightEviction,
		MaxContextTokens:  cfg.ContextWindow(),
	}
}

// Option configures a Session.
type Option func(*Session)

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithOptions replaces the exchange options.
func WithOptions(opts Options) Option {
	return func(s *Session) { s.opts = opts }
}

// WithLogger replaces the session logger.
func WithLogger(l *logx.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithRecorder records evictions and regenerations.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithTokenCounter sets the counter used for preflight estimates and usage fallback.
func WithTokenCounter(c *utils.TokenCounter) Option {
	return func(s *Session) { s.counter = c }
}

// Session is one dialogue with the remote service.
type Session struct {
	id       string
	client   llm.LLMClient
	conv     *contextmgr.Conversation
	usage    Usage
	opts     Options
	logger   *logx.Logger
	recorder metrics.Recorder
	counter  *utils.TokenCounter
	busy     atomic.Bool
}

// New creates a session with an empty conversation.
func New(client llm.LLMClient, opts ...Option) *Session {
	return newSession(client, contextmgr.NewConversation(), Usage{}, opts)
}

// NewWithSystem creates a session seeded with a critical system turn.
func NewWithSystem(client llm.LLMClient, systemPrompt string, opts ...Option) *Session {
	return newSession(client, contextmgr.NewConversationWithSystem(systemPrompt), Usage{}, opts)
}

func newSession(client llm.LLMClient, conv *contextmgr.Conversation, usage Usage, opts []Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		client:   client,
		conv:     conv,
		usage:    usage,
		opts:     DefaultOptions(),
		recorder: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logx.NewLogger("session").With("session_id", s.id).With("model", s.Model())
	}
	if s.counter == nil {
		// A nil counter falls back to a character estimate.
		s.counter, _ = utils.NewTokenCounter(s.Model())
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Model returns the remote model name.
func (s *Session) Model() string {
	return s.client.GetModelName()
}

// Usage returns the accumulated usage.
func (s *Session) Usage() Usage {
	return s.usage
}

// Cost returns the accumulated cost in USD, zero for models without pricing.
func (s *Session) Cost() float64 {
	return config.CalculateCost(s.Model(), s.usage.PromptUnits, s.usage.CompletionUnits)
}

// Conversation returns a copy of the conversation.
func (s *Session) Conversation() *contextmgr.Conversation {
	return s.conv.Clone()
}

// Send appends a user turn at priority and returns the reply. The reply is
// appended at the same priority; at PriorityForget the user turn leaves the
// active window once answered and the reply is kept in the full history only.
func (s *Session) Send(ctx context.Context, content string, priority int) (string, error) {
	if err := s.enter(); err != nil {
		return "", err
	}
	defer s.leave()
	return s.send(logx.WithSessionID(ctx, s.id), content, priority)
}

// Forget sends content at PriorityForget.
func (s *Session) Forget(ctx context.Context, content string) (string, error) {
	return s.Send(ctx, content, contextmgr.PriorityForget)
}

// Next re-issues the exchange on the current window without a new user turn.
func (s *Session) Next(ctx context.Context, priority int) (string, error) {
	if err := s.enter(); err != nil {
		return "", err
	}
	defer s.leave()
	ctx = logx.WithSessionID(ctx, s.id)

	pin := -1
	if user, err := s.conv.Last(contextmgr.RoleUser); err == nil {
		pin = user.Seq
	}

	reply, err := s.exchange(ctx, pin)
	if err != nil {
		return "", err
	}
	s.commit(reply, -1, priority)
	return reply.content, nil
}

// Regenerate rewinds the most recent user turn and its reply out of the active
// window and resends the same content at the same priority.
func (s *Session) Regenerate(ctx context.Context) (string, error) {
	if err := s.enter(); err != nil {
		return "", err
	}
	defer s.leave()
	ctx = logx.WithSessionID(ctx, s.id)

	user, err := s.conv.LastInHistory(contextmgr.RoleUser)
	if err != nil {
		return "", fmt.Errorf("nothing to regenerate: %w", err)
	}

	removed := s.conv.RewindTo(user.Seq)
	s.recorder.IncRegeneration(s.Model(), "regenerate")
	s.logger.Debug("regenerating turn %d (%d active turns rewound)", user.Seq, removed)

	return s.send(ctx, user.Content, user.Priority)
}

func (s *Session) send(ctx context.Context, content string, priority int) (string, error) {
	s.conv.Append(contextmgr.RoleUser, content, priority)
	user, _ := s.conv.Last()

	reply, err := s.exchange(ctx, user.Seq)
	if err != nil {
		// The window never holds an unanswered user turn; the full history keeps it for Regenerate.
		s.conv.RemoveSeq(user.Seq)
		return "", err
	}
	s.commit(reply, user.Seq, priority)
	return reply.content, nil
}

// commit appends the reply and merges its usage. userSeq is the turn that
// prompted it, or -1 for a continuation.
func (s *Session) commit(reply exchangeResult, userSeq, priority int) {
	s.usage.Add(reply.usage)

	if priority == contextmgr.PriorityForget {
		if userSeq >= 0 {
			s.conv.RemoveSeq(userSeq)
		}
		s.conv.Record(contextmgr.RoleAssistant, reply.content, priority)
		return
	}
	s.conv.Append(contextmgr.RoleAssistant, reply.content, priority)
}

func (s *Session) enter() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	return nil
}

func (s *Session) leave() {
	s.busy.Store(false)
}
