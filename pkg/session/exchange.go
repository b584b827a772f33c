package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/d-lowl/cblit/pkg/contextmgr"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llmerrors"
	"github.com/d-lowl/cblit/pkg/logx"
)

// debugDomain gates prompt-level debug lines.
const debugDomain = "session"

// promptLogChars bounds the prompt text carried by a debug line.
const promptLogChars = 240

// exchangeState is a step of the send/evict loop.
type exchangeState int8

const (
	stateSending exchangeState = iota
	stateCapacityRetry
	stateDone
	stateFailed
)

func (s exchangeState) String() string {
	switch s {
	case stateSending:
		return "sending"
	case stateCapacityRetry:
		return "capacity_retry"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type exchangeResult struct {
	content string
	usage   Usage
}

// errPreflightOverflow stands in for a service rejection when the local estimate is already too large.
var errPreflightOverflow = llmerrors.NewError(llmerrors.ErrorTypeContextOverflow, "estimated prompt exceeds the context window")

// exchange sends the active window until the service accepts it, evicting one
// span per capacity rejection. Turns from pinSeq onwards are never evicted; -1 pins nothing.
func (s *Session) exchange(ctx context.Context, pinSeq int) (exchangeResult, error) {
	var (
		state     = stateSending
		evictions int
		resp      llm.CompletionResponse
		req       llm.CompletionRequest
		cause     error
	)

	for {
		switch state {
		case stateSending:
			if err := ctx.Err(); err != nil {
				cause = err
				state = stateFailed
				continue
			}
			if s.overPreflightBudget() {
				cause = errPreflightOverflow
				state = stateCapacityRetry
				continue
			}

			req = s.request()
			if err := req.Validate(); err != nil {
				return exchangeResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
			s.debugRequest(ctx, req)

			var err error
			resp, err = s.client.Complete(ctx, req)
			switch {
			case err == nil:
				state = stateDone
			case llmerrors.Is(err, llmerrors.ErrorTypeContextOverflow):
				cause = err
				state = stateCapacityRetry
			default:
				cause = err
				state = stateFailed
			}

		case stateCapacityRetry:
			if s.opts.MaxEvictions > 0 && evictions >= s.opts.MaxEvictions {
				return exchangeResult{}, fmt.Errorf("%w: eviction limit of %d reached: %w",
					contextmgr.ErrWindowExhausted, s.opts.MaxEvictions, cause)
			}

			before := s.conv.Active()
			span, err := s.conv.Evict(s.pinLimit(pinSeq))
			if err != nil {
				if errors.Is(err, contextmgr.ErrWindowExhausted) {
					s.logger.Warn("capacity rejection with nothing left to evict after %d evictions", evictions)
					return exchangeResult{}, fmt.Errorf("%w: %w", err, cause)
				}
				return exchangeResult{}, err
			}

			evictions++
			s.recorder.IncEviction(s.Model(), span.Len())
			s.logger.Info("evicted %d turns at %s to relieve capacity (%d active)", span.Len(), span, s.conv.Len())
			s.debugEvicted(ctx, before[span.Start:span.End])
			state = stateSending

		case stateDone:
			usage := s.usageOf(req, resp)
			if resp.LengthLimited() {
				return exchangeResult{}, &LengthLimitedError{Partial: resp.Content, Usage: usage}
			}
			return exchangeResult{content: resp.Content, usage: usage}, nil

		case stateFailed:
			s.logger.Warn("exchange failed: %v", cause)
			return exchangeResult{}, fmt.Errorf("%w: %w", ErrRemoteFailure, cause)
		}
	}
}

func (s *Session) request() llm.CompletionRequest {
	req := llm.NewCompletionRequest(s.conv.Serialize())
	req.MaxTokens = s.opts.MaxReplyTokens
	req.Temperature = s.opts.Temperature
	return req
}

func (s *Session) debugRequest(ctx context.Context, req llm.CompletionRequest) {
	if !logx.IsDebugEnabledForDomain(debugDomain) {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	logx.Debug(ctx, debugDomain, "sending %d messages, last %s turn: %s",
		len(req.Messages), last.Role, llmerrors.SanitizePrompt(last.Content, promptLogChars))
}

func (s *Session) debugEvicted(ctx context.Context, turns []contextmgr.Turn) {
	if !logx.IsDebugEnabledForDomain(debugDomain) {
		return
	}
	for i := range turns {
		logx.Debug(ctx, debugDomain, "evicted seq %d (%s, priority %d): %s",
			turns[i].Seq, turns[i].Role, turns[i].Priority, llmerrors.SanitizePrompt(turns[i].Content, promptLogChars))
	}
}

// pinLimit converts a pinned Seq into the eviction limit over the active window.
func (s *Session) pinLimit(pinSeq int) int {
	if pinSeq < 0 {
		return -1
	}
	if idx := s.conv.IndexOfSeq(pinSeq); idx >= 0 {
		return idx
	}
	return -1
}

func (s *Session) overPreflightBudget() bool {
	if !s.opts.PreflightEviction || s.opts.MaxContextTokens <= 0 {
		return false
	}
	return s.conv.EstimateTokens(s.counter)+s.opts.MaxReplyTokens > s.opts.MaxContextTokens
}

// usageOf prefers the service's accounting and estimates locally when it reported nothing.
func (s *Session) usageOf(req llm.CompletionRequest, resp llm.CompletionResponse) Usage {
	if usage := FromCompletion(resp.Usage); !usage.IsZero() {
		return usage
	}
	prompt := 0
	for i := range req.Messages {
		prompt += s.counter.CountMessage(string(req.Messages[i].Role), req.Messages[i].Content)
	}
	return NewUsage(prompt, s.counter.CountTokens(resp.Content))
}
