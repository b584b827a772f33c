package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/llm/middleware/resilience/ratelimit"
	"github.com/d-lowl/cblit/pkg/llmerrors"
	"github.com/d-lowl/cblit/pkg/persistence"
	"github.com/d-lowl/cblit/pkg/session"
)

func usage(prompt, completion int) llm.Usage {
	return llm.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func runREPL(t *testing.T, mock *llm.MockClient, input string, configure ...func(*repl)) (string, *session.Session, *persistence.Store) {
	t.Helper()
	color.NoColor = true

	store, err := persistence.Open(persistence.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := session.NewWithSystem(mock, "You are a border officer.", session.WithID("booth-1"))
	var out bytes.Buffer
	r := newREPL(s, store, strings.NewReader(input), &out)
	for _, fn := range configure {
		fn(r)
	}
	require.NoError(t, r.run(context.Background()))
	return out.String(), s, store
}

func TestREPLCommands(t *testing.T) {
	mock := llm.NewMockClient("gpt-3.5-turbo",
		llm.Reply("Papers, please.", usage(10, 3)),
		llm.Reply("Papers. Now.", usage(10, 3)),
		llm.Reply("No.", usage(12, 1)),
		llm.Reply("Next!", usage(15, 2)),
	)
	input := strings.Join([]string{
		"Hello",
		"/regen",
		"/forget Is the booth open?",
		"/priority 5",
		"/next",
		"/usage",
		"/history",
		"/save morning shift",
		"/bogus",
		"/quit",
		"never sent",
	}, "\n")

	out, s, store := runREPL(t, mock, input)

	assert.Contains(t, out, "session booth-1 (gpt-3.5-turbo)")
	assert.Contains(t, out, "Papers, please.")
	assert.Contains(t, out, "No.")
	assert.Contains(t, out, "Papers. Now.")
	assert.Contains(t, out, "priority set to 5")
	assert.Contains(t, out, "Next!")
	assert.Contains(t, out, "prompt 47, completion 9, total 56 units")
	assert.Contains(t, out, "saved booth-1")
	assert.Contains(t, out, "error: unknown command /bogus")
	assert.Equal(t, 4, mock.Calls())

	assert.Equal(t, []string{"You are a border officer.", "Hello", "Papers. Now.", "Next!"},
		contents(s.Conversation().Serialize()))

	infos, err := store.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "morning shift", infos[0].Label)
}

func TestREPLReportsErrorsAndContinues(t *testing.T) {
	mock := llm.NewMockClient("gpt-3.5-turbo",
		llm.MockStep{Response: llm.CompletionResponse{Content: "The officer begins", StopReason: llm.StopReasonMaxTokens}},
		llm.Fail(llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")),
		llm.Fail(llmerrors.NewError(llmerrors.ErrorTypeContextOverflow, "prompt is too long")),
		llm.Reply("ok", usage(1, 1)),
	)
	input := "Describe the booth\nHello\nHuge\n/forget\n/priority high\nAgain\n"

	out, s, _ := runREPL(t, mock, input)

	assert.Contains(t, out, "The officer begins")
	assert.Contains(t, out, "cut off by the length limit")
	assert.Contains(t, out, "error: remote failure")
	assert.Contains(t, out, "does not fit the model's context window")
	assert.Contains(t, out, "usage: /forget <text>")
	assert.Contains(t, out, `invalid priority "high"`)
	assert.Contains(t, out, "ok")
	assert.Equal(t, []string{"You are a border officer.", "Again", "ok"}, contents(s.Conversation().Serialize()))
}

func TestREPLUsageShowsProviderLimits(t *testing.T) {
	limiters := ratelimit.NewProviderLimiterMap(config.Default().Resilience.RateLimit)
	mock := llm.NewMockClient("gpt-3.5-turbo")

	out, _, _ := runREPL(t, mock, "/usage\n", func(r *repl) { r.limits = limiters.GetAllStats })

	assert.Contains(t, out, "prompt 0, completion 0, total 0 units")
	assert.Contains(t, out, "rate limit (openai):")
	assert.Contains(t, out, "0 of 5 requests in flight, 0 throttled")
}

func TestREPLExplainsServiceUnavailable(t *testing.T) {
	cause := llmerrors.NewError(llmerrors.ErrorTypeTransient, "502 bad gateway")
	mock := llm.NewMockClient("gpt-3.5-turbo", llm.Fail(llmerrors.NewServiceUnavailableError(cause, 3)))

	out, _, _ := runREPL(t, mock, "Hello\n")

	assert.Contains(t, out, "service unavailable after 3 attempts")
	assert.Contains(t, out, "try /regen later")
}

func TestParseFields(t *testing.T) {
	specs, err := parseFields([]string{"name=Country name", " language = Official language "})
	require.NoError(t, err)
	assert.Equal(t, "name", specs[0].Key)
	assert.Equal(t, "Country name", specs[0].Question)
	assert.Equal(t, "language", specs[1].Key)
	assert.Equal(t, "Official language", specs[1].Question)

	_, err = parseFields([]string{"no-separator"})
	require.Error(t, err)
	_, err = parseFields([]string{"=question"})
	require.Error(t, err)
}

func contents(msgs []llm.CompletionMessage) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Content
	}
	return out
}
