package structured

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/session"
)

// fakeExchanger replays replies: the first for Send, the rest for Regenerate.
type fakeExchanger struct {
	replies       []string
	sendErr       error
	regenerateErr error
	sends         int
	regenerations int
}

func (f *fakeExchanger) Send(_ context.Context, _ string, _ int) (string, error) {
	f.sends++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.next(), nil
}

func (f *fakeExchanger) Regenerate(context.Context) (string, error) {
	f.regenerations++
	if f.regenerateErr != nil {
		return "", f.regenerateErr
	}
	return f.next(), nil
}

func (f *fakeExchanger) next() string {
	if len(f.replies) == 0 {
		return ""
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r
}

func TestSendDecodesFirstReply(t *testing.T) {
	ex := &fakeExchanger{replies: []string{`{"name": "Ann", "bio": "b"}`}}

	got, err := Send[applicant](context.Background(), ex, "who?", 0)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, 0, ex.regenerations)
}

func TestSendRegeneratesMalformedReplies(t *testing.T) {
	ex := &fakeExchanger{replies: []string{
		`{"name": "Ann"}`,
		`{"name": "Ann", "bio": }`,
		`{"name": "Ann", "bio": "fixed"}`,
	}}

	got, err := Send[applicant](context.Background(), ex, "who?", 0)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Bio)
	assert.Equal(t, 2, ex.regenerations)
}

func TestSendExhaustsRetryBudget(t *testing.T) {
	ex := &fakeExchanger{replies: []string{`{"name": 1}`, `{"name": 2}`, `{"name": 3}`, `{"name": 4}`, `{"name": 5}`}}

	_, err := Send[applicant](context.Background(), ex, "who?", 0)
	require.ErrorIs(t, err, ErrStructuredParseExhausted)
	require.ErrorIs(t, err, ErrMalformedPayload)

	var exhausted *ParseExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultRetries+1, exhausted.Attempts)
	assert.Equal(t, `{"name": 4}`, exhausted.LastReply)
	assert.Equal(t, DefaultRetries, ex.regenerations, "one regeneration per retry")
}

func TestSendWithRetries(t *testing.T) {
	ex := &fakeExchanger{replies: []string{`{}`, `{}`}}

	_, err := Send[applicant](context.Background(), ex, "who?", 0, WithRetries(1))
	require.ErrorIs(t, err, ErrStructuredParseExhausted)
	assert.Equal(t, 1, ex.regenerations)

	ex = &fakeExchanger{replies: []string{`{}`}}
	_, err = Send[applicant](context.Background(), ex, "who?", 0, WithRetries(-2))
	require.ErrorIs(t, err, ErrStructuredParseExhausted)
	assert.Equal(t, 0, ex.regenerations)
}

func TestSendNoPayloadPropagates(t *testing.T) {
	ex := &fakeExchanger{replies: []string{"As an officer I refuse."}}

	_, err := Send[applicant](context.Background(), ex, "who?", 0)
	require.ErrorIs(t, err, ErrNoStructuredPayload)
	assert.Equal(t, 0, ex.regenerations)
}

func TestSendRemoteErrorsPropagate(t *testing.T) {
	remote := errors.New("connection reset")

	_, err := Send[applicant](context.Background(), &fakeExchanger{sendErr: remote}, "who?", 0)
	require.ErrorIs(t, err, remote)

	ex := &fakeExchanger{replies: []string{`{"name": "Ann"}`}, regenerateErr: remote}
	_, err = Send[applicant](context.Background(), ex, "who?", 0)
	require.ErrorIs(t, err, remote)
	assert.NotErrorIs(t, err, ErrStructuredParseExhausted)
}

func TestSendList(t *testing.T) {
	ex := &fakeExchanger{replies: []string{
		`[{"country": "Impor"}]`,
		`Here: [{"country": "Impor", "year": 1982}]`,
	}}

	got, err := SendList[stamp](context.Background(), ex, "stamps?", 0)
	require.NoError(t, err)
	assert.Equal(t, []stamp{{Country: "Impor", Year: 1982}}, got)
	assert.Equal(t, 1, ex.regenerations)
}

func TestSendThroughSession(t *testing.T) {
	mock := llm.NewMockClient("gpt-3.5-turbo",
		llm.Reply(`{"name": "Ann"}`, llm.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}),
		llm.Reply("{\"name\": \"Ann\", \"bio\": \"Line1\nLine2\"}", llm.Usage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18}),
	)
	s := session.NewWithSystem(mock, JSONInstructions(FieldSpec{Question: "Name", Key: "name"}))

	got, err := Send[applicant](context.Background(), s, "Describe the applicant", 2)
	require.NoError(t, err)
	assert.Equal(t, applicant{Name: "Ann", Bio: "Line1\nLine2"}, got)

	requests := mock.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, requests[0].Messages, requests[1].Messages, "regeneration resends the same window")

	active := s.Conversation().Active()
	require.Len(t, active, 3)
	assert.Equal(t, "{\"name\": \"Ann\", \"bio\": \"Line1\nLine2\"}", active[2].Content)
	assert.Equal(t, session.NewUsage(20, 12), s.Usage())
}
