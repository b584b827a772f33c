package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SessionUsage represents aggregated token and cost metrics for one session.
type SessionUsage struct {
	SessionID        string  `json:"session_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService reads session usage back from a Prometheus server that scrapes cblit.
type QueryService struct {
	queryAPI  v1.API
	namespace string
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client), namespace: namespace}, nil
}

func (q *QueryService) metric(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// scalar runs an instant query and returns the first sample, or 0 when the vector is empty.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %q: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetSessionUsage aggregates token and cost counters for sessionID across models.
func (q *QueryService) GetSessionUsage(ctx context.Context, sessionID string) (*SessionUsage, error) {
	usage := &SessionUsage{SessionID: sessionID}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{session_id=%q, type="prompt"})`, q.metric("llm_tokens_total"), sessionID))
	if err != nil {
		return nil, err
	}
	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{session_id=%q, type="completion"})`, q.metric("llm_tokens_total"), sessionID))
	if err != nil {
		return nil, err
	}
	cost, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{session_id=%q})`, q.metric("llm_costs_total"), sessionID))
	if err != nil {
		return nil, err
	}

	usage.PromptTokens = int64(prompt)
	usage.CompletionTokens = int64(completion)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.TotalCost = cost
	return usage, nil
}
