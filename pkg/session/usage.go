package session

import "github.com/d-lowl/cblit/pkg/llm"

// Usage counts resource units consumed by successful exchanges.
// TotalUnits is always PromptUnits + CompletionUnits.
type Usage struct {
	PromptUnits     int `json:"prompt_units"`
	CompletionUnits int `json:"completion_units"`
	TotalUnits      int `json:"total_units"`
}

// NewUsage builds a counter with a consistent total.
func NewUsage(prompt, completion int) Usage {
	return Usage{PromptUnits: prompt, CompletionUnits: completion, TotalUnits: prompt + completion}
}

// FromCompletion converts provider usage, recomputing the total from its parts.
func FromCompletion(u llm.Usage) Usage {
	return NewUsage(u.PromptTokens, u.CompletionTokens)
}

// Merge returns the componentwise sum of u and other.
func (u Usage) Merge(other Usage) Usage {
	return Usage{
		PromptUnits:     u.PromptUnits + other.PromptUnits,
		CompletionUnits: u.CompletionUnits + other.CompletionUnits,
		TotalUnits:      u.TotalUnits + other.TotalUnits,
	}
}

// Add merges other into u in place.
func (u *Usage) Add(other Usage) {
	*u = u.Merge(other)
}

// IsZero reports whether no units were counted.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Consistent reports whether the total matches its parts and nothing is negative.
func (u Usage) Consistent() bool {
	return u.PromptUnits >= 0 && u.CompletionUnits >= 0 && u.TotalUnits == u.PromptUnits+u.CompletionUnits
}
