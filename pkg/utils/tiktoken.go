// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Per-message framing overhead charged by chat endpoints (role marker and separators).
const messageOverheadTokens = 4

// TokenCounter provides token counting for different models.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a new token counter for the specified model.
// The gpt-4o family uses o200k_base; every other model is approximated with the GPT-4 encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	var (
		codec tokenizer.Codec
		err   error
	)
	if strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") {
		codec, err = tokenizer.Get(tokenizer.O200kBase)
	} else {
		codec, err = tokenizer.ForModel(tokenizer.GPT4)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}

	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountMessage estimates the tokens a single chat message costs, including framing.
func (tc *TokenCounter) CountMessage(role, content string) int {
	return messageOverheadTokens + tc.CountTokens(role) + tc.CountTokens(content)
}
