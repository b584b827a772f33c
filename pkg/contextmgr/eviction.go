package contextmgr

import (
	"errors"
	"fmt"
)

// ErrWindowExhausted is returned when no evictable span remains.
var ErrWindowExhausted = errors.New("window exhausted")

// Span is a half-open range [Start, End) of active turns.
type Span struct {
	Start int
	End   int
}

// Len is the number of turns in the span.
func (s Span) Len() int {
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// FindEvictionSpan picks the lowest-priority exchange in turns.
//
// Turns are scanned left to right. A user turn whose priority is at or below
// every span start seen so far (re)starts the span, so ties go to the later
// exchange. An open span closes before the next user turn whose priority is at
// least the span's; otherwise it runs to the end of turns. System and assistant
// turns never start a span.
func FindEvictionSpan(turns []Turn) (Span, error) {
	span := Span{Start: -1}
	open := false
	lowest := 0

	for i := range turns {
		if turns[i].Role != RoleUser {
			continue
		}
		p := turns[i].Priority
		switch {
		case span.Start < 0 || p <= lowest:
			span = Span{Start: i}
			lowest = p
			open = true
		case open && p >= lowest:
			span.End = i
			open = false
		}
	}

	if span.Start < 0 {
		return Span{}, ErrWindowExhausted
	}
	if open {
		span.End = len(turns)
	}
	return span, nil
}

// Evict removes the lowest-priority span from active[:limit]. Turns at or after
// limit are pinned. A negative or oversized limit covers the whole window.
func (c *Conversation) Evict(limit int) (Span, error) {
	if limit < 0 || limit > len(c.active) {
		limit = len(c.active)
	}

	span, err := FindEvictionSpan(c.active[:limit])
	if err != nil {
		return Span{}, err
	}
	if err := c.RemoveSpan(span.Start, span.End); err != nil {
		return Span{}, err
	}
	return span, nil
}
