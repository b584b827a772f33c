// Package structured coerces free-form replies into typed records.
//
// Replies are expected to carry a JSON object or list somewhere in their text.
// The payload is cut out of the surrounding prose, raw line breaks inside
// string values are escaped, comments and trailing commas are stripped, and
// the result is decoded into the caller's type. Send and SendList regenerate
// the reply through an Exchanger until it decodes or the retry budget runs out.
package structured

import (
	"errors"
	"fmt"
	"strings"
)

// Shape selects the outermost delimiter pair of a payload.
type Shape int8

const (
	// ShapeObject is a single {...} record.
	ShapeObject Shape = iota
	// ShapeList is a [...] list of records.
	ShapeList
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeList:
		return "list"
	default:
		return "invalid"
	}
}

func (s Shape) delimiters() (byte, byte) {
	if s == ShapeList {
		return '[', ']'
	}
	return '{', '}'
}

var (
	// ErrNoStructuredPayload is returned when a reply has no delimited region of the requested shape.
	ErrNoStructuredPayload = errors.New("reply contains no structured payload")
	// ErrMalformedPayload wraps decode and field-check failures of an extracted payload.
	ErrMalformedPayload = errors.New("malformed structured payload")
	// ErrStructuredParseExhausted is matched by *ParseExhaustedError.
	ErrStructuredParseExhausted = errors.New("structured parse retries exhausted")
)

// ExtractPayload returns the first balanced region of shape: it starts at an
// opening delimiter and ends at the closer that brings the nesting depth back
// to zero. Delimiters inside quoted strings do not count. An opener that never
// closes is skipped in favour of the next one.
func ExtractPayload(reply string, shape Shape) (string, error) {
	open, closing := shape.delimiters()
	for from := 0; from < len(reply); {
		idx := strings.IndexByte(reply[from:], open)
		if idx < 0 {
			break
		}
		start := from + idx
		if end := balancedEnd(reply, start, open, closing); end > 0 {
			return reply[start:end], nil
		}
		from = start + 1
	}
	return "", fmt.Errorf("%w: no %s found in %d-byte reply", ErrNoStructuredPayload, shape, len(reply))
}

// balancedEnd scans from the opener at start and returns the index just past
// its matching closer, or -1 when the region is never closed.
func balancedEnd(s string, start int, open, closing byte) int {
	var (
		depth   int
		inQuote bool
		escaped bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inQuote && c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// RepairMultiline escapes raw line breaks that occur inside quoted strings.
// Quote state toggles on every quote not preceded by a backslash escape;
// line breaks outside quotes are kept.
func RepairMultiline(payload string) string {
	var (
		b       strings.Builder
		inQuote bool
		escaped bool
	)
	b.Grow(len(payload))

	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case inQuote && c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inQuote = !inQuote
			b.WriteByte(c)
		case inQuote && c == '\n':
			b.WriteString(`\n`)
		case inQuote && c == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
