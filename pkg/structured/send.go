package structured

import (
	"context"
	"errors"
	"fmt"

	"github.com/d-lowl/cblit/pkg/logx"
)

// DefaultRetries is the number of regenerations attempted after the first reply fails to decode.
const DefaultRetries = 3

// Exchanger is the part of a session the extractor drives.
type Exchanger interface {
	Send(ctx context.Context, content string, priority int) (string, error)
	Regenerate(ctx context.Context) (string, error)
}

// ParseExhaustedError reports that no reply decoded within the retry budget.
type ParseExhaustedError struct {
	Attempts  int    // replies decoded, including the first
	LastReply string // raw text of the final reply
	Err       error  // decode failure of the final reply
}

func (e *ParseExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrStructuredParseExhausted, e.Attempts, e.Err)
}

// Is matches ErrStructuredParseExhausted.
func (e *ParseExhaustedError) Is(target error) bool {
	return target == ErrStructuredParseExhausted
}

func (e *ParseExhaustedError) Unwrap() error {
	return e.Err
}

type options struct {
	retries int
	logger  *logx.Logger
}

// Option configures Send and SendList.
type Option func(*options)

// WithRetries sets how many times a malformed reply is regenerated. Negative values mean zero.
func WithRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.retries = n
	}
}

// WithLogger replaces the logger used for retry warnings.
func WithLogger(l *logx.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Send sends content and decodes the reply into T, regenerating malformed replies.
func Send[T any](ctx context.Context, ex Exchanger, content string, priority int, opts ...Option) (T, error) {
	return sendDecoded(ctx, ex, content, priority, Decode[T], opts)
}

// SendList is Send for replies holding a list of T.
func SendList[T any](ctx context.Context, ex Exchanger, content string, priority int, opts ...Option) ([]T, error) {
	return sendDecoded(ctx, ex, content, priority, DecodeList[T], opts)
}

// sendDecoded runs the parse-retry loop. A reply without any payload and remote
// failures end it immediately; other decode failures regenerate the reply.
func sendDecoded[T any](
	ctx context.Context,
	ex Exchanger,
	content string,
	priority int,
	decode func(string) (T, error),
	opts []Option,
) (T, error) {
	var zero T

	o := options{retries: DefaultRetries, logger: logger}
	for _, opt := range opts {
		opt(&o)
	}

	reply, err := ex.Send(ctx, content, priority)
	if err != nil {
		return zero, err
	}

	for attempt := 1; ; attempt++ {
		v, err := decode(reply)
		if err == nil {
			if attempt > 1 {
				o.logger.Info("structured reply decoded on attempt %d", attempt)
			}
			return v, nil
		}
		if errors.Is(err, ErrNoStructuredPayload) {
			return zero, err
		}
		if attempt > o.retries {
			return zero, &ParseExhaustedError{Attempts: attempt, LastReply: reply, Err: err}
		}

		o.logger.Warn("retry %d/%d: %v", attempt, o.retries, err)
		reply, err = ex.Regenerate(ctx)
		if err != nil {
			return zero, err
		}
	}
}
