package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/contextmgr"
	"github.com/d-lowl/cblit/pkg/llm/middleware/resilience/ratelimit"
	"github.com/d-lowl/cblit/pkg/llmerrors"
	"github.com/d-lowl/cblit/pkg/persistence"
	"github.com/d-lowl/cblit/pkg/session"
)

var errQuit = errors.New("quit")

// repl reads lines from in and drives one session.
type repl struct {
	session     *session.Session
	store       *persistence.Store
	in          io.Reader
	out         io.Writer
	priority    int
	interactive bool
	limits      func() map[string]ratelimit.LimiterStats // optional, shown by /usage

	prompt  *color.Color
	reply   *color.Color
	notice  *color.Color
	failure *color.Color
}

func newREPL(s *session.Session, store *persistence.Store, in io.Reader, out io.Writer) *repl {
	return &repl{
		session: s,
		store:   store,
		in:      in,
		out:     out,
		prompt:  color.New(color.FgCyan, color.Bold),
		reply:   color.New(color.FgGreen),
		notice:  color.New(color.FgHiBlack),
		failure: color.New(color.FgRed),
	}
}

func (r *repl) run(ctx context.Context) error {
	r.notice.Fprintf(r.out, "session %s (%s)\n", r.session.ID(), r.session.Model())

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if r.interactive {
			r.prompt.Fprintf(r.out, "[%d]> ", r.priority)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := r.handle(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			r.failure.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.show(r.session.Send(ctx, line, r.priority))
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return errQuit
	case "/forget":
		if arg == "" {
			return errors.New("usage: /forget <text>")
		}
		return r.show(r.session.Forget(ctx, arg))
	case "/next":
		return r.show(r.session.Next(ctx, r.priority))
	case "/regen":
		return r.show(r.session.Regenerate(ctx))
	case "/priority":
		p, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid priority %q", arg)
		}
		r.priority = p
		r.notice.Fprintf(r.out, "priority set to %d\n", p)
	case "/usage":
		u := r.session.Usage()
		r.notice.Fprintf(r.out, "prompt %d, completion %d, total %d units ($%.4f)\n",
			u.PromptUnits, u.CompletionUnits, u.TotalUnits, r.session.Cost())
		r.showLimits()
	case "/history":
		r.notice.Fprintln(r.out, r.session.Conversation().Summary())
	case "/save":
		if err := r.store.SaveSession(ctx, r.session, arg); err != nil {
			return err
		}
		r.notice.Fprintf(r.out, "saved %s\n", r.session.ID())
	default:
		return fmt.Errorf("unknown command %s", command)
	}
	return nil
}

func (r *repl) show(reply string, err error) error {
	var lengthErr *session.LengthLimitedError
	if errors.As(err, &lengthErr) {
		r.reply.Fprintln(r.out, lengthErr.Partial)
		r.notice.Fprintln(r.out, "(reply cut off by the length limit and not kept)")
		return nil
	}
	if errors.Is(err, contextmgr.ErrWindowExhausted) {
		return fmt.Errorf("%w; the message alone does not fit the model's context window", err)
	}
	if llmerrors.IsServiceUnavailable(err) {
		return fmt.Errorf("%w; the provider kept failing, try /regen later", err)
	}
	if err != nil {
		return err
	}
	r.reply.Fprintln(r.out, reply)
	return nil
}

// showLimits prints the rate limiter state of the session's provider.
func (r *repl) showLimits() {
	if r.limits == nil {
		return
	}
	provider, err := config.GetModelProvider(r.session.Model())
	if err != nil {
		return
	}
	stats, ok := r.limits()[provider]
	if !ok {
		return
	}
	r.notice.Fprintf(r.out, "rate limit (%s): %.0f of %d tokens available, %d of %d requests in flight, %d throttled\n",
		provider, stats.AvailableTokens, stats.MaxCapacity, stats.ActiveRequests, stats.MaxConcurrency,
		stats.TokenLimitHits+stats.ConcurrencyHits)
}
