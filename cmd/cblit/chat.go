package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/d-lowl/cblit/pkg/contextmgr"
	"github.com/d-lowl/cblit/pkg/metrics"
	"github.com/d-lowl/cblit/pkg/session"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		resume   string
		system   string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Lines are sent at the current priority;
lower-priority exchanges are evicted first when the model's context window fills.

Commands:
  /forget <text>   ask without keeping the exchange in the window
  /next            let the model continue without a new message
  /regen           regenerate the last reply
  /priority <n>    set the priority of following messages
  /usage           show usage and cost
  /history         summarise the window
  /save [label]    store the session
  /quit            leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, factory, err := a.newClientWithFactory()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			opts := []session.Option{
				session.WithOptions(session.OptionsFromConfig(a.cfg)),
				session.WithRecorder(a.recorder),
			}

			var s *session.Session
			switch {
			case resume != "":
				s, err = store.LoadSession(ctx, client, resume, opts...)
				if err != nil {
					return err
				}
			case system != "":
				s = session.NewWithSystem(client, system, opts...)
			case a.cfg.Session.SystemPrompt != "":
				s = session.NewWithSystem(client, a.cfg.Session.SystemPrompt, opts...)
			default:
				s = session.New(client, opts...)
			}

			if a.registry != nil {
				shutdown := serveMetrics(a, a.cfg.Metrics.Listen)
				defer shutdown()
			}

			r := newREPL(s, store, cmd.InOrStdin(), cmd.OutOrStdout())
			r.limits = factory.Limiters().GetAllStats
			r.priority = priority
			r.interactive = term.IsTerminal(int(os.Stdin.Fd()))
			return r.run(ctx)
		},
	}

	cmd.Flags().StringVar(&resume, "resume", "", "resume a stored session by ID")
	cmd.Flags().StringVar(&system, "system", "", "system prompt for a new session")
	cmd.Flags().IntVar(&priority, "priority", contextmgr.PriorityDefault, "initial message priority")
	return cmd
}

// serveMetrics exposes the registry on addr until the returned function is called.
func serveMetrics(a *app, addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped: %v", err)
		}
	}()
	a.logger.Info("serving metrics on http://%s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	return mux
}
