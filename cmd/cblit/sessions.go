package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/d-lowl/cblit/pkg/persistence"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()

				infos, err := store.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no stored sessions")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tMODEL\tLABEL\tACTIVE\tHISTORY\tUNITS\tUPDATED")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", info.ID, info.Model, info.Label,
						info.ActiveTurns, info.HistoryTurns, info.TotalUnits, info.UpdatedAt.Local().Format(time.DateTime))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a stored session as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()

				doc, err := store.LoadDocument(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return persistence.ExportJSON(cmd.OutOrStdout(), &doc)
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Store a session exported with show",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer func() { _ = f.Close() }()

				doc, err := persistence.ImportJSON(f)
				if err != nil {
					return err
				}

				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()

				if err := store.SaveDocument(cmd.Context(), &doc, "imported"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", doc.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a stored session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()

				if err := store.DeleteSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
