package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/d-lowl/cblit/pkg/contextmgr"
	"github.com/d-lowl/cblit/pkg/session"
	"github.com/d-lowl/cblit/pkg/structured"
)

func newExtractCmd(a *app) *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:     "extract <request>",
		Short:   "Ask for a JSON object and print it decoded",
		Example: `  cblit extract "Invent a country" --field name="Country name" --field language="Official language"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseFields(fields)
			if err != nil {
				return err
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}
			s := session.NewWithSystem(client, structured.JSONInstructions(specs...),
				session.WithOptions(session.OptionsFromConfig(a.cfg)),
				session.WithRecorder(a.recorder))

			record, err := structured.Send[map[string]any](cmd.Context(), s, args[0], contextmgr.PriorityDefault,
				structured.WithRetries(a.cfg.Session.Retries()))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "requested key as key=question (repeatable)")
	return cmd
}

func parseFields(raw []string) ([]structured.FieldSpec, error) {
	specs := make([]structured.FieldSpec, 0, len(raw))
	for _, f := range raw {
		key, question, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q, expected key=question", f)
		}
		specs = append(specs, structured.FieldSpec{Key: key, Question: strings.TrimSpace(question)})
	}
	return specs, nil
}
