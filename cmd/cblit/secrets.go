package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/d-lowl/cblit/pkg/config"
)

func newSecretsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <name>",
			Short: "Store a secret such as OPENAI_API_KEY",
			Long:  "Store a secret. The value is read from the terminal without echo, or from stdin when piped.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				password, err := secretsPassword()
				if err != nil {
					return err
				}
				if err := config.LoadSecretsFromFile(a.projectDir, password); err != nil {
					return err
				}

				value, err := readSecretValue(args[0])
				if err != nil {
					return err
				}
				config.SetSecret(args[0], value)

				if err := config.SaveSecretsToFile(a.projectDir, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s in %s\n", args[0], config.SecretsPath(a.projectDir))
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored secret names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				password, err := secretsPassword()
				if err != nil {
					return err
				}
				if err := config.LoadSecretsFromFile(a.projectDir, password); err != nil {
					return err
				}
				for _, name := range config.SecretNames() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
	)
	return cmd
}

func secretsPassword() (string, error) {
	if password := os.Getenv(envPassword); password != "" {
		return password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("set %s to unlock the secrets file non-interactively", envPassword)
	}
	return readPassword("Secrets password: ")
}

func readSecretValue(name string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return readPassword(name + ": ")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read %s from stdin: %w", name, err)
	}
	return strings.TrimSpace(line), nil
}
