package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/logx"
	"github.com/d-lowl/cblit/pkg/metrics"
	"github.com/d-lowl/cblit/pkg/persistence"
	"github.com/d-lowl/cblit/pkg/provider"
)

// envPassword unlocks the secrets file without a prompt.
const envPassword = "CBLIT_PASSWORD"

// app is the state shared by subcommands once the configuration is loaded.
type app struct {
	projectDir string
	configPath string
	model      string

	cfg      *config.Config
	registry *prometheus.Registry
	recorder metrics.Recorder
	logger   *logx.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logx.NewLogger("cli")}

	root := &cobra.Command{
		Use:           "cblit",
		Short:         "Converse with a language model inside a prioritised context window",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.projectDir, "project-dir", ".", "directory holding the .cblit folder")
	flags.StringVar(&a.configPath, "config", "", "config file (default <project-dir>/.cblit/config.jsonc)")
	flags.StringVar(&a.model, "model", "", "override the configured model")

	root.AddCommand(
		newChatCmd(a),
		newExtractCmd(a),
		newSessionsCmd(a),
		newSecretsCmd(a),
		newMetricsCmd(a),
	)
	return root
}

// load reads the configuration, configures logging and unlocks secrets.
func (a *app) load(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = filepath.Join(a.projectDir, config.ConfigDir, config.ConfigFilename)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.model != "" {
		cfg.Model.Name = a.model
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if !filepath.IsAbs(cfg.Store.Path) && cfg.Store.Path != persistence.MemoryPath {
		cfg.Store.Path = filepath.Join(a.projectDir, cfg.Store.Path)
	}
	a.cfg = cfg

	if err := logx.Configure(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return err
	}
	if len(cfg.Logging.DebugDomains) > 0 {
		logx.SetDebugDomains(cfg.Logging.DebugDomains)
	}

	a.recorder = metrics.Nop()
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.registry, cfg.Metrics.Namespace)
	}

	// Writing secrets unlocks the file itself.
	if cmd.Parent() != nil && cmd.Parent().Name() == "secrets" {
		return nil
	}
	return a.unlockSecrets()
}

// unlockSecrets decrypts the secrets file when one exists. The password comes
// from CBLIT_PASSWORD or, on a terminal, a prompt. Without either, providers fall
// back to environment variables.
func (a *app) unlockSecrets() error {
	if _, err := os.Stat(config.SecretsPath(a.projectDir)); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	password := os.Getenv(envPassword)
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			a.logger.Warn("secrets file present but %s is not set; using environment variables", envPassword)
			return nil
		}
		var err error
		password, err = readPassword("Secrets password: ")
		if err != nil {
			return err
		}
	}

	if err := config.LoadSecretsFromFile(a.projectDir, password); err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}
	return nil
}

func (a *app) newClient() (llm.LLMClient, error) {
	client, _, err := a.newClientWithFactory()
	return client, err
}

// newClientWithFactory also returns the factory so callers can read its limiter state.
func (a *app) newClientWithFactory() (llm.LLMClient, *provider.Factory, error) {
	factory, err := provider.NewFactory(a.cfg, a.recorder)
	if err != nil {
		return nil, nil, err
	}
	client, err := factory.CreateClient("")
	if err != nil {
		return nil, nil, err
	}
	return client, factory, nil
}

func (a *app) openStore() (*persistence.Store, error) {
	if dir := filepath.Dir(a.cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return persistence.Open(a.cfg.Store.Path)
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(password)), nil
}
