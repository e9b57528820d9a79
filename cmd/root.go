package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llamacompass/compass/internal/config"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// Execute is the main entry point for the compass CLI.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command with every subcommand attached.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "compass",
		Short:        "Compass collects repository security scans into a live dashboard.",
		SilenceUsage: true,
	}
	rootCmd.Version = versionJSON()
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"},
		"Env files loaded before the environment is read. Missing files are skipped.")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")

	rootCmd.AddCommand(newServeCmd(), newScanCmd(), newVersionCmd())
	return rootCmd
}

// requireFlags fails with the first string flag that is empty.
func requireFlags(cmd *cobra.Command, names ...string) error {
	for _, flag := range names {
		value, err := cmd.Flags().GetString(flag)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", errFlagRetrieval, flag, err)
		}
		if value == "" {
			return fmt.Errorf("%s %w", flag, errRequiredFlagEmpty)
		}
	}
	return nil
}

// loadConfig layers the config file, the env files and the environment, then
// applies every flag explicitly set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")           //nolint:errcheck
	envFiles, _ := cmd.Flags().GetStringSlice("env-file") //nolint:errcheck

	cfg, err := config.Load(path, envFiles...)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	str("log-level", &cfg.LogLevel)
	str("listen-addr", &cfg.ListenAddr)
	str("scanner-url", &cfg.ScannerURL)
	str("scanner-version", &cfg.ScannerVersion)
	str("github-token", &cfg.GitHubToken)
	str("github-api-url", &cfg.GitHubAPIURL)
	str("database-dsn", &cfg.DatabaseDSN)
	str("pprof-addr", &cfg.PprofAddr)
	str("metrics-namespace", &cfg.MetricsNamespace)

	if flags.Changed("capacity") {
		v, err := flags.GetInt("capacity")
		errs = append(errs, err)
		cfg.Capacity = v
	}
	if flags.Changed("scan-timeout") {
		v, err := flags.GetDuration("scan-timeout")
		errs = append(errs, err)
		cfg.ScanTimeout = v
	}
	if flags.Changed("verify-access") {
		v, err := flags.GetBool("verify-access")
		errs = append(errs, err)
		cfg.VerifyAccess = v
	}
	if flags.Changed("allowed-origins") {
		v, err := flags.GetStringSlice("allowed-origins")
		errs = append(errs, err)
		cfg.AllowedOrigins = v
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", errFlagRetrieval, err)
	}
	return nil
}

// addScannerFlags registers the flags shared by commands that call the scanner.
func addScannerFlags(cmd *cobra.Command) {
	cmd.Flags().String("scanner-url", "", "Base URL of the scanning service")
	cmd.Flags().String("scanner-version", "", "Semver constraint the scanning service version must satisfy")
	cmd.Flags().Duration("scan-timeout", 0, "Upper bound for a single scan (e.g. 5m)")
	cmd.Flags().StringP("github-token", "t", "", "GitHub token used when a request carries none")
	cmd.Flags().String("github-api-url", "", "GitHub REST API base URL")
	cmd.Flags().Bool("verify-access", true, "Check repository access on GitHub before scanning")
}
