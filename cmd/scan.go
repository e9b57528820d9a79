package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/llamacompass/compass/internal/log"
	"github.com/llamacompass/compass/internal/service"
)

// errScanFailed is returned after the output is written when the scanning
// service reported a failed scan.
var errScanFailed = errors.New("scan failed")

// newScanCmd creates the one-shot scan command.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a single repository and print its issues",
		Long:  "Scan a single GitHub repository through the scanning service and print the derived issues and solutions",
		RunE:  runScan,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags(cmd, "repository-url"); err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("output-format") //nolint:errcheck
			switch format {
			case "json", "csv":
				return nil
			default:
				return fmt.Errorf("unsupported output format: %s", format)
			}
		},
	}

	scanCmd.Flags().StringP("repository-url", "r", "", "Repository to scan: https://github.com/<owner>/<repo>")
	scanCmd.Flags().StringP("output-file", "f", "", "Output file for results")
	scanCmd.Flags().StringP("output-format", "o", "json", "Output format for results. options: json|csv")
	addScannerFlags(scanCmd)

	return scanCmd
}

// runScan runs one scan without the report ledger and prints the result.
func runScan(cmd *cobra.Command, _ []string) error {
	repositoryURL, _ := cmd.Flags().GetString("repository-url") //nolint:errcheck
	outputFile, _ := cmd.Flags().GetString("output-file")       //nolint:errcheck
	outputFormat, _ := cmd.Flags().GetString("output-format")   //nolint:errcheck

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := log.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	svc := service.New(gw,
		service.WithLogger(logger),
		service.WithDefaultToken(cfg.GitHubToken),
		service.WithScanTimeout(cfg.ScanTimeout),
	)

	record, err := svc.Scan(log.WithLogger(cmd.Context(), logger), service.ScanRequest{RepositoryURL: repositoryURL})
	if err != nil {
		return fmt.Errorf("error scanning: %w", err)
	}

	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	switch outputFormat {
	case "csv":
		if err := writeIssuesCSV(output, svc.Issues(0), true); err != nil {
			return fmt.Errorf("failed to write to csv: %w", err)
		}
	case "json":
		out := scanOutput{Scan: record, Issues: svc.Issues(0), Solutions: svc.Solutions()}
		if err := writeJSON(output, out); err != nil {
			return fmt.Errorf("failed to write to json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}

	if msg := record.Error(); msg != "" {
		return fmt.Errorf("%w: %s", errScanFailed, msg)
	}
	return nil
}
