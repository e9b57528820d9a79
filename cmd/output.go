package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/llamacompass/compass/pkg/types"
)

// scanOutput is the json document written by the scan command.
type scanOutput struct {
	Scan      *types.ScanRecord `json:"scan"`
	Issues    []types.Issue     `json:"issues"`
	Solutions []types.Solution  `json:"solutions"`
}

func writeJSON(w io.Writer, out scanOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("error writing json: %w", err)
	}
	return nil
}

// writeIssuesCSV writes one row per issue.
func writeIssuesCSV(w io.Writer, issues []types.Issue, includeHeader bool) error {
	csvWriter := csv.NewWriter(w)

	if includeHeader {
		err := csvWriter.Write([]string{
			"Repository",
			"ScanID",
			"IssueID",
			"Severity",
			"Title",
			"File",
			"Line",
			"Status",
			"Description",
		})
		if err != nil {
			return fmt.Errorf("error writing csv header: %w", err)
		}
	}

	for _, issue := range issues {
		line := ""
		if issue.Line != nil {
			line = strconv.Itoa(*issue.Line)
		}
		err := csvWriter.Write([]string{
			issue.Repository,
			issue.ScanID,
			issue.ID,
			issue.Priority.Label(),
			issue.Title,
			issue.File,
			line,
			string(issue.Status),
			issue.Description,
		})
		if err != nil {
			return fmt.Errorf("error writing csv record: %w", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("error flushing csv: %w", err)
	}
	return nil
}
