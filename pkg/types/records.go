package types

import "time"

// IssueStatus is the triage state of an Issue.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in-progress"
	IssueResolved   IssueStatus = "resolved"
)

// Valid reports whether s is a known issue status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueOpen, IssueInProgress, IssueResolved:
		return true
	}
	return false
}

// RecordSource tells where an Issue or Solution came from.
type RecordSource string

const (
	SourceGitHub RecordSource = "github"
	SourceManual RecordSource = "manual"
)

// Issue is derived from one Vulnerability of a scan.
type Issue struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      IssueStatus  `json:"status"`
	Priority    Severity     `json:"priority"`
	Category    string       `json:"category"`
	CreatedAt   time.Time    `json:"createdAt"`
	Source      RecordSource `json:"source"`
	Repository  string       `json:"repository"`
	File        string       `json:"file"`
	Line        *int         `json:"line,omitempty"`
	ScanID      string       `json:"scanId"`
}

// Solution is derived from a scan's remediations, or from its recommendations
// when it has no remediations.
type Solution struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	Tags          []string     `json:"tags"`
	Effectiveness int          `json:"effectiveness"`
	UsageCount    int          `json:"usageCount"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Source        RecordSource `json:"source"`
	Repository    string       `json:"repository"`
	ScanID        string       `json:"scanId"`
}
