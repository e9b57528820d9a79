package types

import (
	"encoding/json"
	"time"
)

// ScanStatus is the lifecycle state reported by the scanning service.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ScanStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Severity of a vulnerability. Issue priorities reuse the same values.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Label returns the human-cased form used by the dashboard ("Critical", "High", ...).
// Unknown values are returned unchanged.
func (s Severity) Label() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	}
	return string(s)
}

// Vulnerability is a single finding embedded in a completed scan.
type Vulnerability struct {
	Severity    Severity `json:"severity"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	File        string   `json:"file"`
	Line        *int     `json:"line,omitempty"`
}

// Remediation is a structured fix suggestion embedded in a completed scan.
type Remediation struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	Effectiveness int      `json:"effectiveness"`
	AppliesTo     []string `json:"appliesTo"`
}

// ScanResults is the payload of a completed scan.
type ScanResults struct {
	TotalFiles       int             `json:"totalFiles"`
	Languages        map[string]int  `json:"languages"`
	SecurityIssues   int             `json:"securityIssues"`
	CodeQualityScore int             `json:"codeQualityScore"`
	Dependencies     int             `json:"dependencies"`
	Vulnerabilities  []Vulnerability `json:"vulnerabilities"`
	Recommendations  []string        `json:"recommendations"`
	Remediations     []Remediation   `json:"remediations,omitempty"`
}

// Outcome is the status-dependent part of a ScanRecord. Exactly one of
// Pending, Completed or Failed.
type Outcome interface {
	Status() ScanStatus
}

// Pending is the outcome of a scan that has not finished.
type Pending struct{}

// Status implements Outcome.
func (Pending) Status() ScanStatus { return StatusPending }

// Completed is the outcome of a finished scan. Results may be nil when the
// service reported completion without a payload.
type Completed struct {
	Results *ScanResults
}

// Status implements Outcome.
func (Completed) Status() ScanStatus { return StatusCompleted }

// Failed is the outcome of a scan the service could not finish.
type Failed struct {
	Message string
}

// Status implements Outcome.
func (Failed) Status() ScanStatus { return StatusFailed }

// ScanRecord is one scan as handed to the store. It is never mutated after creation.
type ScanRecord struct {
	ID            string
	RepositoryURL string
	ScanDate      time.Time
	Outcome       Outcome
}

// Status returns the record's status; a nil outcome counts as pending.
func (r *ScanRecord) Status() ScanStatus {
	if r.Outcome == nil {
		return StatusPending
	}
	return r.Outcome.Status()
}

// Results returns the results payload if the scan completed with one.
func (r *ScanRecord) Results() (*ScanResults, bool) {
	c, ok := r.Outcome.(Completed)
	if !ok || c.Results == nil {
		return nil, false
	}
	return c.Results, true
}

// Error returns the failure message of a failed scan, or "".
func (r *ScanRecord) Error() string {
	if f, ok := r.Outcome.(Failed); ok {
		return f.Message
	}
	return ""
}

type scanRecordJSON struct {
	ID            string       `json:"id"`
	RepositoryURL string       `json:"repositoryUrl"`
	ScanDate      time.Time    `json:"scanDate"`
	Status        ScanStatus   `json:"status"`
	Results       *ScanResults `json:"results,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// MarshalJSON renders the record in the scanner's result shape.
func (r ScanRecord) MarshalJSON() ([]byte, error) {
	out := scanRecordJSON{
		ID:            r.ID,
		RepositoryURL: r.RepositoryURL,
		ScanDate:      r.ScanDate,
		Status:        r.Status(),
		Error:         r.Error(),
	}
	if results, ok := r.Results(); ok {
		out.Results = results
	}
	return json.Marshal(out)
}

// Clone returns a copy that shares no slices or maps with r.
func (r *ScanRecord) Clone() ScanRecord {
	out := *r
	if results, ok := r.Results(); ok {
		cp := *results
		if results.Languages != nil {
			cp.Languages = make(map[string]int, len(results.Languages))
			for k, v := range results.Languages {
				cp.Languages[k] = v
			}
		}
		if results.Vulnerabilities != nil {
			cp.Vulnerabilities = make([]Vulnerability, len(results.Vulnerabilities))
			for i, v := range results.Vulnerabilities {
				if v.Line != nil {
					line := *v.Line
					v.Line = &line
				}
				cp.Vulnerabilities[i] = v
			}
		}
		cp.Recommendations = append([]string(nil), results.Recommendations...)
		if results.Remediations != nil {
			cp.Remediations = make([]Remediation, len(results.Remediations))
			for i, rem := range results.Remediations {
				rem.Tags = append([]string(nil), rem.Tags...)
				rem.AppliesTo = append([]string(nil), rem.AppliesTo...)
				cp.Remediations[i] = rem
			}
		}
		out.Outcome = Completed{Results: &cp}
	}
	return out
}
