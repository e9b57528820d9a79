// Package aggregate computes the dashboard views over a store snapshot.
// Nothing here mutates its input.
package aggregate

import (
	"math"
	"time"

	"github.com/llamacompass/compass/internal/store"
	"github.com/llamacompass/compass/pkg/types"
)

// RecentIssuesLimit is the number of issues shown in the dashboard activity list.
const RecentIssuesLimit = 5

// IssueSummary is the display projection of an Issue.
type IssueSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Priority string `json:"priority"`
}

// DashboardMetrics are the headline numbers of the dashboard.
type DashboardMetrics struct {
	TotalIssues     int            `json:"totalIssues"`
	OpenIssues      int            `json:"openIssues"`
	ResolvedIssues  int            `json:"resolvedIssues"`
	CriticalIssues  int            `json:"criticalIssues"`
	HighIssues      int            `json:"highIssues"`
	AvgQualityScore int            `json:"avgQualityScore"`
	LastScanDate    *time.Time     `json:"lastScanDate,omitempty"`
	RecentIssues    []IssueSummary `json:"recentIssues"`
	TotalScans      int            `json:"totalScans"`
	TotalSolutions  int            `json:"totalSolutions"`
}

// Dashboard computes the headline metrics of snap.
func Dashboard(snap store.Snapshot) DashboardMetrics {
	m := DashboardMetrics{
		TotalIssues:     len(snap.Issues),
		AvgQualityScore: AverageQualityScore(snap.Scans),
		RecentIssues:    summarize(lastIssues(snap.Issues, RecentIssuesLimit)),
		TotalScans:      len(snap.Scans),
		TotalSolutions:  len(snap.Solutions),
	}
	for _, issue := range snap.Issues {
		switch issue.Status {
		case types.IssueOpen:
			m.OpenIssues++
		case types.IssueResolved:
			m.ResolvedIssues++
		}
		switch issue.Priority {
		case types.SeverityCritical:
			m.CriticalIssues++
		case types.SeverityHigh:
			m.HighIssues++
		}
	}
	if n := len(snap.Scans); n > 0 {
		last := snap.Scans[n-1].ScanDate
		m.LastScanDate = &last
	}
	return m
}

// AverageQualityScore is the rounded mean code quality score of the scans that
// carry results, or 0 when none do.
func AverageQualityScore(scans []types.ScanRecord) int {
	var sum, count int
	for i := range scans {
		results, ok := scans[i].Results()
		if !ok {
			continue
		}
		sum += results.CodeQualityScore
		count++
	}
	if count == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(count)))
}

// SeverityHistogram counts issues per priority. The four known severities are
// always present, priorities outside that set are counted under their own key.
func SeverityHistogram(snap store.Snapshot) map[types.Severity]int {
	hist := make(map[types.Severity]int, len(types.Severities))
	for _, sev := range types.Severities {
		hist[sev] = 0
	}
	for _, issue := range snap.Issues {
		hist[issue.Priority]++
	}
	return hist
}

// LanguageHistogram sums the per-scan language file counts.
func LanguageHistogram(snap store.Snapshot) map[string]int {
	hist := map[string]int{}
	for i := range snap.Scans {
		results, ok := snap.Scans[i].Results()
		if !ok {
			continue
		}
		for lang, n := range results.Languages {
			hist[lang] += n
		}
	}
	return hist
}

// StatusHistogram counts scans per status.
func StatusHistogram(snap store.Snapshot) map[types.ScanStatus]int {
	hist := map[types.ScanStatus]int{
		types.StatusPending:   0,
		types.StatusCompleted: 0,
		types.StatusFailed:    0,
	}
	for i := range snap.Scans {
		hist[snap.Scans[i].Status()]++
	}
	return hist
}

func lastIssues(issues []types.Issue, n int) []types.Issue {
	if len(issues) <= n {
		return issues
	}
	return issues[len(issues)-n:]
}

func summarize(issues []types.Issue) []IssueSummary {
	out := make([]IssueSummary, 0, len(issues))
	for _, issue := range issues {
		out = append(out, IssueSummary{
			ID:       issue.ID,
			Title:    issue.Title,
			Category: issue.Category,
			Priority: issue.Priority.Label(),
		})
	}
	return out
}
