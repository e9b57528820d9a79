// Package transform converts a single scan result into the Issue and Solution
// records shown on the dashboard. Every function here is pure.
package transform

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/llamacompass/compass/pkg/types"
)

const (
	// IssueCategory is the category of every vulnerability-derived issue.
	IssueCategory = "Security"
	// RecommendationCategory is the category of recommendation-derived solutions.
	RecommendationCategory = "Best Practice"
	// RecommendationEffectiveness is the fixed score of recommendation-derived solutions.
	RecommendationEffectiveness = 75
	// MaxTitleLength is the rune length after which recommendation titles are cut.
	MaxTitleLength = 50

	ellipsis = "..."
)

// RecommendationTags is the fixed tag set of recommendation-derived solutions.
var RecommendationTags = []string{"security", "best-practice", "recommendation"}

// Transform derives the issues and solutions of one scan. Scans that are not
// completed, or completed without results, yield two empty slices.
func Transform(record *types.ScanRecord) ([]types.Issue, []types.Solution) {
	if record == nil {
		return []types.Issue{}, []types.Solution{}
	}
	results, ok := record.Results()
	if !ok {
		return []types.Issue{}, []types.Solution{}
	}
	repo := RepositoryName(record.RepositoryURL)
	return issuesFrom(record, results, repo), solutionsFrom(record, results, repo)
}

// IssueID is the deterministic id of the index-th issue of a scan.
func IssueID(scanID string, index int) string {
	return fmt.Sprintf("%s-issue-%d", scanID, index)
}

func issuesFrom(record *types.ScanRecord, results *types.ScanResults, repo string) []types.Issue {
	issues := make([]types.Issue, 0, len(results.Vulnerabilities))
	for i, v := range results.Vulnerabilities {
		var line *int
		if v.Line != nil {
			l := *v.Line
			line = &l
		}
		issues = append(issues, types.Issue{
			ID:          IssueID(record.ID, i),
			Title:       v.Type,
			Description: v.Description,
			Status:      types.IssueOpen,
			Priority:    v.Severity,
			Category:    IssueCategory,
			CreatedAt:   record.ScanDate,
			Source:      types.SourceGitHub,
			Repository:  repo,
			File:        v.File,
			Line:        line,
			ScanID:      record.ID,
		})
	}
	return issues
}

// solutionsFrom uses remediations when there are any and falls back to the
// free-text recommendations otherwise; the two sources are never mixed.
func solutionsFrom(record *types.ScanRecord, results *types.ScanResults, repo string) []types.Solution {
	if len(results.Remediations) > 0 {
		solutions := make([]types.Solution, 0, len(results.Remediations))
		for i, rem := range results.Remediations {
			solutions = append(solutions, types.Solution{
				ID:            fmt.Sprintf("%s-remediation-%d", record.ID, i),
				Title:         rem.Title,
				Description:   rem.Description,
				Category:      rem.Category,
				Tags:          append([]string{}, rem.Tags...),
				Effectiveness: rem.Effectiveness,
				UpdatedAt:     record.ScanDate,
				Source:        types.SourceGitHub,
				Repository:    repo,
				ScanID:        record.ID,
			})
		}
		return solutions
	}

	solutions := make([]types.Solution, 0, len(results.Recommendations))
	for i, rec := range results.Recommendations {
		solutions = append(solutions, types.Solution{
			ID:            fmt.Sprintf("%s-recommendation-%d", record.ID, i),
			Title:         truncate(rec, MaxTitleLength),
			Description:   rec,
			Category:      RecommendationCategory,
			Tags:          append([]string{}, RecommendationTags...),
			Effectiveness: RecommendationEffectiveness,
			UpdatedAt:     record.ScanDate,
			Source:        types.SourceGitHub,
			Repository:    repo,
			ScanID:        record.ID,
		})
	}
	return solutions
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + ellipsis
}

// RepositoryName returns the "owner/name" display form of a repository URL,
// taken from the last two path segments. Input with fewer than two path
// segments is returned trimmed but otherwise unchanged.
func RepositoryName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	path := trimmed
	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		path = u.Path
	}
	path = strings.TrimSuffix(strings.TrimRight(path, "/"), ".git")

	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return trimmed
	}
	return segments[len(segments)-2] + "/" + segments[len(segments)-1]
}
