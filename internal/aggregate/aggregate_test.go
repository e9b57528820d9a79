package aggregate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamacompass/compass/internal/store"
	"github.com/llamacompass/compass/pkg/types"
)

var day = time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

func completed(id string, score int, langs map[string]int) types.ScanRecord {
	return types.ScanRecord{
		ID:       id,
		ScanDate: day,
		Outcome: types.Completed{Results: &types.ScanResults{
			CodeQualityScore: score,
			Languages:        langs,
		}},
	}
}

func issue(id string, status types.IssueStatus, priority types.Severity) types.Issue {
	return types.Issue{ID: id, Title: "t-" + id, Category: "Security", Status: status, Priority: priority}
}

func TestDashboard_Empty(t *testing.T) {
	m := Dashboard(store.Snapshot{})

	assert.Zero(t, m.TotalIssues)
	assert.Zero(t, m.AvgQualityScore)
	assert.Nil(t, m.LastScanDate)
	assert.NotNil(t, m.RecentIssues)
	assert.Empty(t, m.RecentIssues)
}

func TestDashboard_OnlyDegenerateScans(t *testing.T) {
	snap := store.Snapshot{Scans: []types.ScanRecord{
		{ID: "f", ScanDate: day, Outcome: types.Failed{Message: "boom"}},
		{ID: "p", ScanDate: day.Add(time.Hour), Outcome: types.Pending{}},
		{ID: "c", ScanDate: day.Add(2 * time.Hour), Outcome: types.Completed{}},
	}}

	m := Dashboard(snap)
	assert.Zero(t, m.AvgQualityScore)
	assert.Equal(t, 3, m.TotalScans)
	require.NotNil(t, m.LastScanDate)
	assert.Equal(t, day.Add(2*time.Hour), *m.LastScanDate)
}

func TestDashboard_Counts(t *testing.T) {
	snap := store.Snapshot{
		Scans: []types.ScanRecord{completed("a", 80, nil), completed("b", 60, nil)},
		Issues: []types.Issue{
			issue("1", types.IssueOpen, types.SeverityCritical),
			issue("2", types.IssueResolved, types.SeverityHigh),
			issue("3", types.IssueInProgress, types.SeverityHigh),
			issue("4", types.IssueOpen, types.SeverityLow),
		},
		Solutions: []types.Solution{{ID: "s1"}},
	}

	got := Dashboard(snap)
	want := DashboardMetrics{
		TotalIssues:     4,
		OpenIssues:      2,
		ResolvedIssues:  1,
		CriticalIssues:  1,
		HighIssues:      2,
		AvgQualityScore: 70,
		LastScanDate:    &day,
		RecentIssues: []IssueSummary{
			{ID: "1", Title: "t-1", Category: "Security", Priority: "Critical"},
			{ID: "2", Title: "t-2", Category: "Security", Priority: "High"},
			{ID: "3", Title: "t-3", Category: "Security", Priority: "High"},
			{ID: "4", Title: "t-4", Category: "Security", Priority: "Low"},
		},
		TotalScans:     2,
		TotalSolutions: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Dashboard() mismatch (-want +got):\n%s", diff)
	}
}

func TestDashboard_RecentIssuesAreTheLastFive(t *testing.T) {
	var issues []types.Issue
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		issues = append(issues, issue(id, types.IssueOpen, types.SeverityMedium))
	}

	m := Dashboard(store.Snapshot{Issues: issues})
	require.Len(t, m.RecentIssues, RecentIssuesLimit)
	assert.Equal(t, "3", m.RecentIssues[0].ID)
	assert.Equal(t, "7", m.RecentIssues[4].ID)
	assert.Equal(t, "Medium", m.RecentIssues[0].Priority)
}

func TestAverageQualityScore(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   int
	}{
		{name: "none", want: 0},
		{name: "single", scores: []int{42}, want: 42},
		{name: "rounds half up", scores: []int{70, 71}, want: 71},
		{name: "rounds down", scores: []int{70, 70, 71}, want: 70},
		{name: "zero scores still count", scores: []int{0, 100}, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var scans []types.ScanRecord
			for _, s := range tt.scores {
				scans = append(scans, completed("x", s, nil))
			}
			scans = append(scans, types.ScanRecord{ID: "failed", Outcome: types.Failed{Message: "x"}})
			assert.Equal(t, tt.want, AverageQualityScore(scans))
		})
	}
}

func TestHistograms(t *testing.T) {
	snap := store.Snapshot{
		Scans: []types.ScanRecord{
			completed("a", 50, map[string]int{"go": 3, "python": 1}),
			completed("b", 50, map[string]int{"go": 2}),
			{ID: "c", Outcome: types.Failed{Message: "x"}},
		},
		Issues: []types.Issue{
			issue("1", types.IssueOpen, types.SeverityCritical),
			issue("2", types.IssueOpen, types.SeverityCritical),
			issue("3", types.IssueOpen, types.Severity("info")),
		},
	}

	assert.Equal(t, map[types.Severity]int{
		types.SeverityCritical: 2,
		types.SeverityHigh:     0,
		types.SeverityMedium:   0,
		types.SeverityLow:      0,
		"info":                 1,
	}, SeverityHistogram(snap))
	assert.Equal(t, map[string]int{"go": 5, "python": 1}, LanguageHistogram(snap))
	assert.Equal(t, map[types.ScanStatus]int{
		types.StatusPending:   0,
		types.StatusCompleted: 2,
		types.StatusFailed:    1,
	}, StatusHistogram(snap))
}

func TestDashboard_IsPure(t *testing.T) {
	st := store.New()
	line := 7
	st.Ingest(types.ScanRecord{
		ID:            "scan-1",
		RepositoryURL: "https://github.com/acme/api",
		ScanDate:      day,
		Outcome: types.Completed{Results: &types.ScanResults{
			CodeQualityScore: 88,
			Languages:        map[string]int{"go": 4},
			Vulnerabilities: []types.Vulnerability{
				{Severity: types.SeverityHigh, Type: "SQL Injection", File: "db.go", Line: &line},
			},
			Recommendations: []string{"Parameterize queries"},
		}},
	})
	snap := st.Snapshot()
	before := st.Snapshot()

	first, err := json.Marshal(Dashboard(snap))
	require.NoError(t, err)
	second, err := json.Marshal(Dashboard(snap))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	_ = SeverityHistogram(snap)
	_ = LanguageHistogram(snap)
	if diff := cmp.Diff(before, snap); diff != "" {
		t.Errorf("snapshot mutated (-before +after):\n%s", diff)
	}
}
