package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamacompass/compass/internal/config"
	"github.com/llamacompass/compass/internal/log"
	"github.com/llamacompass/compass/internal/metrics"
	"github.com/llamacompass/compass/pkg/types"
)

const completedBody = `{
  "id": "scan_20260301_101500_4821",
  "repositoryUrl": "https://github.com/acme/payments-api",
  "scanDate": "2026-03-01T10:15:00Z",
  "status": "completed",
  "results": {
    "codeQualityScore": 72,
    "languages": {"python": 14},
    "vulnerabilities": [
      {"severity": "critical", "type": "Hardcoded Secret", "description": "AWS key, committed", "file": "app/settings.py", "line": 18},
      {"severity": "low", "type": "Verbose Errors", "description": "Stack traces", "file": "app/handlers.py"}
    ],
    "recommendations": ["Use parameterized queries"]
  }
}`

const failedBody = `{
  "id": "scan_failed_1",
  "repositoryUrl": "https://github.com/acme/payments-api",
  "scanDate": "2026-03-01T10:15:00Z",
  "status": "failed",
  "error": "clone failed"
}`

// newScannerServer fakes the scanning service.
func newScannerServer(t *testing.T, scanBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/scan", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(scanBody))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"2026-03-01T10:00:00Z","version":"1.3.0"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// scanArgs returns the common arguments of a scan run against ts.
func scanArgs(t *testing.T, ts *httptest.Server, extra ...string) []string {
	t.Helper()
	args := []string{
		"scan",
		"--repository-url", "https://github.com/acme/payments-api",
		"--scanner-url", ts.URL,
		"--verify-access=false",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
	}
	return append(args, extra...)
}

// TestNewRootCmd tests the newRootCmd function.
func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	if diff := cmp.Diff("compass", cmd.Use); diff != "" {
		t.Errorf("cmd.Use mismatch (-want +got):\n%s", diff)
	}

	var subcommands []string
	for _, c := range cmd.Commands() {
		subcommands = append(subcommands, c.Name())
	}
	for _, want := range []string{"scan", "serve", "version"} {
		assert.Contains(t, subcommands, want)
	}

	for _, flag := range []string{"config", "env-file", "log-level"} {
		if f := cmd.PersistentFlags().Lookup(flag); f == nil {
			t.Errorf("flag %s should be defined", flag)
		}
	}
}

// TestPreRunE_MissingRequiredFlags tests the scan preRunE function with the repository missing.
func TestPreRunE_MissingRequiredFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"scan", "--output-format", "csv"})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("repository-url is required and cannot be empty", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

// TestPreRunE_UnsupportedFormat tests the scan preRunE function with an unknown output format.
func TestPreRunE_UnsupportedFormat(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"scan", "-r", "https://github.com/acme/api", "-o", "xml"})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("unsupported output format: xml", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

// TestPreRunE_InvalidFlag tests the preRunE function with an invalid flag.
func TestPreRunE_InvalidFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"scan", "--invalid-flag", "value"})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("unknown flag: --invalid-flag", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

func TestRunScan_JSON(t *testing.T) {
	ts := newScannerServer(t, completedBody)
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(scanArgs(t, ts))

	require.NoError(t, cmd.Execute())

	var got struct {
		Scan struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"scan"`
		Issues    []types.Issue    `json:"issues"`
		Solutions []types.Solution `json:"solutions"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got), out.String())
	assert.Equal(t, "scan_20260301_101500_4821", got.Scan.ID)
	assert.Equal(t, "completed", got.Scan.Status)
	require.Len(t, got.Issues, 2)
	assert.Equal(t, "acme/payments-api", got.Issues[0].Repository)
	require.Len(t, got.Solutions, 1)
	assert.Equal(t, "Use parameterized queries", got.Solutions[0].Title)
}

func TestRunScan_CSVToFile(t *testing.T) {
	ts := newScannerServer(t, completedBody)
	outputFile := filepath.Join(t.TempDir(), "issues.csv")
	cmd := newRootCmd()
	cmd.SetArgs(scanArgs(t, ts, "--output-format", "csv", "--output-file", outputFile))

	require.NoError(t, cmd.Execute())

	f, err := os.Open(outputFile)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	want := [][]string{
		{"Repository", "ScanID", "IssueID", "Severity", "Title", "File", "Line", "Status", "Description"},
		{"acme/payments-api", "scan_20260301_101500_4821", "scan_20260301_101500_4821-issue-0",
			"Critical", "Hardcoded Secret", "app/settings.py", "18", "open", "AWS key, committed"},
		{"acme/payments-api", "scan_20260301_101500_4821", "scan_20260301_101500_4821-issue-1",
			"Low", "Verbose Errors", "app/handlers.py", "", "open", "Stack traces"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestRunScan_FailedScanStillWritesOutput(t *testing.T) {
	ts := newScannerServer(t, failedBody)
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(scanArgs(t, ts))

	err := cmd.Execute()
	require.ErrorIs(t, err, errScanFailed)
	assert.Contains(t, err.Error(), "clone failed")
	assert.Contains(t, out.String(), `"status": "failed"`)
	assert.Contains(t, out.String(), `"issues": []`)
}

func TestRunScan_InvalidRepository(t *testing.T) {
	ts := newScannerServer(t, completedBody)
	cmd := newRootCmd()
	args := scanArgs(t, ts)
	args[2] = "https://gitlab.com/acme/payments-api"
	cmd.SetArgs(args)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "compass.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("capacity: 3\nlisten_addr: \":9000\"\nlog_level: warn\n"), 0o600))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("COMPASS_SCANNER_URL=http://scanner.internal:8000\n"), 0o600))
	t.Setenv("COMPASS_LISTEN_ADDR", ":9100")
	// registered for restore, then cleared so the env file can set it
	t.Setenv("COMPASS_SCANNER_URL", "unused")
	require.NoError(t, os.Unsetenv("COMPASS_SCANNER_URL"))

	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{
		"--config", configFile,
		"--env-file", envFile,
		"--capacity", "7",
		"--allowed-origins", "https://a.example.com,https://b.example.com",
	}))

	cfg, err := loadConfig(serve)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Capacity, "flag beats file")
	assert.Equal(t, ":9100", cfg.ListenAddr, "environment beats file")
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http://scanner.internal:8000", cfg.ScannerURL, "env file fills unset variables")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, config.Default().ScanTimeout, cfg.ScanTimeout)
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--capacity", "0",
	}))

	_, err = loadConfig(serve)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity must be positive")
}

func TestNewApp(t *testing.T) {
	ts := newScannerServer(t, completedBody)
	cfg := config.Default()
	cfg.ScannerURL = ts.URL
	cfg.VerifyAccess = false
	cfg.DatabaseDSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	ctx := log.WithLogger(context.Background(), &types.MockLogger{})
	ctx = metrics.WithMetrics(ctx, "compass_cmd_test")
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	a.checkScanner(ctx)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/scans",
		strings.NewReader(`{"repositoryUrl":"https://github.com/acme/payments-api"}`))
	a.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []struct {
			ScanID   string `json:"scanId"`
			Critical int    `json:"critical"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, 1, body.Data[0].Critical)

	rec = httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "compass_cmd_test_store_scans 1")

	require.NoError(t, a.Close())
}

func TestNewApp_BadScannerURL(t *testing.T) {
	cfg := config.Default()
	cfg.ScannerURL = "not a url"
	cfg.DatabaseDSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	_, err := newApp(context.Background(), cfg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errScanFailed))
	assert.Contains(t, err.Error(), "invalid scanner URL")
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Contains(t, got, "version")
	assert.Contains(t, got, "commit")
}
