package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/llamacompass/compass/pkg/types"
)

// DefaultAPIBaseURL is the public GitHub REST endpoint.
const DefaultAPIBaseURL = "https://api.github.com"

var (
	errCreatingRequest     = errors.New("error creating request")
	errRequestFailed       = errors.New("error making request")
	errInvalidResponse     = errors.New("unexpected status code")
	errReadingResponseBody = errors.New("error reading response body")
	errJSONParsing         = errors.New("error parsing JSON response")

	// ErrNotFound is returned when the repository does not exist or is private
	// and the token cannot see it.
	ErrNotFound = errors.New("repository not found")
	// ErrForbidden is returned when the token lacks access or the rate limit is exhausted.
	ErrForbidden = errors.New("repository access forbidden")
	// ErrInvalidRepositoryURL is returned for anything that is not a GitHub owner/repo URL.
	ErrInvalidRepositoryURL = errors.New("invalid GitHub repository URL")
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Repository is the subset of the GitHub repository object the dashboard uses.
type Repository struct {
	FullName      string    `json:"full_name"`
	Private       bool      `json:"private"`
	Size          int       `json:"size"`
	Language      string    `json:"language"`
	DefaultBranch string    `json:"default_branch"`
	HTMLURL       string    `json:"html_url"`
	PushedAt      time.Time `json:"pushed_at"`
}

// ParseRepositoryURL extracts owner and name from a
// https://github.com/<owner>/<repo> URL. A trailing slash or ".git" suffix is
// accepted.
func ParseRepositoryURL(raw string) (owner, name string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidRepositoryURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRepositoryURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", fmt.Errorf("%w: only GitHub repositories are supported", ErrInvalidRepositoryURL)
	}

	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || !segmentPattern.MatchString(parts[0]) || !segmentPattern.MatchString(parts[1]) {
		return "", "", fmt.Errorf("%w: expected https://github.com/<owner>/<repo>", ErrInvalidRepositoryURL)
	}
	return parts[0], parts[1], nil
}

// GetRepository fetches repository metadata. The token is optional; without it
// only public repositories are visible.
// GetRepository accepts an HTTPClientInterface so tests can inject a mock client.
func GetRepository(ctx context.Context, client types.HTTPClientInterface, apiBaseURL, token, owner,
	name string) (*Repository, error) {
	if client == nil {
		if token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			client = oauth2.NewClient(ctx, ts)
		} else {
			client = types.NewRealHTTPClient(15 * time.Second)
		}
	}
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s", strings.TrimRight(apiBaseURL, "/"), owner, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCreatingRequest, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRequestFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, owner, name)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s/%s (status %d)", ErrForbidden, owner, name, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %d", errInvalidResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errReadingResponseBody, err)
	}

	var repo Repository
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("%w: %w", errJSONParsing, err)
	}
	return &repo, nil
}

// AccessChecker verifies that a repository is reachable before it is scanned.
type AccessChecker struct {
	Client     types.HTTPClientInterface
	APIBaseURL string
	Logger     types.Logger
}

// CheckAccess resolves repositoryURL and fetches its metadata with token.
func (c *AccessChecker) CheckAccess(ctx context.Context, repositoryURL, token string) error {
	owner, name, err := ParseRepositoryURL(repositoryURL)
	if err != nil {
		return err
	}
	repo, err := GetRepository(ctx, c.Client, c.APIBaseURL, token, owner, name)
	if err != nil {
		return err
	}
	if c.Logger != nil {
		c.Logger.Debug("repository access verified",
			zap.String("repository", repo.FullName), zap.Bool("private", repo.Private))
	}
	return nil
}
