// Package gateway calls the remote scanning service and converts its answer
// into a ScanRecord.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/external"
	"github.com/llamacompass/compass/pkg/semver"
	"github.com/llamacompass/compass/pkg/types"
)

const (
	scanPath   = "/scan"
	healthPath = "/health"

	// RequestIDHeader carries the correlation id sent with every call.
	RequestIDHeader = "X-Request-ID"

	maxErrorBody  = 4 << 10
	maxResultBody = 32 << 20
)

// ErrIncompatibleScanner is returned by Health when the reported version does
// not satisfy the configured constraint.
var ErrIncompatibleScanner = errors.New("incompatible scanner version")

// Gateway runs one repository scan.
type Gateway interface {
	Scan(ctx context.Context, repositoryURL, accessToken string) (*types.ScanRecord, error)
}

// AccessChecker verifies a repository is reachable before it is scanned.
type AccessChecker interface {
	CheckAccess(ctx context.Context, repositoryURL, token string) error
}

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client types.HTTPClientInterface) Option {
	return func(g *HTTPGateway) { g.client = client }
}

// WithVersionConstraint sets the semver constraint checked by Health.
func WithVersionConstraint(constraint string) Option {
	return func(g *HTTPGateway) { g.versionConstraint = constraint }
}

// WithAccessChecker enables the repository access pre-check.
func WithAccessChecker(checker AccessChecker) Option {
	return func(g *HTTPGateway) { g.access = checker }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(g *HTTPGateway) { g.logger = logger }
}

// WithClock overrides time.Now, used to date results that carry no scan date.
func WithClock(now func() time.Time) Option {
	return func(g *HTTPGateway) { g.now = now }
}

// HTTPGateway talks to the scanning service over HTTP.
type HTTPGateway struct {
	baseURL           string
	client            types.HTTPClientInterface
	versionConstraint string
	access            AccessChecker
	logger            types.Logger
	now               func() time.Time
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway returns a gateway for the service at baseURL.
func NewHTTPGateway(baseURL string, opts ...Option) (*HTTPGateway, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid scanner URL %q", baseURL)
	}
	g := &HTTPGateway{
		baseURL: strings.TrimRight(u.String(), "/"),
		client:  types.NewRealHTTPClient(0),
		logger:  &types.MockLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Scan posts the repository to the service and maps the result. Any failure
// is an *Error; no partial record is returned.
func (g *HTTPGateway) Scan(ctx context.Context, repositoryURL, accessToken string) (*types.ScanRecord, error) {
	if g.access != nil {
		if err := g.access.CheckAccess(ctx, repositoryURL, accessToken); err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindTransport, Err: err}
			}
			return nil, &Error{Kind: KindAccess, Message: "repository is not accessible", Err: err}
		}
	}

	body, err := json.Marshal(external.ScanRequest{RepositoryURL: repositoryURL, GitHubToken: accessToken})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "encoding request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+scanPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "creating request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	logger := g.logger
	logger.Debug("requesting scan", zap.String("requestID", requestID), zap.String("repository", repositoryURL))
	start := time.Now()

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	result, err := external.DecodeScanResult(io.LimitReader(resp.Body, maxResultBody))
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Err: err}
	}
	record, err := external.MapScanResultToRecord(result, g.now())
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Err: err}
	}

	logger.Info("scan finished",
		zap.String("requestID", requestID),
		zap.String("scanID", record.ID),
		zap.String("status", string(record.Status())),
		zap.Duration("elapsed", time.Since(start)))
	return record, nil
}

// Health queries the service health endpoint and checks its version.
func (g *HTTPGateway) Health(ctx context.Context) (*external.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+healthPath, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "creating request", Err: err}
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var health external.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&health); err != nil {
		return nil, &Error{Kind: KindMalformed, Err: err}
	}
	if g.versionConstraint != "" {
		ok, err := semver.Satisfies(health.Version, g.versionConstraint)
		if err != nil {
			return &health, &Error{Kind: KindMalformed, Err: err}
		}
		if !ok {
			return &health, fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleScanner,
				health.Version, g.versionConstraint)
		}
	}
	return &health, nil
}

// errorMessage extracts a human-readable message from an error body.
// {"detail": "..."} bodies are unwrapped.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Detail != nil:
			if s, ok := body.Detail.(string); ok {
				return s
			}
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
