package remediation

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// PullRequest is a review request to open
type PullRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
	Draft bool   `json:"draft,omitempty"`
}

// PullRequestRef identifies an opened review request
type PullRequestRef struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// Host is the code hosting API used to open review requests
type Host interface {
	CreatePullRequest(ctx context.Context, pr PullRequest) (*PullRequestRef, error)
	AddLabels(ctx context.Context, number int, labels []string) error
}

// GitHubConfig holds the client configuration
type GitHubConfig struct {
	APIURL string
	Owner  string
	Repo   string
	// Token is a personal access token; it wins over App credentials.
	Token string
	// AppID, InstallationID and PrivateKeyPath authenticate as a GitHub App.
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	// RequestsPerSecond throttles API calls. Zero means one per second.
	RequestsPerSecond float64
	Timeout           time.Duration
	// HTTPClient is the base transport, mostly for tests.
	HTTPClient *http.Client
}

// APIError is an error response from the hosting API
type APIError struct {
	StatusCode       int    `json:"-"`
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (status: %d)", e.Message, e.StatusCode)
}

// IsUnauthorized returns true if the error is a 401 unauthorized error
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsValidationError returns true for 422 responses, e.g. a duplicate pull request
func (e *APIError) IsValidationError() bool {
	return e.StatusCode == http.StatusUnprocessableEntity
}

// GitHubClient talks to the GitHub REST API
type GitHubClient struct {
	baseURL    string
	owner      string
	repo       string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewGitHubClient creates a client authenticated with a token or GitHub App
func NewGitHubClient(cfg GitHubConfig, log *logger.Logger) (*GitHubClient, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	var src oauth2.TokenSource
	switch {
	case cfg.Token != "":
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	case cfg.AppID != 0 && cfg.InstallationID != 0 && cfg.PrivateKeyPath != "":
		pem, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read app private key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("parse app private key: %w", err)
		}
		src = oauth2.ReuseTokenSource(nil, &appTokenSource{
			apiURL:         cfg.APIURL,
			appID:          cfg.AppID,
			installationID: cfg.InstallationID,
			key:            key,
			client:         base,
		})
	default:
		return nil, fmt.Errorf("github token or app credentials are required")
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = cfg.Timeout

	return &GitHubClient{
		baseURL:    cfg.APIURL,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     log.WithComponent("github"),
	}, nil
}

// CreatePullRequest opens a pull request
func (c *GitHubClient) CreatePullRequest(ctx context.Context, pr PullRequest) (*PullRequestRef, error) {
	var ref PullRequestRef
	path := fmt.Sprintf("/repos/%s/%s/pulls", c.owner, c.repo)
	if err := c.doRequest(ctx, http.MethodPost, path, pr, &ref); err != nil {
		return nil, err
	}
	c.logger.WithFields(map[string]interface{}{
		"number": ref.Number,
		"url":    ref.URL,
		"head":   pr.Head,
	}).Info("Pull request opened")
	return &ref, nil
}

// AddLabels applies labels to an issue or pull request
func (c *GitHubClient) AddLabels(ctx context.Context, number int, labels []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", c.owner, c.repo, number)
	return c.doRequest(ctx, http.MethodPost, path, map[string][]string{"labels": labels}, nil)
}

// doRequest performs an HTTP request with proper error handling
func (c *GitHubClient) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return &apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// appTokenSource exchanges a signed App JWT for an installation token.
type appTokenSource struct {
	apiURL         string
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	client         *http.Client
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("sign app token: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.apiURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request installation token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: out.Token, TokenType: "Bearer", Expiry: out.ExpiresAt}, nil
}
