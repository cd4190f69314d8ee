// Package githubapp authenticates as a GitHub App and publishes analysis
// results as Check Runs.
package githubapp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/callscope/callscope/pkg/surface"
)

const (
	// CheckName is the name shown on the pull request checks tab.
	CheckName = "callscope"

	defaultBaseURL = "https://api.github.com"

	// GitHub rejects check run summaries above this many characters.
	maxSummaryChars = 65535
)

// ErrInvalidKey is returned when the App private key cannot be parsed.
var ErrInvalidKey = errors.New("invalid GitHub App private key")

// Publisher creates Check Runs using GitHub App authentication
// (JWT -> installation token).
type Publisher struct {
	appID      int64
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	baseURL    string
	now        func() time.Time

	mu     sync.Mutex
	tokens map[int64]installationToken
}

type installationToken struct {
	token   string
	expires time.Time
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithBaseURL points the publisher at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(p *Publisher) { p.baseURL = u }
}

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.httpClient = c }
}

// NewPublisher creates a publisher from the App ID and PEM-encoded private
// key. Both PKCS#1 and PKCS#8 keys are accepted.
func NewPublisher(appID int64, privateKeyPEM []byte, opts ...Option) (*Publisher, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		appID:      appID,
		privateKey: key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		now:        time.Now,
		tokens:     make(map[int64]installationToken),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
	}
	return key, nil
}

// PublishCheckRun creates a completed Check Run on the given commit.
func (p *Publisher) PublishCheckRun(ctx context.Context, installationID int64, owner, repo, headSHA string, data surface.CheckRunData) error {
	token, err := p.installationToken(ctx, installationID)
	if err != nil {
		return fmt.Errorf("get installation token: %w", err)
	}

	summary := data.Summary
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars-3] + "..."
	}
	body, err := json.Marshal(map[string]any{
		"name":       CheckName,
		"head_sha":   headSHA,
		"status":     "completed",
		"conclusion": data.Conclusion,
		"output": map[string]string{
			"title":   data.Title,
			"summary": summary,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal check run: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/check-runs", p.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post check run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github API error %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// installationToken returns a cached token for the installation, exchanging
// a fresh App JWT when the cached one is missing or about to expire.
func (p *Publisher) installationToken(ctx context.Context, installationID int64) (string, error) {
	p.mu.Lock()
	cached, ok := p.tokens[installationID]
	p.mu.Unlock()
	if ok && p.now().Add(time.Minute).Before(cached.expires) {
		return cached.token, nil
	}

	jwt, err := p.appJWT()
	if err != nil {
		return "", fmt.Errorf("generate JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", p.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token request failed %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = p.now().Add(time.Hour)
	}

	p.mu.Lock()
	p.tokens[installationID] = installationToken{token: result.Token, expires: result.ExpiresAt}
	p.mu.Unlock()
	return result.Token, nil
}

// appJWT creates a short-lived JWT identifying the App. GitHub allows at
// most ten minutes; iat is backdated to absorb clock drift.
func (p *Publisher) appJWT() (string, error) {
	now := p.now()
	return signJWT(p.appID, now.Add(-60*time.Second), now.Add(5*time.Minute), p.privateKey)
}

// signJWT creates a minimal RS256 JWT.
func signJWT(appID int64, iat, exp time.Time, key *rsa.PrivateKey) (string, error) {
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	claims, err := json.Marshal(map[string]int64{
		"iss": appID,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	})
	if err != nil {
		return "", err
	}

	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(claims)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
