package poingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenSource supplies the bearer token for upstream requests. Refresh is
// called by the fetch client after a 401; a second 401 after a refresh is
// treated as fatal by the caller.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token, mainly used in tests and
// for sources that authenticate with long-lived API keys.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

func (t StaticToken) Refresh(ctx context.Context) (string, error) {
	return string(t), nil
}

// expirySlack is subtracted from the reported token lifetime so we never hand
// out a token about to lapse mid-request.
const expirySlack = 10 * time.Second

// NewClientCredentialsTokenSource returns a TokenSource performing the OAuth2
// client-credentials flow against tokenURL, caching the token in memory until
// shortly before expiry. Concurrent fetch workers hitting a refresh at the
// same moment are collapsed into a single upstream call.
func NewClientCredentialsTokenSource(httpClient *http.Client, tokenURL, clientId, clientSecret string) TokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ccTokenSource{
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientId:     clientId,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

type ccTokenSource struct {
	httpClient   *http.Client
	tokenURL     string
	clientId     string
	clientSecret string
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

func (s *ccTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Before(s.expiresAt) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()
	return s.Refresh(ctx)
}

func (s *ccTokenSource) Refresh(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("token", func() (interface{}, error) {
		return s.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *ccTokenSource) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientId},
		"client_secret": {s.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewIngestError(ErrCodeAuth, "build token request failed", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", NewIngestError(ErrCodeRetryable, "token request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewIngestError(ErrCodeRetryable, "read token response failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", NewIngestError(ErrCodeAuth, "token endpoint returned status:%v", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", NewIngestError(ErrCodeAuth, "malformed token response", err)
	}
	if payload.AccessToken == "" {
		return "", NewIngestError(ErrCodeAuth, "token response has empty access_token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}

	s.mu.Lock()
	s.token = payload.AccessToken
	s.expiresAt = s.now().Add(time.Duration(payload.ExpiresIn)*time.Second - expirySlack)
	s.mu.Unlock()
	DefaultLogger.Info(context.Background(), "obtained fresh source token, expires_in:%vs", payload.ExpiresIn)
	return payload.AccessToken, nil
}
