// Package document fetches the text of submitted documents.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Fetch failures. Callers usually collapse these into ErrFetchFailed.
var (
	ErrFetchFailed      = errors.New("document fetch failed")
	ErrAccessDenied     = errors.New("document access denied")
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyDocument    = errors.New("document is empty")
)

const (
	defaultDriveURL = "https://www.googleapis.com/drive/v3"
	defaultMaxBytes = 2 << 20

	// ScopeDriveReadonly is enough to export documents.
	ScopeDriveReadonly = "https://www.googleapis.com/auth/drive.readonly"
)

// Fetcher returns the plain text of a document.
type Fetcher interface {
	Fetch(ctx context.Context, documentID string, token *oauth2.Token) (string, error)
}

// GoogleConfig identifies the OAuth client used to refresh user tokens.
type GoogleConfig struct {
	ClientID     string `json:"-" mapstructure:"client_id"`
	ClientSecret string `json:"-" mapstructure:"client_secret"`
	RedirectURL  string `json:"redirect_url" mapstructure:"redirect_url"`
}

// GoogleDocsFetcher exports Google Docs as text/plain through the Drive API.
type GoogleDocsFetcher struct {
	config   *oauth2.Config
	baseURL  string
	maxBytes int64
}

var _ Fetcher = (*GoogleDocsFetcher)(nil)

// Option customizes a GoogleDocsFetcher.
type Option func(*GoogleDocsFetcher)

// WithBaseURL points the fetcher at another Drive-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(f *GoogleDocsFetcher) { f.baseURL = strings.TrimRight(u, "/") }
}

// WithMaxBytes caps how much of a document is read.
func WithMaxBytes(n int64) Option { return func(f *GoogleDocsFetcher) { f.maxBytes = n } }

// NewGoogleDocsFetcher builds a fetcher. Expired tokens with a refresh token
// are refreshed through Google's token endpoint.
func NewGoogleDocsFetcher(cfg GoogleConfig, opts ...Option) *GoogleDocsFetcher {
	f := &GoogleDocsFetcher{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{ScopeDriveReadonly},
			Endpoint:     google.Endpoint,
		},
		baseURL:  defaultDriveURL,
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *GoogleDocsFetcher) Fetch(ctx context.Context, documentID string, token *oauth2.Token) (string, error) {
	if strings.TrimSpace(documentID) == "" {
		return "", fmt.Errorf("%w: empty document id", ErrDocumentNotFound)
	}
	if token == nil {
		return "", fmt.Errorf("%w: no credentials", ErrAccessDenied)
	}

	endpoint := fmt.Sprintf("%s/files/%s/export?mimeType=%s",
		f.baseURL, url.PathEscape(documentID), url.QueryEscape("text/plain"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := f.config.Client(ctx, token).Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrAccessDenied, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	text := strings.TrimSpace(strings.TrimPrefix(string(body), "\ufeff"))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// TokenSource refreshes access tokens from a stored refresh token.
func (f *GoogleDocsFetcher) TokenSource(ctx context.Context, refreshToken string) oauth2.TokenSource {
	return f.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}
