package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore supplies a user's stored OAuth token. A missing token means the
// user has never authorized (or revoked) calendar access.
type TokenStore interface {
	Token(ctx context.Context, userID int64) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID int64, token *oauth2.Token) error
}

// Factory builds per-user Google Calendar clients from a shared OAuth app
// configuration and a token store.
type Factory struct {
	oauth      *oauth2.Config
	tokens     TokenStore
	calendarID string
	timeout    time.Duration
}

// NewFactory creates a client factory. calendarID defaults to "primary" when
// empty.
func NewFactory(oauthCfg *oauth2.Config, tokens TokenStore, calendarID string, timeout time.Duration) *Factory {
	return &Factory{oauth: oauthCfg, tokens: tokens, calendarID: calendarID, timeout: timeout}
}

// ClientFor resolves the calendar client for a user. Returns ErrUnauthorized
// (wrapped) when the user has no stored token.
func (f *Factory) ClientFor(ctx context.Context, userID int64) (Client, error) {
	tok, err := f.tokens.Token(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: no stored token for user %d: %v", ErrUnauthorized, userID, err)
	}
	ts := f.oauth.TokenSource(ctx, tok)
	return NewGoogleClient(ctx, ts, f.calendarID, f.timeout)
}

// FileTokenStore keeps one JSON token file per user under a directory.
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore creates the directory if needed.
func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("unable to create token directory %s: %w", dir, err)
	}
	return &FileTokenStore{dir: dir}, nil
}

func (s *FileTokenStore) path(userID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("token_%d.json", userID))
}

func (s *FileTokenStore) Token(_ context.Context, userID int64) (*oauth2.Token, error) {
	f, err := os.Open(s.path(userID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("unable to decode token for user %d: %w", userID, err)
	}
	return tok, nil
}

func (s *FileTokenStore) SaveToken(_ context.Context, userID int64, token *oauth2.Token) error {
	f, err := os.OpenFile(s.path(userID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to store token for user %d: %w", userID, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
