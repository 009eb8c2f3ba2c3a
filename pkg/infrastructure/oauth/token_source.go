// Package oauth provides Firestore-backed oauth2 token sources for
// third-party integration APIs. Tokens live on the user document; a
// refresh writes the new token back so concurrent functions pick it up.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/fitrelay/server/pkg"
)

// Endpoints for the integrations that need token refresh.
var endpoints = map[string]oauth2.Endpoint{
	"strava": {TokenURL: "https://www.strava.com/oauth/token"},
	"fitbit": {TokenURL: "https://api.fitbit.com/oauth2/token"},
}

// UserTokenSource implements oauth2.TokenSource against the stored
// integration state of one user. Safe for concurrent use.
type UserTokenSource struct {
	ctx       context.Context
	db        shared.Database
	secrets   shared.SecretStore
	projectID string
	userID    string
	provider  string
	mu        sync.Mutex
}

func NewUserTokenSource(ctx context.Context, db shared.Database, secrets shared.SecretStore, projectID, userID, provider string) *UserTokenSource {
	return &UserTokenSource{
		ctx:       ctx,
		db:        db,
		secrets:   secrets,
		projectID: projectID,
		userID:    userID,
		provider:  provider,
	}
}

// Token returns a valid token, refreshing and persisting it if the
// stored one is expired or expiring within the next minute.
func (s *UserTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.db.GetUser(s.ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	integration := user.Integrations[s.provider]
	if integration == nil || !integration.Enabled {
		return nil, fmt.Errorf("provider %s not linked", s.provider)
	}
	if integration.AccessToken == "" || integration.RefreshToken == "" {
		return nil, fmt.Errorf("missing tokens for %s", s.provider)
	}

	tok := &oauth2.Token{
		AccessToken:  integration.AccessToken,
		RefreshToken: integration.RefreshToken,
		Expiry:       integration.ExpiresAt,
	}

	// Proactive refresh one minute before expiry
	if time.Now().Add(time.Minute).Before(tok.Expiry) {
		return tok, nil
	}

	return s.refresh(tok)
}

func (s *UserTokenSource) refresh(stale *oauth2.Token) (*oauth2.Token, error) {
	endpoint, ok := endpoints[s.provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider for refresh: %s", s.provider)
	}

	clientID, err := s.secrets.GetSecret(s.ctx, s.projectID, s.provider+"_client_id")
	if err != nil {
		return nil, fmt.Errorf("client id secret: %w", err)
	}
	clientSecret, err := s.secrets.GetSecret(s.ctx, s.projectID, s.provider+"_client_secret")
	if err != nil {
		return nil, fmt.Errorf("client secret secret: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
	}

	fresh, err := conf.TokenSource(s.ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh for %s: %w", s.provider, err)
	}

	// Persist so other function instances see the rotated token.
	// Fitbit rotates the refresh token on every exchange.
	update := map[string]interface{}{
		"integrations": map[string]interface{}{
			s.provider: map[string]interface{}{
				"access_token":  fresh.AccessToken,
				"refresh_token": fresh.RefreshToken,
				"expires_at":    fresh.Expiry,
			},
		},
	}
	if err := s.db.UpdateUser(s.ctx, s.userID, update); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	return fresh, nil
}

// NewHTTPClient returns an *http.Client injecting the user's bearer
// token, caching it between requests.
func NewHTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, ts))
}
