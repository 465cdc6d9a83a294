package oauthtoken

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// MailScope grants IMAP and SMTP access on Google accounts.
const MailScope = "https://mail.google.com/"

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL overrides the Google token endpoint.
	TokenURL string
	Scopes   []string
}

// RefreshSource exchanges a long-lived refresh token for access tokens.
// Providers that rotate refresh tokens are followed.
type RefreshSource struct {
	oauth *oauth2.Config

	mu      sync.Mutex
	refresh string
}

func NewRefreshSource(cfg Config) *RefreshSource {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{MailScope}
	}
	return &RefreshSource{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		refresh: cfg.RefreshToken,
	}
}

// AccessToken performs a refresh on every call so each connection starts
// with a full token lifetime.
func (s *RefreshSource) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource for HTTP clients such as the Gmail API.
func (s *RefreshSource) Token() (*oauth2.Token, error) {
	return s.token(context.Background())
}

func (s *RefreshSource) token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refresh})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if tok.RefreshToken != "" && tok.RefreshToken != s.refresh {
		s.refresh = tok.RefreshToken
		slog.Info("oauth_refresh_token_rotated")
	}
	return tok, nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code == http.StatusBadRequest || code == http.StatusUnauthorized {
			return domain.WrapError(domain.ErrAuth, "refresh access token", err)
		}
	}
	return domain.WrapError(domain.ErrConnection, "refresh access token", err)
}

// Password is used when the mailbox authenticates with a password. It
// yields an empty token, which tells the dialer to log in instead.
type Password struct{}

func (Password) AccessToken(context.Context) (string, error) {
	return "", nil
}
