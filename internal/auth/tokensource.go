package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the manager to an oauth2.TokenSource. Each Token call
// goes back through the manager, so an HTTP client built on it always sends
// the current credential.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerSource{ctx: ctx, m: m}
}

type managerSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerSource) Token() (*oauth2.Token, error) {
	cred, err := s.m.credential(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresOn,
	}, nil
}
