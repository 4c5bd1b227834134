package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenProvider fetches a bearer token scoped to audience.
type TokenProvider interface {
	Token(ctx context.Context, audience string) (*oauth2.Token, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context, audience string) (*oauth2.Token, error)

func (f TokenProviderFunc) Token(ctx context.Context, audience string) (*oauth2.Token, error) {
	return f(ctx, audience)
}

// FromTokenSource wraps an already-scoped oauth2.TokenSource. Tokens are
// cached until they expire.
func FromTokenSource(ts oauth2.TokenSource) TokenProvider {
	return &sourceProvider{ts: oauth2.ReuseTokenSource(nil, ts)}
}

type sourceProvider struct {
	ts oauth2.TokenSource
}

// Token calls the source on a separate goroutine so ctx cancellation is
// honored even though oauth2.TokenSource has no context parameter.
func (p *sourceProvider) Token(ctx context.Context, _ string) (*oauth2.Token, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := p.ts.Token()
		ch <- result{tok, err}
	}()
	select {
	case r := <-ch:
		return r.tok, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClientCredentials returns a provider that runs the OAuth2 client
// credentials flow against tokenURL, requesting the audience as its scope.
// Tokens are cached per audience until expiry.
func ClientCredentials(clientID, clientSecret, tokenURL string) TokenProvider {
	return &clientCredentialsProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		byAudience:   make(map[string]*audienceToken),
	}
}

type clientCredentialsProvider struct {
	clientID     string
	clientSecret string
	tokenURL     string

	mu         sync.Mutex
	byAudience map[string]*audienceToken
}

type audienceToken struct {
	cfg *clientcredentials.Config
	tok *oauth2.Token
}

func (p *clientCredentialsProvider) Token(ctx context.Context, audience string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.byAudience[audience]
	if !ok {
		entry = &audienceToken{cfg: &clientcredentials.Config{
			ClientID:     p.clientID,
			ClientSecret: p.clientSecret,
			TokenURL:     p.tokenURL,
			Scopes:       []string{audience},
		}}
		p.byAudience[audience] = entry
	}
	if entry.tok.Valid() {
		return entry.tok, nil
	}

	tok, err := entry.cfg.Token(ctx)
	if err != nil {
		return nil, err
	}
	entry.tok = tok
	return tok, nil
}

// StaticJWT returns a provider for a pre-issued JWT bearer token. The exp
// claim is read without verifying the signature so an expired token fails
// before any connection attempt.
func StaticJWT(raw string) (TokenProvider, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: parse jwt: %w", ErrConfiguration, err)
	}
	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: jwt exp claim: %w", ErrConfiguration, err)
	}
	if exp != nil {
		tok.Expiry = exp.Time
	}
	return TokenProviderFunc(func(context.Context, string) (*oauth2.Token, error) {
		return tok, nil
	}), nil
}
