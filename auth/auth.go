// Package auth resolves the request headers that authenticate a realtime
// connection. A session is configured with exactly one Credential: a static
// API key or a source of short-lived bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Audience is the fixed scope bearer tokens are requested for.
const Audience = "https://cognitiveservices.azure.com/.default"

// KeyHeader carries a static API key.
const KeyHeader = "api-key"

var (
	ErrConfiguration  = errors.New("invalid credential configuration")
	ErrAuthentication = errors.New("authentication failed")
)

// Credential produces authentication headers for a connection request.
// The two implementations are KeyCredential and TokenCredential.
type Credential interface {
	Resolve(ctx context.Context) (http.Header, error)
	kind() string
}

// KeyCredential authenticates with a static secret.
type KeyCredential struct {
	Key string
}

// Resolve returns the api-key header. It never performs I/O.
func (c KeyCredential) Resolve(_ context.Context) (http.Header, error) {
	if strings.TrimSpace(c.Key) == "" {
		return nil, fmt.Errorf("%w: empty api key", ErrConfiguration)
	}
	h := make(http.Header, 1)
	h.Set(KeyHeader, c.Key)
	return h, nil
}

func (KeyCredential) kind() string { return "key" }

// TokenCredential authenticates with a bearer token fetched for Audience.
type TokenCredential struct {
	Provider TokenProvider
}

// Resolve fetches a token and returns the Authorization header. It may block
// on network I/O and honors ctx.
func (c TokenCredential) Resolve(ctx context.Context) (http.Header, error) {
	if c.Provider == nil {
		return nil, fmt.Errorf("%w: nil token provider", ErrConfiguration)
	}
	tok, err := c.Provider.Token(ctx, Audience)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch token: %w", ErrAuthentication, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrAuthentication)
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("%w: token expired at %s", ErrAuthentication, tok.Expiry)
	}
	h := make(http.Header, 1)
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	return h, nil
}

func (TokenCredential) kind() string { return "token" }

// Kind names the credential variant for logs: "key" or "token".
func Kind(c Credential) string {
	if c == nil {
		return "none"
	}
	return c.kind()
}

// Select returns the single configured credential. Configuring neither or
// both is an ErrConfiguration.
func Select(key string, provider TokenProvider) (Credential, error) {
	hasKey := strings.TrimSpace(key) != ""
	switch {
	case hasKey && provider != nil:
		return nil, fmt.Errorf("%w: both api key and token provider configured", ErrConfiguration)
	case hasKey:
		return KeyCredential{Key: key}, nil
	case provider != nil:
		return TokenCredential{Provider: provider}, nil
	default:
		return nil, fmt.Errorf("%w: no credential configured", ErrConfiguration)
	}
}
