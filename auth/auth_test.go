package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

func TestKeyCredential(t *testing.T) {
	h, err := KeyCredential{Key: "secret"}.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h.Get(KeyHeader) != "secret" || len(h) != 1 {
		t.Fatalf("unexpected headers: %v", h)
	}

	if _, err := (KeyCredential{}).Resolve(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestTokenCredential(t *testing.T) {
	var gotAudience string
	cred := TokenCredential{Provider: TokenProviderFunc(func(_ context.Context, audience string) (*oauth2.Token, error) {
		gotAudience = audience
		return &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
	})}

	h, err := cred.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h.Get("Authorization") != "Bearer tok" {
		t.Fatalf("Authorization = %q", h.Get("Authorization"))
	}
	if gotAudience != Audience {
		t.Fatalf("audience = %q, want %q", gotAudience, Audience)
	}
}

func TestTokenCredentialFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		cred TokenCredential
		want error
	}{
		{"nil provider", TokenCredential{}, ErrConfiguration},
		{"fetch error", TokenCredential{Provider: TokenProviderFunc(func(context.Context, string) (*oauth2.Token, error) {
			return nil, boom
		})}, ErrAuthentication},
		{"empty token", TokenCredential{Provider: TokenProviderFunc(func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{}, nil
		})}, ErrAuthentication},
		{"expired", TokenCredential{Provider: TokenProviderFunc(func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(-time.Minute)}, nil
		})}, ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cred.Resolve(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	p := TokenProviderFunc(func(context.Context, string) (*oauth2.Token, error) { return nil, nil })

	c, err := Select("k", nil)
	if err != nil || Kind(c) != "key" {
		t.Fatalf("key: %v %v", c, err)
	}
	c, err = Select("", p)
	if err != nil || Kind(c) != "token" {
		t.Fatalf("token: %v %v", c, err)
	}
	if _, err := Select("k", p); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("both: %v", err)
	}
	if _, err := Select(" ", nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("neither: %v", err)
	}
}

func TestClientCredentialsScopesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("scope") != Audience {
			t.Errorf("scope = %q", r.Form.Get("scope"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cc-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	cred := TokenCredential{Provider: ClientCredentials("id", "secret", srv.URL)}
	for i := 0; i < 2; i++ {
		h, err := cred.Resolve(context.Background())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if h.Get("Authorization") != "Bearer cc-token" {
			t.Fatalf("Authorization = %q", h.Get("Authorization"))
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", hits.Load())
	}
}

func TestClientCredentialsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := TokenCredential{Provider: ClientCredentials("id", "bad", srv.URL)}.Resolve(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestFromTokenSourceHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := FromTokenSource(blockingSource(block))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Token(ctx, Audience); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	static := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "s"}))
	tok, err := static.Token(context.Background(), Audience)
	if err != nil || tok.AccessToken != "s" {
		t.Fatalf("static: %v %v", tok, err)
	}
}

type blockingSource chan struct{}

func (b blockingSource) Token() (*oauth2.Token, error) {
	<-b
	return nil, errors.New("released")
}

func TestStaticJWT(t *testing.T) {
	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	fresh, err := StaticJWT(sign(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("StaticJWT: %v", err)
	}
	if _, err := (TokenCredential{Provider: fresh}).Resolve(context.Background()); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	stale, err := StaticJWT(sign(time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("StaticJWT: %v", err)
	}
	if _, err := (TokenCredential{Provider: stale}).Resolve(context.Background()); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for expired jwt, got %v", err)
	}

	if _, err := StaticJWT("not-a-jwt"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
