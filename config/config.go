// Package config loads realtime session settings from YAML.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/realtime/auth"
	"github.com/neboloop/realtime/duplex"
	"github.com/neboloop/realtime/endpoint"
	"github.com/neboloop/realtime/transport"
)

// Config holds everything needed to build a session.
type Config struct {
	Endpoint        string            `yaml:"endpoint"`         // https://<resource>.openai.azure.com/openai
	APIKey          string            `yaml:"api_key"`          // Static key; mutually exclusive with Token
	Token           TokenConfig       `yaml:"token"`            // Bearer token source
	ProtocolVersion string            `yaml:"protocol_version"` // api-version query parameter
	Deployment      string            `yaml:"deployment"`       // Model/deployment hint
	Query           map[string]string `yaml:"query"`            // Extra connection URL parameters
	Headers         map[string]string `yaml:"headers"`          // Extra handshake headers
	Transport       string            `yaml:"transport"`        // "gorilla" or "gobwas"
	Audio           AudioConfig       `yaml:"audio"`
	InboundBuffer   int               `yaml:"inbound_buffer"`   // Frames per subscriber
	KeepaliveMs     int               `yaml:"keepalive_ms"`     // 0 disables pings
	CloseTimeoutMs  int               `yaml:"close_timeout_ms"` // Close handshake bound
	HandshakeMs     int               `yaml:"handshake_timeout_ms"`
}

// TokenConfig selects a bearer token source. Set either the client
// credentials triple or a pre-issued JWT.
type TokenConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	JWT          string `yaml:"jwt"`
}

func (t TokenConfig) empty() bool {
	return t.ClientID == "" && t.ClientSecret == "" && t.TokenURL == "" && t.JWT == ""
}

// AudioConfig tunes audio uploads.
type AudioConfig struct {
	ChunkSize      int `yaml:"chunk_size"`       // Source bytes per frame
	BytesPerSecond int `yaml:"bytes_per_second"` // 0 disables pacing
}

const (
	TransportGorilla = "gorilla"
	TransportGobwas  = "gobwas"
)

// Default returns a config with sensible defaults. Endpoint and a
// credential must still be set.
func Default() *Config {
	return &Config{
		ProtocolVersion: endpoint.DefaultProtocolVersion,
		Transport:       TransportGorilla,
		Audio: AudioConfig{
			ChunkSize: duplex.DefaultAudioChunkSize,
		},
		InboundBuffer:  duplex.DefaultInboundBuffer,
		KeepaliveMs:    int(duplex.DefaultKeepalive / time.Millisecond),
		CloseTimeoutMs: int(duplex.DefaultCloseTimeout / time.Millisecond),
		HandshakeMs:    10_000,
	}
}

// Load reads a YAML file. ${VAR} references are expanded from the
// environment before parsing. A .env file next to the config is loaded
// first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML over Default and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once, joined, each wrapping
// auth.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{auth.ErrConfiguration}, args...)...))
	}

	if strings.TrimSpace(c.Endpoint) == "" {
		bad("endpoint is required")
	} else if _, err := endpoint.Parse(c.Endpoint); err != nil {
		bad("endpoint: %v", err)
	}

	hasKey := strings.TrimSpace(c.APIKey) != ""
	switch {
	case hasKey && !c.Token.empty():
		bad("api_key and token are mutually exclusive")
	case !hasKey && c.Token.empty():
		bad("one of api_key or token is required")
	case c.Token.JWT != "" && c.Token.ClientID != "":
		bad("token.jwt and token.client_id are mutually exclusive")
	case c.Token.JWT == "" && !c.Token.empty() &&
		(c.Token.ClientID == "" || c.Token.ClientSecret == "" || c.Token.TokenURL == ""):
		bad("token needs client_id, client_secret and token_url")
	}

	switch c.Transport {
	case TransportGorilla, TransportGobwas:
	default:
		bad("unknown transport %q", c.Transport)
	}
	if c.Audio.ChunkSize <= 0 {
		bad("audio.chunk_size must be positive")
	}
	if c.Audio.BytesPerSecond < 0 {
		bad("audio.bytes_per_second must not be negative")
	}
	if c.InboundBuffer <= 0 {
		bad("inbound_buffer must be positive")
	}
	if c.KeepaliveMs < 0 {
		bad("keepalive_ms must not be negative")
	}
	if c.CloseTimeoutMs <= 0 {
		bad("close_timeout_ms must be positive")
	}
	if c.HandshakeMs <= 0 {
		bad("handshake_timeout_ms must be positive")
	}
	return errors.Join(errs...)
}

// Credential builds the configured credential.
func (c *Config) Credential() (auth.Credential, error) {
	var provider auth.TokenProvider
	switch {
	case c.Token.JWT != "":
		p, err := auth.StaticJWT(c.Token.JWT)
		if err != nil {
			return nil, err
		}
		provider = p
	case !c.Token.empty():
		provider = auth.ClientCredentials(c.Token.ClientID, c.Token.ClientSecret, c.Token.TokenURL)
	}
	return auth.Select(c.APIKey, provider)
}

// Dialer returns the configured transport.
func (c *Config) Dialer() transport.Dialer {
	timeout := time.Duration(c.HandshakeMs) * time.Millisecond
	if c.Transport == TransportGobwas {
		return transport.Gobwas{Timeout: timeout}
	}
	return transport.Gorilla{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}}
}

// SessionOptions translates the config into session options.
func (c *Config) SessionOptions() []duplex.Option {
	opts := []duplex.Option{
		duplex.WithProtocolVersion(c.ProtocolVersion),
		duplex.WithModel(c.Deployment),
		duplex.WithDialer(c.Dialer()),
		duplex.WithAudioChunkSize(c.Audio.ChunkSize),
		duplex.WithAudioPacing(c.Audio.BytesPerSecond),
		duplex.WithInboundBuffer(c.InboundBuffer),
		duplex.WithKeepalive(time.Duration(c.KeepaliveMs) * time.Millisecond),
		duplex.WithCloseTimeout(time.Duration(c.CloseTimeoutMs) * time.Millisecond),
	}
	if len(c.Query) > 0 {
		q := url.Values{}
		for k, v := range c.Query {
			q.Set(k, v)
		}
		opts = append(opts, duplex.WithQuery(q))
	}
	for k, v := range c.Headers {
		opts = append(opts, duplex.WithHeader(k, v))
	}
	return opts
}

// NewSession validates the config and builds an Idle session. extra
// options are applied after the configured ones.
func (c *Config) NewSession(extra ...duplex.Option) (*duplex.Session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cred, err := c.Credential()
	if err != nil {
		return nil, err
	}
	return duplex.New(c.Endpoint, cred, append(c.SessionOptions(), extra...)...)
}
