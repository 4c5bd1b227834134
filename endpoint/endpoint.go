// Package endpoint rewrites a service base URL into the WebSocket URL a
// realtime session connects to.
package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// SessionPath is the path segment appended to the service base path.
	SessionPath = "realtime"

	// VersionParam carries the protocol version. The resolver always owns it.
	VersionParam = "api-version"

	// ModelParam carries the optional model/deployment hint.
	ModelParam = "deployment"

	// DefaultProtocolVersion is used when no version is configured.
	DefaultProtocolVersion = "2024-10-01-preview"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
)

// Parse parses a raw base endpoint and checks it has a scheme and host.
func Parse(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no scheme or host", ErrInvalidEndpoint, raw)
	}
	return u, nil
}

// ToConnectionURI maps base onto the session URL.
//
// Query parameters are merged with last-wins precedence: parameters already on
// base, then extra, then the protocol version, then the model hint. base is
// not modified.
func ToConnectionURI(base *url.URL, model string, extra url.Values, version string) (*url.URL, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base", ErrInvalidEndpoint)
	}

	scheme, err := wsScheme(base.Scheme)
	if err != nil {
		return nil, err
	}

	out := *base
	out.Scheme = scheme
	out.Fragment = ""
	out.RawFragment = ""
	out.Path = sessionPath(base.Path)
	out.RawPath = ""

	query := base.Query()
	for k, vs := range extra {
		if len(vs) == 0 {
			continue
		}
		query[k] = append([]string(nil), vs...)
	}
	if version == "" {
		version = DefaultProtocolVersion
	}
	query.Set(VersionParam, version)
	if model != "" {
		query.Set(ModelParam, model)
	}
	out.RawQuery = query.Encode()

	return &out, nil
}

func wsScheme(scheme string) (string, error) {
	switch strings.ToLower(scheme) {
	case "https", "wss":
		return "wss", nil
	case "http", "ws":
		return "ws", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// sessionPath appends SessionPath once, trimming trailing slashes first.
func sessionPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "/"+SessionPath || strings.HasSuffix(p, "/"+SessionPath) {
		return p
	}
	return p + "/" + SessionPath
}
