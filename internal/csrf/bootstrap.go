package csrf

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBootstrapPath is the endpoint returning a fresh token.
const DefaultBootstrapPath = "/api/csrf-token"

// ErrNoToken is returned when the bootstrap endpoint yields no token.
var ErrNoToken = errors.New("csrf: bootstrap returned no token")

// Payload is the data returned by the bootstrap endpoint.
type Payload struct {
	CSRFToken string `json:"csrf_token"`
	Token     string `json:"token"`
}

// FetchFunc performs the bootstrap GET and decodes its unwrapped data into out.
type FetchFunc func(ctx context.Context, path string, out any) error

// Bootstrap fetches a fresh token from path and stores it in meta.
// The server usually also sets the cookie; the meta copy covers deployments
// that only publish the token in the response body.
func Bootstrap(ctx context.Context, fetch FetchFunc, path string, meta *MetaSource) (string, error) {
	if path == "" {
		path = DefaultBootstrapPath
	}
	var p Payload
	if err := fetch(ctx, path, &p); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	token := p.CSRFToken
	if token == "" {
		token = p.Token
	}
	if token == "" {
		return "", ErrNoToken
	}
	if meta != nil {
		meta.Set(token)
	}
	return token, nil
}
