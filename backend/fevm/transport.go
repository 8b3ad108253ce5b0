package fevm

import (
	"fmt"
	"net/http"
)

// bearerTransport is an http.RoundTripper that authenticates JSON-RPC
// requests with a bearer token.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func newBearerTransport(base http.RoundTripper, token string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if token == "" {
		return base
	}
	return &bearerTransport{base: base, token: token}
}

// RoundTrip implements http.RoundTripper.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.token))
	return t.base.RoundTrip(clone)
}
