// Package auth resolves the acting principal from a bearer credential,
// best-effort. Guest checkout must keep working even when verification is
// flaky, so resolution failures are observations, never errors.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Resolver turns a bearer token into a user id. ok=false means the caller is
// treated as unauthenticated; there is no error to propagate.
type Resolver interface {
	Resolve(ctx context.Context, token string) (userID string, ok bool)
}

// HTTPResolver verifies tokens against the auth backend's user endpoint.
type HTTPResolver struct {
	BaseURL    string // e.g. https://auth.internal
	ServiceKey string
	Client     *http.Client
	Log        *zap.Logger
}

func NewHTTPResolver(baseURL, serviceKey string, log *zap.Logger) *HTTPResolver {
	return &HTTPResolver{
		BaseURL:    baseURL,
		ServiceKey: serviceKey,
		Client:     &http.Client{Timeout: 3 * time.Second},
		Log:        log,
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, token string) (string, bool) {
	if token == "" || r.BaseURL == "" {
		return "", false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if r.ServiceKey != "" {
		req.Header.Set("apikey", r.ServiceKey)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		r.Log.Debug("identity resolution failed, continuing as guest", zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ID == "" {
		return "", false
	}
	return body.ID, true
}

// BearerToken extracts the token from an Authorization header, or "".
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
