package authclient

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Refresher exchanges a refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

// TokenRefresher calls the refresh endpoint on a client with no
// interceptors so a rejected refresh never re-enters 401 handling.
type TokenRefresher struct {
	client *Client
	path   string
	group  *singleflight.Group
}

// NewTokenRefresher uses client.Bare() for every call
func NewTokenRefresher(client *Client) *TokenRefresher {
	return &TokenRefresher{
		client: client.Bare(),
		path:   client.Config().GetRefreshPath(),
	}
}

// WithSingleFlight coalesces concurrent refreshes that use the same refresh
// token into one network call. Off by default: without it every request
// that sees a 401 runs its own refresh.
func (r *TokenRefresher) WithSingleFlight() *TokenRefresher {
	r.group = &singleflight.Group{}
	return r
}

func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if r.group == nil {
		return r.refresh(ctx, refreshToken)
	}

	v, err, _ := r.group.Do(refreshToken, func() (any, error) {
		return r.refresh(ctx, refreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *TokenRefresher) refresh(ctx context.Context, refreshToken string) (string, error) {
	resp, err := r.client.Post(ctx, r.path, refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", err
	}

	payload := refreshResponse{}
	if err := resp.Decode(&payload); err != nil {
		return "", err
	}

	if payload.Access == "" {
		return "", NewAuthError(MsgRefreshFailed, TextCodeRefreshFailed).
			WithMetadata(map[string]any{"reason": "empty access token"})
	}

	return payload.Access, nil
}
