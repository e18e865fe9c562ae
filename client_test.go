package authclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...authclient.ClientOption) *authclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]authclient.ClientOption{authclient.WithClientLogger(authclient.NopLogger())}, opts...)
	return authclient.NewClient(authclient.Options{BaseURL: srv.URL, Timeout: time.Second}, opts...)
}

func TestClient_DefaultHeaders(t *testing.T) {
	var got http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}, authclient.WithDefaultHeader("X-Console", "admin"))

	_, err := client.Get(context.Background(), "/api/properties/")
	require.NoError(t, err)

	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "go-auth-client", got.Get("User-Agent"))
	assert.Equal(t, "admin", got.Get("X-Console"))
	assert.NotEmpty(t, got.Get(authclient.HeaderRequestID))
}

func TestClient_PostEncodesJSON(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/token/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access":"a","refresh":"r"}`)
	})

	resp, err := client.Post(context.Background(), "/api/token/", authclient.Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)

	pair := authclient.TokenPair{}
	require.NoError(t, resp.Decode(&pair))
	assert.Equal(t, authclient.TokenPair{Access: "a", Refresh: "r"}, pair)
	assert.Equal(t, map[string]string{"username": "admin", "password": "secret"}, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_QueryParameters(t *testing.T) {
	var query string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
	})

	_, err := client.Get(context.Background(), "api/properties/?page=2", authclient.WithQuery("district", "Sen Sok"))
	require.NoError(t, err)

	assert.Contains(t, query, "page=2")
	assert.Contains(t, query, "district=Sen+Sok")
}

func TestClient_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Invalid district"}`)
	})

	_, err := client.Get(context.Background(), "/api/properties/")
	require.Error(t, err)

	var httpErr *authclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "Invalid district", httpErr.Detail())
	assert.Equal(t, http.StatusBadRequest, authclient.StatusCode(err))
	assert.False(t, authclient.IsUnauthorized(err))
	assert.False(t, authclient.IsNetworkError(err))
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})

	_, err := client.Get(context.Background(), "/")

	var httpErr *authclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Nil(t, httpErr.Payload)
	assert.Empty(t, httpErr.Detail())
	assert.Equal(t, "<html>bad gateway</html>", string(httpErr.Body))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := authclient.NewClient(
		authclient.Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond},
		authclient.WithClientLogger(authclient.NopLogger()),
	)

	_, err := client.Get(context.Background(), "/slow")
	require.Error(t, err)
	assert.True(t, authclient.IsNetworkError(err))
	assert.True(t, authclient.IsTimeout(err))
	assert.Equal(t, 0, authclient.StatusCode(err))
}

func TestClient_NoResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := authclient.NewClient(authclient.Options{BaseURL: url}, authclient.WithClientLogger(authclient.NopLogger()))

	_, err := client.Get(context.Background(), "/")
	require.Error(t, err)
	assert.True(t, authclient.IsNetworkError(err))
	assert.False(t, authclient.IsTimeout(err))
}

func TestClient_RequestConstructionError(t *testing.T) {
	client := authclient.NewClient(authclient.Options{BaseURL: "http://example.test"}, authclient.WithClientLogger(authclient.NopLogger()))

	_, err := client.Post(context.Background(), "/", map[string]any{"bad": make(chan int)})

	var reqErr *authclient.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.False(t, authclient.IsNetworkError(err))
}

func TestClient_InterceptorOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	trace := func(name string) authclient.Interceptor {
		return func(next authclient.Handler) authclient.Handler {
			return func(ctx context.Context, req *authclient.Request) (*authclient.Response, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx, req)
			}
		}
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, authclient.WithInterceptors(trace("outer")))
	client.Use(trace("inner"))

	_, err := client.Get(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)

	order = nil
	_, err = client.Bare().Get(context.Background(), "/")
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestClient_DoDoesNotMutateRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
	})
	client.Use(func(next authclient.Handler) authclient.Handler {
		return func(ctx context.Context, req *authclient.Request) (*authclient.Response, error) {
			req.Header = http.Header{}
			req.Header.Set("Authorization", "Bearer tok")
			return next(ctx, req)
		}
	})

	req := &authclient.Request{Method: http.MethodGet, Path: "/"}
	_, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Nil(t, req.Header)
	assert.Equal(t, 0, req.Attempt)
}
