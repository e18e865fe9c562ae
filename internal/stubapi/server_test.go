package stubapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-auth-client/internal/stubapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStub(t *testing.T) *stubapi.Server {
	t.Helper()
	s := stubapi.New(stubapi.Options{})
	require.NoError(t, s.AddUser("admin", "secret", true))
	require.NoError(t, s.AddUser("agent", "secret", false))
	return s
}

func call(t *testing.T, s *stubapi.Server, method, path, body, bearer string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func login(t *testing.T, s *stubapi.Server, username string) (string, string) {
	t.Helper()
	status, body := call(t, s, http.MethodPost, "/api/token/", `{"username":"`+username+`","password":"secret"}`, "")
	require.Equal(t, http.StatusOK, status)
	return body["access"].(string), body["refresh"].(string)
}

func TestToken_IssuesPair(t *testing.T) {
	s := newStub(t)

	access, refresh := login(t, s, "admin")

	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)
}

func TestToken_BadCredentials(t *testing.T) {
	s := newStub(t)

	status, body := call(t, s, http.MethodPost, "/api/token/", `{"username":"admin","password":"nope"}`, "")

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, stubapi.DetailBadCredentials, body["detail"])
}

func TestToken_MissingFields(t *testing.T) {
	s := newStub(t)

	status, body := call(t, s, http.MethodPost, "/api/token/", `{"username":"admin"}`, "")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "password")
}

func TestCheckAdmin(t *testing.T) {
	s := newStub(t)

	adminAccess, _ := login(t, s, "admin")
	status, body := call(t, s, http.MethodGet, "/api/check-admin/", "", adminAccess)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["is_admin"])
	assert.Equal(t, "admin", body["username"])

	agentAccess, _ := login(t, s, "agent")
	status, body = call(t, s, http.MethodGet, "/api/check-admin/", "", agentAccess)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["is_admin"])
}

func TestCheckAdmin_RejectsRefreshToken(t *testing.T) {
	s := newStub(t)
	_, refresh := login(t, s, "admin")

	status, body := call(t, s, http.MethodGet, "/api/check-admin/", "", refresh)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, stubapi.DetailTokenInvalid, body["detail"])
}

func TestExpireAccessTokens_RefreshRecovers(t *testing.T) {
	s := newStub(t)
	access, refresh := login(t, s, "admin")

	s.ExpireAccessTokens()

	status, _ := call(t, s, http.MethodGet, "/api/properties/", "", access)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, s, http.MethodPost, "/api/token/refresh/", `{"refresh":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, status)

	status, body = call(t, s, http.MethodGet, "/api/properties/", "", body["access"].(string))
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["count"])
	assert.Equal(t, 1, s.Stats().Refreshes)
}

func TestRejectRefresh(t *testing.T) {
	s := newStub(t)
	_, refresh := login(t, s, "admin")
	s.RejectRefresh(true)

	status, body := call(t, s, http.MethodPost, "/api/token/refresh/", `{"refresh":"`+refresh+`"}`, "")

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token_not_valid", body["code"])
}

func TestAdminStats_ForbiddenForAgents(t *testing.T) {
	s := newStub(t)
	access, _ := login(t, s, "agent")

	status, body := call(t, s, http.MethodGet, "/api/admin/stats/", "", access)

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, stubapi.DetailForbidden, body["detail"])
}
