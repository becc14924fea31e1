package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ParthMatta-9921/Chatapp/internal/auth"
	"github.com/ParthMatta-9921/Chatapp/internal/store"
)

func newTestAPI(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := gin.New()
	NewHandler(zaptest.NewLogger(t), st, auth.NewManager("test-secret", time.Hour)).Register(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(t, req)
}

func getJSON(t *testing.T, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(t, req)
}

func doJSON(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

// signup creates an account and returns its id and a login token.
func signup(t *testing.T, srv *httptest.Server, username string) (int64, string) {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/auth/signup", "",
		fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":"hunter2hunter2"}`, username, username))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "signup body: %v", body)
	id := int64(body["id"].(float64))

	resp, body = postJSON(t, srv.URL+"/auth/login", "",
		fmt.Sprintf(`{"username":%q,"password":"hunter2hunter2"}`, username))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bearer", body["token_type"])
	return id, body["access_token"].(string)
}

func TestSignupValidation(t *testing.T) {
	srv, _ := newTestAPI(t)

	cases := []struct {
		name string
		body string
	}{
		{"short username", `{"username":"ab","email":"a@example.com","password":"hunter2hunter2"}`},
		{"bad email", `{"username":"alice","email":"nope","password":"hunter2hunter2"}`},
		{"short password", `{"username":"alice","email":"a@example.com","password":"short"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := postJSON(t, srv.URL+"/auth/signup", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSignupDuplicateConflict(t *testing.T) {
	srv, _ := newTestAPI(t)
	signup(t, srv, "alice")

	resp, _ := postJSON(t, srv.URL+"/auth/signup", "",
		`{"username":"alice","email":"other@example.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestAPI(t)
	signup(t, srv, "alice")

	resp, _ := postJSON(t, srv.URL+"/auth/login", "", `{"username":"alice","password":"wrongwrong"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/auth/login", "", `{"username":"nobody","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFriendsRequireAuth(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp, _ := getJSON(t, srv.URL+"/friends", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = getJSON(t, srv.URL+"/friends", "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFriendshipLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestAPI(t)
	aliceID, aliceTok := signup(t, srv, "alice")
	bobID, bobTok := signup(t, srv, "bob")

	// Alice requests, Bob sees it pending, accepts, both list each other.
	resp, _ := postJSON(t, srv.URL+"/friends/request", aliceTok,
		fmt.Sprintf(`{"receiver_id":%d}`, bobID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := getJSON(t, srv.URL+"/friends/requests", bobTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := body["requests"].([]any)
	require.Len(t, pending, 1)
	assert.Equal(t, float64(aliceID), pending[0].(map[string]any)["friend_id"])
	assert.Equal(t, "pending", pending[0].(map[string]any)["status"])

	resp, _ = postJSON(t, srv.URL+"/friends/respond", bobTok,
		fmt.Sprintf(`{"sender_id":%d,"action":"accept"}`, aliceID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = getJSON(t, srv.URL+"/friends", aliceTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	friends := body["friends"].([]any)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].(map[string]any)["username"])

	// Removal is visible to both sides.
	resp, _ = doDelete(t, srv.URL+fmt.Sprintf("/friends/%d", aliceID), bobTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = getJSON(t, srv.URL+"/friends", aliceTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["friends"])
}

func TestFriendRequestEdgeCases(t *testing.T) {
	srv, _ := newTestAPI(t)
	aliceID, aliceTok := signup(t, srv, "alice")
	bobID, _ := signup(t, srv, "bob")

	resp, _ := postJSON(t, srv.URL+"/friends/request", aliceTok,
		fmt.Sprintf(`{"receiver_id":%d}`, aliceID))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "self-add")

	resp, _ = postJSON(t, srv.URL+"/friends/request", aliceTok, `{"receiver_id":99999}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown receiver")

	resp, _ = postJSON(t, srv.URL+"/friends/request", aliceTok,
		fmt.Sprintf(`{"receiver_id":%d}`, bobID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/friends/request", aliceTok,
		fmt.Sprintf(`{"receiver_id":%d}`, bobID))
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate request")
}

func TestRespondToMissingRequest(t *testing.T) {
	srv, _ := newTestAPI(t)
	aliceID, _ := signup(t, srv, "alice")
	_, bobTok := signup(t, srv, "bob")

	resp, _ := postJSON(t, srv.URL+"/friends/respond", bobTok,
		fmt.Sprintf(`{"sender_id":%d,"action":"decline"}`, aliceID))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func doDelete(t *testing.T, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return doJSON(t, req)
}
