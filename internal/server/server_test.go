package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sologram/internal/auth"
	"sologram/internal/config"
	"sologram/internal/media"
	"sologram/internal/models"
	"sologram/internal/store/memory"
)

const testSecret = "test-secret"

type testServer struct {
	app   *fiber.App
	store *memory.Store
	srv   *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Port:         "0",
		Env:          "test",
		StoreBackend: "memory",
		JWTSecret:    testSecret,
	}
	st := memory.New()
	srv := NewServerWithDeps(cfg, st, nil, auth.NewDevVerifier(testSecret), media.NewFake())
	return &testServer{app: srv.BuildApp(), store: st, srv: srv}
}

func token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := auth.IssueDevToken(testSecret, uid, uid+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := ts.app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) createPost(t *testing.T, tok string) models.Post {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/posts/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := ts.app.Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[models.Post](t, resp)
}

func TestHealthLiveness(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthReadiness(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestGetPostsPublicAndEmpty(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/posts/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	posts := decodeBody[[]models.Post](t, resp)
	assert.Empty(t, posts)
}

func TestCreatePostRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/posts/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePostAndFetchFeed(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")

	post := ts.createPost(t, alice)
	assert.NotEmpty(t, post.ID)
	assert.NotEmpty(t, post.ImageURL)
	assert.Equal(t, "alice", post.Author.UID)
	assert.Equal(t, 0, post.Likes)

	resp := ts.do(t, http.MethodGet, "/api/posts/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	posts := decodeBody[[]models.Post](t, resp)
	require.Len(t, posts, 1)
	assert.Equal(t, post.ID, posts[0].ID)
}

func TestCreatePostWithoutImage(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/posts/", token(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLikePostToggles(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")
	bob := token(t, "bob")
	post := ts.createPost(t, alice)

	resp := ts.do(t, http.MethodPost, "/api/posts/"+post.ID+"/like", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]bool](t, resp)
	assert.True(t, body["liked"])

	resp = ts.do(t, http.MethodPost, "/api/posts/"+post.ID+"/like", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody[map[string]bool](t, resp)
	assert.False(t, body["liked"])
}

func TestLikeMissingPost(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/posts/nope/like", token(t, "bob"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommentsRoundtrip(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")
	post := ts.createPost(t, alice)

	resp := ts.do(t, http.MethodPost, "/api/posts/"+post.ID+"/comments",
		token(t, "bob"), map[string]string{"text": "great shot"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	comments := decodeBody[[]models.Comment](t, resp)
	require.Len(t, comments, 1)
	assert.Equal(t, "great shot", comments[0].Text)
	assert.Equal(t, "bob", comments[0].Author.UID)

	// Comments are readable without authentication.
	resp = ts.do(t, http.MethodGet, "/api/posts/"+post.ID+"/comments", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comments = decodeBody[[]models.Comment](t, resp)
	require.Len(t, comments, 1)
}

func TestCommentRequiresText(t *testing.T) {
	ts := newTestServer(t)
	post := ts.createPost(t, token(t, "alice"))

	resp := ts.do(t, http.MethodPost, "/api/posts/"+post.ID+"/comments",
		token(t, "bob"), map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeletePostAuthorOnlyHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")
	post := ts.createPost(t, alice)

	resp := ts.do(t, http.MethodDelete, "/api/posts/"+post.ID, token(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/posts/"+post.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, ts.store.Len("posts"))
}

func TestProfileUpdateAndFetch(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")

	resp := ts.do(t, http.MethodPut, "/api/users/me", alice,
		map[string]string{"username": "alice_w", "bio": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decodeBody[models.UserProfile](t, resp)
	assert.Equal(t, "alice_w", profile.Username)
	assert.Equal(t, "alice@example.com", profile.Email)

	resp = ts.do(t, http.MethodGet, "/api/users/me", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile = decodeBody[models.UserProfile](t, resp)
	assert.Equal(t, "alice_w", profile.Username)
	assert.Equal(t, "hello", profile.Bio)
}

func TestGetUsersExcludesCaller(t *testing.T) {
	ts := newTestServer(t)
	for _, uid := range []string{"alice", "bob"} {
		resp := ts.do(t, http.MethodPut, "/api/users/me", token(t, uid),
			map[string]string{"username": "user-" + uid})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := ts.do(t, http.MethodGet, "/api/users/", token(t, "alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decodeBody[[]models.UserProfile](t, resp)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].UID)
}

func TestGetUserPosts(t *testing.T) {
	ts := newTestServer(t)
	ts.createPost(t, token(t, "alice"))
	ts.createPost(t, token(t, "bob"))

	resp := ts.do(t, http.MethodGet, "/api/users/alice/posts", token(t, "bob"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	posts := decodeBody[[]models.Post](t, resp)
	require.Len(t, posts, 1)
	assert.Equal(t, "alice", posts[0].Author.UID)
}

func TestChatSendAndFetch(t *testing.T) {
	ts := newTestServer(t)
	alice := token(t, "alice")
	bob := token(t, "bob")

	resp := ts.do(t, http.MethodPost, "/api/chats/bob/messages", alice,
		map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]string](t, resp)
	assert.NotEmpty(t, created["id"])

	// Both sides see the same conversation.
	resp = ts.do(t, http.MethodGet, "/api/chats/alice/messages", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[[]models.Message](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].SenderID)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/chats/bob/messages", token(t, "alice"),
		map[string]string{"text": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/chats/bob/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInvalidTokenRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/users/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserDirectoryStreamRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)

	// A plain GET on a websocket route proves the route exists and is
	// reachable through auth without performing a full upgrade.
	resp := ts.do(t, http.MethodGet, "/api/ws/users", token(t, "alice"), nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestResponsesCarryTraceID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
}
