package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab/codecollab/internal/crypto"
	"github.com/codecollab/codecollab/internal/models"
	"github.com/codecollab/codecollab/internal/store"
)

type fakeLive struct {
	members map[string][]string
}

func (f *fakeLive) Members(room string) []string {
	if m, ok := f.members[room]; ok {
		return m
	}
	return []string{}
}

func (f *fakeLive) Stats() (int, int) {
	conns := 0
	for _, m := range f.members {
		conns += len(m)
	}
	return len(f.members), conns
}

type testEnv struct {
	db     *store.SQLiteStore
	tokens *crypto.TokenIssuer
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	tokens := crypto.NewTokenIssuer("test-secret", time.Hour)
	live := &fakeLive{members: map[string][]string{"lobby": {"ada", "bob"}}}
	h := NewHandler(db, nil, tokens, live)

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Post("/api/register", h.Register)
	r.Post("/api/login", h.Login)
	r.Get("/api/rooms/list", h.ListRooms)
	r.Get("/api/rooms/{name}", h.GetRoom)
	r.Get("/api/users/{id}", h.GetUser)
	r.Get("/api/stats", h.Stats)

	return &testEnv{db: db, tokens: tokens, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "pass", resp.Checks["database"].Status)
	assert.Equal(t, "skip", resp.Checks["redis"].Status)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/register", RegisterRequest{Email: "Ada@Example.com", Name: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp RegisterResponse
	decode(t, rec, &resp)
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.ID)

	user, err := env.db.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Ada", user.Name)

	rec = env.do(t, http.MethodPost, "/api/register", RegisterRequest{Email: "ada@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// racingStore hides existing users from the pre-insert lookup, as if a
// concurrent registration committed between the lookup and the insert.
type racingStore struct {
	store.DataStore
}

func (racingStore) GetUserByEmail(context.Context, string) (*models.User, error) {
	return nil, nil
}

func TestRegisterConcurrentDuplicate(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.db.CreateUser(context.Background(), "ada@example.com", "Ada", "")
	require.NoError(t, err)

	h := NewHandler(racingStore{env.db}, nil, env.tokens, &fakeLive{})
	body := bytes.NewBufferString(`{"email":"ada@example.com"}`)
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/register", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing email", RegisterRequest{Name: "x"}},
		{"bad email", RegisterRequest{Email: "not-an-email"}},
		{"short password", RegisterRequest{Email: "a@b.io", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/register", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/login", LoginRequest{Email: "ghost@example.com"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/register", RegisterRequest{Email: "ada@example.com", Name: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", LoginRequest{Email: "ada@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "Ada", resp.User)

	claims, err := env.tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada", claims.Name)
}

func TestLoginPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/register", RegisterRequest{Email: "bob@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", LoginRequest{Email: "bob@example.com", Password: "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", LoginRequest{Email: "bob@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	decode(t, rec, &resp)
	// Name defaults to the email
	assert.Equal(t, "bob@example.com", resp.User)
}

func TestRooms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lobby, err := env.db.EnsureRoom(ctx, "lobby")
	require.NoError(t, err)
	require.NoError(t, env.db.IncrementEditCount(ctx, lobby.ID))
	_, err = env.db.EnsureRoom(ctx, "side")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/rooms/list?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list RoomListResponse
	decode(t, rec, &list)
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Rooms, 2)

	online := map[string]int{}
	for _, r := range list.Rooms {
		online[r.Name] = r.Online
	}
	assert.Equal(t, 2, online["lobby"])
	assert.Equal(t, 0, online["side"])

	rec = env.do(t, http.MethodGet, "/api/rooms/lobby", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail RoomDetailResponse
	decode(t, rec, &detail)
	assert.Equal(t, "lobby", detail.Room.Name)
	assert.Equal(t, int64(1), detail.Room.EditCount)
	assert.Equal(t, []string{"ada", "bob"}, detail.Online)
	assert.Nil(t, detail.Snapshot)

	rec = env.do(t, http.MethodGet, "/api/rooms/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/rooms/bad%20name", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/register", RegisterRequest{Email: "ada@example.com", Name: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reg RegisterResponse
	decode(t, rec, &reg)

	rec = env.do(t, http.MethodGet, "/api/users/"+reg.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile UserProfile
	decode(t, rec, &profile)
	assert.Equal(t, "Ada", profile.Name)
	assert.NotContains(t, rec.Body.String(), "ada@example.com")

	rec = env.do(t, http.MethodGet, "/api/users/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	decode(t, rec, &resp)
	assert.Equal(t, "no activity yet", resp.LastActivity)
	assert.Equal(t, 1, resp.LiveRooms)
	assert.Equal(t, 2, resp.ActiveConnections)

	_, err := env.db.EnsureRoom(context.Background(), "lobby")
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/stats", nil)
	decode(t, rec, &resp)
	assert.Equal(t, int64(1), resp.TotalRooms)
	assert.Equal(t, "just now", resp.LastActivity)
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatTimeAgo(now))
	assert.Equal(t, "1 minute ago", formatTimeAgo(now.Add(-90*time.Second)))
	assert.Equal(t, "5 minutes ago", formatTimeAgo(now.Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "2 hours ago", formatTimeAgo(now.Add(-2*time.Hour-time.Second)))
	assert.Equal(t, "3 days ago", formatTimeAgo(now.Add(-72*time.Hour-time.Second)))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Ada", sanitizeName("  Ada\x00 "))
	assert.Len(t, []rune(sanitizeName(string(bytes.Repeat([]byte("x"), 150)))), 100)
}

func TestMeRequiresAuthenticatedUser(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.db, nil, env.tokens, nil)

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
