package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "usba.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// countingStore records store calls in memory.
type countingStore struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	gets    int
	updates int
	failGet error
}

func newCountingStore() *countingStore {
	return &countingStore{users: make(map[string]*domain.User)}
}

func (s *countingStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet != nil {
		return nil, s.failGet
	}
	if u, ok := s.users[userID]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (s *countingStore) UpsertUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *user
	s.users[user.UserID] = &c
	return nil
}

func (s *countingStore) UpdateLastSeen(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.users[userID].LastSeenAt = at
	return nil
}

func serve(h http.Handler, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	if id != "" {
		req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTracker_IssuesCookieAndCreatesUser(t *testing.T) {
	t.Parallel()

	repo := newRepo(t)
	var got Device
	h := NewTracker(repo, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = DeviceFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set(TabHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(got.UserID) {
		t.Fatalf("user id = %q", got.UserID)
	}
	if got.TabID != "tab-1" {
		t.Errorf("tab id = %q", got.TabID)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != got.UserID || cookies[0].Secure {
		t.Fatalf("cookies = %+v", cookies)
	}

	user, err := repo.GetUser(context.Background(), got.UserID)
	if err != nil || user == nil || user.Username != usernameFor(got.UserID) {
		t.Fatalf("user = %+v, %v", user, err)
	}
}

func TestTracker_ReusesValidCookie(t *testing.T) {
	t.Parallel()

	id := "anon_0123456789abcdef0123456789abcdef"
	var gotUser string
	h := NewTracker(newRepo(t), false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	for range 2 {
		serve(h, id)
		if gotUser != id {
			t.Fatalf("user id = %q, want %q", gotUser, id)
		}
	}

	serve(h, "anon_../../etc")
	if gotUser == "anon_../../etc" || !isValidAnonID(gotUser) {
		t.Fatalf("invalid cookie accepted: %q", gotUser)
	}
}

func TestTracker_ThrottlesStoreWrites(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	tr := NewTracker(st, true)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	h := tr.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	id := "anon_0123456789abcdef0123456789abcdef"
	for range 5 {
		serve(h, id)
	}
	if st.gets != 1 || st.updates != 0 {
		t.Fatalf("gets = %d, updates = %d, want 1 and 0", st.gets, st.updates)
	}

	now = now.Add(2 * time.Minute)
	serve(h, id)
	if st.gets != 2 || st.updates != 1 {
		t.Fatalf("gets = %d, updates = %d, want 2 and 1", st.gets, st.updates)
	}
	if !st.users[id].LastSeenAt.Equal(now) {
		t.Errorf("last seen = %v, want %v", st.users[id].LastSeenAt, now)
	}

	if n := tr.Prune(time.Minute); n != 0 {
		t.Errorf("pruned %d fresh devices", n)
	}
	now = now.Add(time.Hour)
	if n := tr.Prune(time.Minute); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestTracker_StoreFailureRetriesNextRequest(t *testing.T) {
	t.Parallel()

	st := newCountingStore()
	st.failGet = errors.New("database is locked")
	called := false
	h := NewTracker(st, true).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	id := "anon_0123456789abcdef0123456789abcdef"
	if rec := serve(h, id); rec.Code != http.StatusInternalServerError || called {
		t.Fatalf("status = %d, called = %v", rec.Code, called)
	}

	st.failGet = nil
	if rec := serve(h, id); rec.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v after recovery", rec.Code, called)
	}
}

func TestTabID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":           DefaultTabIDValue,
		"  tab-9 ":   "tab-9",
		"bad tab id": DefaultTabIDValue,
		"a.b:c_d-1":  "a.b:c_d-1",
		"<script>":   DefaultTabIDValue,
	}
	for in, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TabHeaderName, in)
		if got := tabID(req); got != want {
			t.Errorf("tabID(%q) = %q, want %q", in, got, want)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/ws/session?tab_id=tab-7", nil)
	if got := tabID(req); got != "tab-7" {
		t.Errorf("query tab id = %q", got)
	}
}

func TestContextDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || TabIDFromContext(ctx) != DefaultTabIDValue {
		t.Fatal("empty context should have no user and the default tab")
	}
	ctx = WithUser(ctx, "anon_x")
	if UserIDFromContext(ctx) != "anon_x" || TabIDFromContext(ctx) != DefaultTabIDValue {
		t.Errorf("WithUser: %q %q", UserIDFromContext(ctx), TabIDFromContext(ctx))
	}
}
