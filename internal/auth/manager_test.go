package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busbot/internal/fault"
	"busbot/internal/remote"
	"busbot/pkg/logx"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu   sync.Mutex
	recs map[string]StoredSession
}

func newFakeStore() *fakeStore { return &fakeStore{recs: map[string]StoredSession{}} }

func (s *fakeStore) GetSession(_ context.Context, id string) (StoredSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	return r, ok, nil
}

func (s *fakeStore) PutSession(_ context.Context, id string, r StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[id] = r
	return nil
}

func (s *fakeStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

// authServer scripts loginProc and getMainPsgrInfo. A token is live when
// it is in the valid set.
type authServer struct {
	mu     sync.Mutex
	valid  map[string]bool
	logins int
	probes int
}

func (s *authServer) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.URL.Query().Get("action") {
	case "loginProc":
		var body struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ID == "" {
			_, _ = w.Write([]byte(`{"result":"FAIL","msg":"missing id"}`))
			return
		}
		s.logins++
		tok := "tok-" + body.ID
		s.valid[tok] = true
		_, _ = w.Write([]byte(`{"result":"OK","data":"` + tok + `"}`))
	case "getMainPsgrInfo":
		s.probes++
		if s.valid[r.Header.Get("Authorization")] {
			_, _ = w.Write([]byte(`{"result":"OK"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":"FAIL","msg":"login required"}`))
	case "logoutProc":
		delete(s.valid, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"result":"OK"}`))
	default:
		_, _ = w.Write([]byte(`{"result":"FAIL","msg":"unknown action"}`))
	}
}

func newManager(t *testing.T, srv *authServer, store Store, ttl time.Duration) *Manager {
	t.Helper()
	hs := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(hs.Close)
	client, err := remote.New(remote.Config{BaseURL: hs.URL}, logx.Nop())
	require.NoError(t, err)
	return NewManager(Config{ProbeTTL: ttl}, client, store, logx.Nop())
}

var alice = Account{ID: "alice", Username: "alice", Password: "pw"}

func TestSessionLogsInOnceWithinTTL(t *testing.T) {
	t.Parallel()

	srv := &authServer{valid: map[string]bool{}}
	m := newManager(t, srv, nil, time.Minute)

	s1, err := m.Session(context.Background(), alice)
	require.NoError(t, err)
	s2, err := m.Session(context.Background(), alice)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, srv.logins)
	assert.Equal(t, "tok-alice", s1.Token())
}

func TestSessionRestoredFromStore(t *testing.T) {
	t.Parallel()

	srv := &authServer{valid: map[string]bool{"tok-old": true}}
	store := newFakeStore()
	require.NoError(t, store.PutSession(context.Background(), "alice", StoredSession{
		Token:         "tok-old",
		LastValidated: time.Now().Add(-time.Hour),
	}))
	m := newManager(t, srv, store, time.Minute)

	sess, err := m.Session(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "tok-old", sess.Token())
	assert.Equal(t, 0, srv.logins, "valid stored session must not trigger a login")
	assert.Equal(t, 1, srv.probes)
}

func TestStaleStoredSessionFallsBackToLogin(t *testing.T) {
	t.Parallel()

	srv := &authServer{valid: map[string]bool{}}
	store := newFakeStore()
	require.NoError(t, store.PutSession(context.Background(), "alice", StoredSession{Token: "tok-dead"}))
	m := newManager(t, srv, store, time.Minute)

	sess, err := m.Session(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", sess.Token())
	assert.Equal(t, 1, srv.logins)

	// The dead record was replaced by the fresh one.
	rec, ok, err := store.GetSession(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-alice", rec.Token)
}

func TestInvalidateForcesRelogin(t *testing.T) {
	t.Parallel()

	srv := &authServer{valid: map[string]bool{}}
	store := newFakeStore()
	m := newManager(t, srv, store, time.Minute)

	_, err := m.Session(context.Background(), alice)
	require.NoError(t, err)
	m.Invalidate(context.Background(), "alice")

	_, ok, err := store.GetSession(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok, "stored session must be dropped")

	_, err = m.Session(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.logins)
}

func TestLoginRefusalIsClassified(t *testing.T) {
	t.Parallel()

	srv := &authServer{valid: map[string]bool{}}
	m := newManager(t, srv, nil, time.Minute)

	_, err := m.Session(context.Background(), Account{ID: "ghost", Username: "", Password: "pw"})
	require.Error(t, err)
	assert.Equal(t, fault.AuthenticationFailed, fault.KindOf(err))
	assert.Equal(t, "missing id", fault.MessageOf(err))
}

func TestConcurrentSessionCallsSerializePerAccount(t *testing.T) {
	t.Parallel()

	srv := &authServer{valid: map[string]bool{}}
	m := newManager(t, srv, nil, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Session(context.Background(), alice)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, srv.logins, "concurrent callers must share one login")
}
