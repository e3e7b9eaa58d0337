// Package auth owns per-account sessions: reuse, validation, re-login,
// and persistence, serialized per account so concurrent pipelines never
// race a login against each other.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"busbot/internal/fault"
	"busbot/internal/remote"
	"busbot/pkg/logx"
)

// Account is one set of remote credentials.
type Account struct {
	ID       string
	Username string
	Password string
}

// StoredSession is the persisted shape of a session.
type StoredSession struct {
	Token         string            `json:"token"`
	Cookies       map[string]string `json:"cookies"`
	LastValidated time.Time         `json:"lastValidated"`
}

// Store persists sessions across process restarts. Implementations must
// tolerate unknown accounts (return found=false, not an error).
type Store interface {
	GetSession(ctx context.Context, accountID string) (StoredSession, bool, error)
	PutSession(ctx context.Context, accountID string, s StoredSession) error
	DeleteSession(ctx context.Context, accountID string) error
}

type Config struct {
	// ProbeTTL skips the liveness probe when the session was validated
	// this recently. Zero probes on every acquisition.
	ProbeTTL time.Duration
}

type Manager struct {
	cfg    Config
	client *remote.Client
	store  Store // nil disables persistence
	log    logx.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	live  map[string]*liveSession
}

type liveSession struct {
	sess      *remote.Session
	validated time.Time
}

func NewManager(cfg Config, client *remote.Client, store Store, log logx.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		client: client,
		store:  store,
		log:    log,
		locks:  map[string]*sync.Mutex{},
		live:   map[string]*liveSession{},
	}
}

// Session returns an authenticated session for the account, reusing the
// in-process session, then the stored one, then logging in fresh. Calls
// for the same account are serialized; different accounts proceed in
// parallel.
func (m *Manager) Session(ctx context.Context, acct Account) (*remote.Session, error) {
	lock := m.accountLock(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	if ls := m.getLive(acct.ID); ls != nil {
		if m.fresh(ls.validated) {
			return ls.sess, nil
		}
		ok, err := ls.sess.Probe(ctx)
		if err == nil && ok {
			ls.validated = time.Now()
			m.persist(ctx, acct.ID, ls)
			return ls.sess, nil
		}
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.Timeout, "session probe", ctx.Err())
		}
		m.log.Debug("live session stale, discarding", logx.String("account", acct.ID))
		m.dropLive(acct.ID)
	}

	if sess := m.restore(ctx, acct); sess != nil {
		return sess, nil
	}

	return m.login(ctx, acct)
}

// Invalidate discards the in-process and stored session so the next
// acquisition logs in fresh. Used after the remote rejects a token
// mid-pipeline.
func (m *Manager) Invalidate(ctx context.Context, accountID string) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	m.dropLive(accountID)
	if m.store != nil {
		if err := m.store.DeleteSession(ctx, accountID); err != nil {
			m.log.Warn("dropping stored session failed",
				logx.String("account", accountID), logx.Err(err))
		}
	}
}

// Logout ends the remote session and forgets it locally. Best effort: the
// local state is dropped even when the remote call fails.
func (m *Manager) Logout(ctx context.Context, acct Account) error {
	lock := m.accountLock(acct.ID)
	lock.Lock()
	ls := m.getLive(acct.ID)
	m.dropLive(acct.ID)
	lock.Unlock()

	if m.store != nil {
		_ = m.store.DeleteSession(ctx, acct.ID)
	}
	if ls == nil {
		return nil
	}
	return ls.sess.Logout(ctx)
}

func (m *Manager) login(ctx context.Context, acct Account) (*remote.Session, error) {
	sess := m.client.NewSession()
	start := time.Now()
	if err := sess.Login(ctx, acct.Username, acct.Password); err != nil {
		var se *remote.ServerError
		if errors.As(err, &se) {
			// Credentials or account state refused; message kept verbatim.
			return nil, fault.New(fault.AuthenticationFailed, se.Message)
		}
		return nil, err
	}
	m.log.Info("logged in",
		logx.String("account", acct.ID),
		logx.Duration("took", time.Since(start)),
	)

	ls := &liveSession{sess: sess, validated: time.Now()}
	m.setLive(acct.ID, ls)
	m.persist(ctx, acct.ID, ls)
	return sess, nil
}

// restore revives a stored session when it still answers the probe.
// Any failure falls through to a fresh login.
func (m *Manager) restore(ctx context.Context, acct Account) *remote.Session {
	if m.store == nil {
		return nil
	}
	rec, found, err := m.store.GetSession(ctx, acct.ID)
	if err != nil {
		m.log.Warn("session store read failed",
			logx.String("account", acct.ID), logx.Err(err))
		return nil
	}
	if !found || rec.Token == "" {
		return nil
	}

	sess := m.client.NewSession()
	sess.Restore(remote.SessionState{Token: rec.Token, Cookies: rec.Cookies})
	ok, err := sess.Probe(ctx)
	if err != nil || !ok {
		m.log.Debug("stored session no longer valid",
			logx.String("account", acct.ID), logx.Err(err))
		_ = m.store.DeleteSession(ctx, acct.ID)
		return nil
	}

	ls := &liveSession{sess: sess, validated: time.Now()}
	m.setLive(acct.ID, ls)
	m.persist(ctx, acct.ID, ls)
	m.log.Debug("session restored from store", logx.String("account", acct.ID))
	return sess
}

func (m *Manager) persist(ctx context.Context, accountID string, ls *liveSession) {
	if m.store == nil {
		return
	}
	st := ls.sess.Export()
	rec := StoredSession{Token: st.Token, Cookies: st.Cookies, LastValidated: ls.validated}
	if err := m.store.PutSession(ctx, accountID, rec); err != nil {
		m.log.Warn("session store write failed",
			logx.String("account", accountID), logx.Err(err))
	}
}

func (m *Manager) fresh(validated time.Time) bool {
	return m.cfg.ProbeTTL > 0 && time.Since(validated) < m.cfg.ProbeTTL
}

func (m *Manager) accountLock(accountID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[accountID] = l
	}
	return l
}

func (m *Manager) getLive(accountID string) *liveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[accountID]
}

func (m *Manager) setLive(accountID string, ls *liveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[accountID] = ls
}

func (m *Manager) dropLive(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, accountID)
}
