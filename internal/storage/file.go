package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "busbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.results.jsonl           (append-only JSON Lines)
//   - <prefix>.sessions.snapshot.json  (periodic snapshot)
//   - <prefix>.sessions.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	resultsPath string
	resultsFile *os.File

	sessionSnapshotPath string
	sessionJournalFile  *os.File
	sessions            map[string]SessionRecord

	sessionWrites int
}

type sessionJournalRecord struct {
	AccountID string         `json:"accountId"`
	Deleted   bool           `json:"deleted,omitempty"`
	Record    *SessionRecord `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	resultsPath := prefix + ".results.jsonl"
	snapPath := prefix + ".sessions.snapshot.json"
	journalPath := prefix + ".sessions.journal.jsonl"

	rf, err := os.OpenFile(resultsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load sessions from snapshot + journal.
	sessions := map[string]SessionRecord{}
	_ = loadSessionSnapshot(snapPath, sessions)
	_ = replaySessionJournal(journalPath, sessions)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:                 log,
		resultsPath:         resultsPath,
		resultsFile:         rf,
		sessionSnapshotPath: snapPath,
		sessionJournalFile:  jf,
		sessions:            sessions,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.resultsFile != nil {
		err1 = s.resultsFile.Close()
		s.resultsFile = nil
	}
	if s.sessionJournalFile != nil {
		err2 = s.sessionJournalFile.Close()
		s.sessionJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) PutSession(ctx context.Context, accountID string, rec SessionRecord) error {
	_ = ctx
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionJournalFile == nil {
		return errors.New("session journal closed")
	}
	if s.sessions == nil {
		s.sessions = map[string]SessionRecord{}
	}
	s.sessions[accountID] = rec
	return s.journalLocked(sessionJournalRecord{AccountID: accountID, Record: &rec})
}

func (s *fileStore) GetSession(ctx context.Context, accountID string) (SessionRecord, bool, error) {
	_ = ctx
	accountID = strings.TrimSpace(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[accountID]
	return rec, ok, nil
}

func (s *fileStore) DeleteSession(ctx context.Context, accountID string) error {
	_ = ctx
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[accountID]; !ok {
		return nil
	}
	delete(s.sessions, accountID)
	if s.sessionJournalFile == nil {
		return errors.New("session journal closed")
	}
	return s.journalLocked(sessionJournalRecord{AccountID: accountID, Deleted: true})
}

func (s *fileStore) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.sessions {
		if rec.LastValidated.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		if err := s.compactLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *fileStore) AppendResult(ctx context.Context, e ResultEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsFile == nil {
		return errors.New("results file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.resultsFile).Encode(e)
}

func (s *fileStore) RecentResults(ctx context.Context, limit int) ([]ResultEntry, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	path := s.resultsPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Ring over the tail; result files stay small enough to scan.
	ring := make([]ResultEntry, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e ResultEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, e)
	}
	return ring, sc.Err()
}

func (s *fileStore) journalLocked(rec sessionJournalRecord) error {
	if err := json.NewEncoder(s.sessionJournalFile).Encode(rec); err != nil {
		return err
	}
	s.sessionWrites++
	if s.sessionWrites%200 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("session compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.sessions == nil {
		return nil
	}
	tmp := s.sessionSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.sessions); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.sessionSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if s.sessionJournalFile == nil {
		return nil
	}
	if err := s.sessionJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.sessionJournalFile.Seek(0, 2)
	return err
}

func loadSessionSnapshot(path string, out map[string]SessionRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]SessionRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replaySessionJournal(path string, out map[string]SessionRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r sessionJournalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.AccountID == "" {
			continue
		}
		if r.Deleted {
			delete(out, r.AccountID)
			continue
		}
		if r.Record != nil {
			out[r.AccountID] = *r.Record
		}
	}
	return sc.Err()
}
