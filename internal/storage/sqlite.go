//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "busbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutSession(ctx context.Context, accountID string, rec SessionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil
	}
	cookies := ""
	if len(rec.Cookies) > 0 {
		b, err := json.Marshal(rec.Cookies)
		if err != nil {
			return err
		}
		cookies = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(account_id, token, cookies, last_validated) VALUES(?,?,?,?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   token=excluded.token, cookies=excluded.cookies, last_validated=excluded.last_validated`,
		accountID, rec.Token, nullStr(cookies), rec.LastValidated.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, accountID string) (SessionRecord, bool, error) {
	if s == nil || s.db == nil {
		return SessionRecord{}, false, ErrDisabled
	}
	var (
		rec       SessionRecord
		cookies   sql.NullString
		validated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, cookies, last_validated FROM sessions WHERE account_id = ?`, accountID,
	).Scan(&rec.Token, &cookies, &validated)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	if cookies.Valid && cookies.String != "" {
		_ = json.Unmarshal([]byte(cookies.String), &rec.Cookies)
	}
	if t, err := time.Parse(time.RFC3339Nano, validated); err == nil {
		rec.LastValidated = t
	}
	return rec, true, nil
}

func (s *sqliteStore) DeleteSession(ctx context.Context, accountID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	return err
}

func (s *sqliteStore) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_validated < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendResult(ctx context.Context, e ResultEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results(at, run_id, request_id, account_id, state, fail_kind, message, confirmation, seat_no, route, departure, exec_ms, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.RunID, e.RequestID, e.AccountID, e.State,
		nullStr(e.FailKind), nullStr(e.Message), nullStr(e.Confirmation),
		e.SeatNo, nullStr(e.Route), nullStr(e.Departure), e.ExecMS, e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentResults(ctx context.Context, limit int) ([]ResultEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run_id, request_id, account_id, state, fail_kind, message, confirmation, seat_no, route, departure, exec_ms, took_ms
		 FROM results ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultEntry
	for rows.Next() {
		var (
			e                                 ResultEntry
			at                                string
			kind, msg, conf, route, departure sql.NullString
		)
		if err := rows.Scan(&at, &e.RunID, &e.RequestID, &e.AccountID, &e.State,
			&kind, &msg, &conf, &e.SeatNo, &route, &departure, &e.ExecMS, &e.TookMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		e.FailKind = kind.String
		e.Message = msg.String
		e.Confirmation = conf.String
		e.Route = route.String
		e.Departure = departure.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest last, matching the file driver.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
