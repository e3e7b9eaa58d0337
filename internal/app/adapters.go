package app

import (
	"context"

	"busbot/internal/auth"
	"busbot/internal/batch"
	"busbot/internal/storage"
	"busbot/pkg/logx"
)

// sessionStore bridges the generic storage.Store to the session manager.
type sessionStore struct {
	st storage.Store
}

func (s sessionStore) GetSession(ctx context.Context, accountID string) (auth.StoredSession, bool, error) {
	rec, ok, err := s.st.GetSession(ctx, accountID)
	if err != nil || !ok {
		return auth.StoredSession{}, false, err
	}
	return auth.StoredSession{
		Token:         rec.Token,
		Cookies:       rec.Cookies,
		LastValidated: rec.LastValidated,
	}, true, nil
}

func (s sessionStore) PutSession(ctx context.Context, accountID string, rec auth.StoredSession) error {
	return s.st.PutSession(ctx, accountID, storage.SessionRecord{
		Token:         rec.Token,
		Cookies:       rec.Cookies,
		LastValidated: rec.LastValidated,
	})
}

func (s sessionStore) DeleteSession(ctx context.Context, accountID string) error {
	return s.st.DeleteSession(ctx, accountID)
}

// resultRecorder streams pipeline outcomes into the result log.
type resultRecorder struct {
	st  storage.Store
	log logx.Logger
}

func (r resultRecorder) RecordOutcome(ctx context.Context, runID string, o batch.Outcome) {
	entry := storage.ResultEntry{
		RunID:        runID,
		RequestID:    o.RequestID,
		AccountID:    o.AccountID,
		State:        string(o.State),
		FailKind:     string(o.FailKind),
		Message:      o.Message,
		Confirmation: o.Confirmation,
		SeatNo:       o.SeatNo,
		Route:        o.Route,
		Departure:    o.Departure,
		ExecMS:       o.ExecTook.Milliseconds(),
		TookMS:       o.Took.Milliseconds(),
	}
	if err := r.st.AppendResult(ctx, entry); err != nil {
		r.log.Warn("result append failed",
			logx.String("run", runID),
			logx.String("account", o.AccountID),
			logx.Err(err),
		)
	}
}
