package reserve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busbot/internal/discovery"
	"busbot/internal/fault"
	"busbot/internal/remote"
	"busbot/pkg/logx"
)

func testSession(t *testing.T, respond map[string]string) (*remote.Session, *int) {
	t.Helper()
	attempts := new(int)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		action := r.URL.Query().Get("action")
		if action == "reserveAppProc" {
			*attempts++
		}
		resp, ok := respond[action]
		if !ok {
			resp = `{"result":"FAIL","msg":"unknown action"}`
		}
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(hs.Close)

	c, err := remote.New(remote.Config{BaseURL: hs.URL}, logx.Nop())
	require.NoError(t, err)
	return c.NewSession(), attempts
}

func discovered() discovery.Result {
	return discovery.Result{
		Route: remote.Route{Seq: 4, Name: "노원(Nowon)"},
		Trip:  remote.Trip{Seq: 702, OperateTime: "15:30"},
		Stop:  remote.Stop{Seq: 21, Name: "정문"},
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	sess, attempts := testSession(t, map[string]string{
		"reserveAppProc": `{"result":"OK","data":{"reserveSeq":"555"}}`,
	})
	ticket, err := Execute(context.Background(), sess, discovered(), 11, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "555", ticket.Confirmation.ID)
	assert.Equal(t, 11, ticket.SeatNo)
	assert.Greater(t, ticket.Took.Nanoseconds(), int64(0))
	assert.Equal(t, 1, *attempts)
}

func TestExecuteRejectionIsSingleAttempt(t *testing.T) {
	t.Parallel()

	sess, attempts := testSession(t, map[string]string{
		"reserveAppProc": `{"result":"FAIL","msg":"이미 예약된 좌석입니다"}`,
	})
	_, err := Execute(context.Background(), sess, discovered(), 11, logx.Nop())
	require.Error(t, err)
	assert.Equal(t, fault.ReservationRejected, fault.KindOf(err))
	assert.Equal(t, "이미 예약된 좌석입니다", fault.MessageOf(err))
	assert.Equal(t, 1, *attempts, "the executor must never retry")
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	sess, _ := testSession(t, map[string]string{
		"getReserveApp": `{"result":"OK","list":[
			{"seq":5,"busSeq":701,"seatNo":3},
			{"seq":6,"busSeq":702,"seatNo":4}
		]}`,
		"appCancel": `{"result":"OK"}`,
	})
	n, err := CancelAll(context.Background(), sess, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCancelAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	sess, _ := testSession(t, map[string]string{
		"getReserveApp": `{"result":"OK","list":[{"seq":5,"busSeq":701,"seatNo":3}]}`,
		"appCancel":     `{"result":"FAIL","msg":"too late to cancel"}`,
	})
	n, err := CancelAll(context.Background(), sess, logx.Nop())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, fault.ReservationRejected, fault.KindOf(err))
}
