package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busbot/internal/fault"
	"busbot/internal/remote"
	"busbot/pkg/logx"
)

func fixtureSession(t *testing.T) *remote.Session {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("action") {
		case "lineList":
			_, _ = w.Write([]byte(`{"result":"OK","data":{"list":[
				{"lineGroupSeq":3,"groupName":"잠실(Jamsil)","busCnt":2},
				{"lineGroupSeq":4,"groupName":"노원(Nowon)","busCnt":3,
				 "stopList":[{"seq":1,"stopName":"정문"}]}
			]}}`))
		case "busList":
			require.Equal(t, "4", r.URL.Query().Get("lineGroupSeq"))
			_, _ = w.Write([]byte(`{"result":"OK","data":{
				"busList":[
					{"seq":701,"operateTime":"07:40","totalCnt":45,"reserveCnt":10},
					{"seq":702,"operateTime":"15:30","totalCnt":45,"reserveCnt":44}
				],
				"stopList":[
					{"seq":21,"stopName":"정문(Main Gate)"},
					{"seq":22,"stopName":"후문(Back Gate)"}
				]}}`))
		case "busSeatInfo":
			require.Equal(t, "702", r.URL.Query().Get("busSeq"))
			_, _ = w.Write([]byte(`{"result":"OK","data":{"seatList":[
				{"seatNo":10,"isReserved":"YES"},
				{"seatNo":11,"isReserved":"NO"},
				{"seatNo":12,"isReserved":"YES"}
			]}}`))
		default:
			_, _ = w.Write([]byte(`{"result":"FAIL","msg":"unknown action"}`))
		}
	})
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)

	c, err := remote.New(remote.Config{BaseURL: hs.URL}, logx.Nop())
	require.NoError(t, err)
	return c.NewSession()
}

func TestRunResolvesFullChain(t *testing.T) {
	t.Parallel()

	sess := fixtureSession(t)
	res, err := Run(context.Background(), sess, Query{
		Direction: remote.DirectionOutbound,
		Route:     "Nowon",
		Time:      "15:30",
		Stop:      "Back",
	}, logx.Nop())
	require.NoError(t, err)

	assert.EqualValues(t, 4, res.Route.Seq)
	assert.EqualValues(t, 702, res.Trip.Seq)
	assert.Equal(t, "15:30", res.Trip.OperateTime)
	assert.EqualValues(t, 22, res.Stop.Seq)
	assert.Equal(t, []int{11}, res.SeatMap.Free())
}

func TestRunDefaultsToFirstStop(t *testing.T) {
	t.Parallel()

	sess := fixtureSession(t)
	res, err := Run(context.Background(), sess, Query{
		Direction: remote.DirectionOutbound,
		Route:     "Nowon",
		Time:      "15:28", // nearest-time fallback to 15:30
	}, logx.Nop())
	require.NoError(t, err)
	assert.EqualValues(t, 21, res.Stop.Seq)
	assert.EqualValues(t, 702, res.Trip.Seq)
}

func TestRunUnknownRoute(t *testing.T) {
	t.Parallel()

	sess := fixtureSession(t)
	_, err := Run(context.Background(), sess, Query{
		Direction: remote.DirectionOutbound,
		Route:     "Pangyo",
		Time:      "15:30",
	}, logx.Nop())
	require.Error(t, err)
	assert.Equal(t, fault.RouteNotFound, fault.KindOf(err))
}
