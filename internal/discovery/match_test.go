package discovery

import (
	"errors"
	"testing"

	"busbot/internal/fault"
	"busbot/internal/remote"
)

func routes(names ...string) []remote.Route {
	out := make([]remote.Route, 0, len(names))
	for i, n := range names {
		out = append(out, remote.Route{Seq: int64(i + 1), Name: n})
	}
	return out
}

func trips(times ...string) []remote.Trip {
	out := make([]remote.Trip, 0, len(times))
	for i, ts := range times {
		out = append(out, remote.Trip{Seq: int64(100 + i), OperateTime: ts})
	}
	return out
}

func kindOf(t *testing.T, err error) fault.Kind {
	t.Helper()
	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("error %v is not classified", err)
	}
	return fe.Kind
}

func TestMatchRoute(t *testing.T) {
	t.Parallel()

	rs := routes("노원(Nowon)", "잠실(Jamsil)", "강남(Gangnam)")

	got, err := MatchRoute(rs, "Nowon")
	if err != nil {
		t.Fatalf("MatchRoute: %v", err)
	}
	if got.Seq != 1 {
		t.Errorf("matched seq %d, want 1", got.Seq)
	}

	// Case-sensitive: "nowon" must not match "Nowon".
	if _, err := MatchRoute(rs, "nowon"); err == nil {
		t.Error("lowercase query matched; matching must be case-sensitive")
	}

	// No silent first-route fallback.
	_, err = MatchRoute(rs, "Pangyo")
	if err == nil {
		t.Fatal("unknown route must not fall back to the first route")
	}
	if k := kindOf(t, err); k != fault.RouteNotFound {
		t.Errorf("kind = %s, want route_not_found", k)
	}
}

func TestMatchTripSubstring(t *testing.T) {
	t.Parallel()

	ts := trips("07:40", "08:10", "15:30")
	got, err := MatchTrip(ts, "15:30")
	if err != nil {
		t.Fatalf("MatchTrip: %v", err)
	}
	if got.OperateTime != "15:30" {
		t.Errorf("matched %s, want 15:30", got.OperateTime)
	}
}

func TestMatchTripNearest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		times []string
		query string
		want  string
	}{
		{"nearest wins", []string{"07:40", "08:10", "08:30"}, "08:05", "08:10"},
		{"tie prefers first occurrence", []string{"08:00", "08:10"}, "08:05", "08:00"},
		{"before all", []string{"07:40", "08:10"}, "06:00", "07:40"},
		{"after all", []string{"07:40", "08:10"}, "23:00", "08:10"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := MatchTrip(trips(tc.times...), tc.query)
			if err != nil {
				t.Fatalf("MatchTrip: %v", err)
			}
			if got.OperateTime != tc.want {
				t.Errorf("matched %s, want %s", got.OperateTime, tc.want)
			}
		})
	}
}

func TestMatchTripFailures(t *testing.T) {
	t.Parallel()

	if _, err := MatchTrip(nil, "08:00"); err == nil {
		t.Error("empty timetable must fail")
	}
	_, err := MatchTrip(trips("08:00"), "noon-ish")
	if err == nil {
		t.Fatal("unparsable query with no substring hit must fail")
	}
	if k := kindOf(t, err); k != fault.TripNotFound {
		t.Errorf("kind = %s, want trip_not_found", k)
	}
}

func TestMatchStop(t *testing.T) {
	t.Parallel()

	stops := []remote.Stop{
		{Seq: 1, Name: "정문(Main Gate)"},
		{Seq: 2, Name: "후문(Back Gate)", DispatchName: "Dorm"},
	}

	got, err := MatchStop(stops, "")
	if err != nil || got.Seq != 1 {
		t.Errorf("default stop = %v, %v; want first stop", got, err)
	}

	got, err = MatchStop(stops, "Dorm")
	if err != nil || got.Seq != 2 {
		t.Errorf("dispatch-name match = %v, %v; want seq 2", got, err)
	}

	if _, err := MatchStop(stops, "Pier"); err == nil {
		t.Error("unknown stop must fail")
	}
	if _, err := MatchStop(nil, ""); err == nil {
		t.Error("no stops must fail")
	}
}

func TestMinutesOfDay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"08:05", 485, false},
		{"0:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"08:60", 0, true},
		{"eight", 0, true},
	}
	for _, tc := range cases {
		got, err := minutesOfDay(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}
