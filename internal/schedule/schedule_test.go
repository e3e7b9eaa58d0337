package schedule

import (
	"testing"
	"time"

	"busbot/internal/config"
	"busbot/internal/remote"
)

func boolPtr(b bool) *bool { return &b }

func testConfig() *config.Config {
	return &config.Config{
		Accounts: []config.AccountConfig{
			{ID: "alice", Username: "alice", Password: "pw"},
			{ID: "bob", Username: "bob", Password: "pw"},
		},
		Schedules: []config.ScheduleConfig{
			{
				Name:      "monday-outbound",
				Weekday:   "mon",
				At:        "07:00",
				Accounts:  []string{"alice", "bob"},
				Direction: "OUTBOUND",
				Route:     "Nowon",
				Time:      "15:30",
				Seats:     []int{11, 12},
			},
			{
				Name:      "disabled",
				Enabled:   boolPtr(false),
				Weekday:   "tue",
				At:        "08:00",
				Accounts:  []string{"alice"},
				Direction: "UP",
				Route:     "Jamsil",
				Time:      "09:00",
			},
		},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	slots, err := Build(testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1 (disabled skipped)", len(slots))
	}

	s := slots[0]
	if s.Name != "monday-outbound" || s.Weekday != time.Monday || s.Hour != 7 {
		t.Errorf("slot = %+v", s)
	}
	if len(s.Requests) != 2 {
		t.Fatalf("got %d requests", len(s.Requests))
	}
	r := s.Requests[0]
	if r.Account.ID != "alice" || r.Query.Direction != remote.DirectionOutbound {
		t.Errorf("request = %+v", r)
	}
	if r.Query.Route != "Nowon" || r.Query.Time != "15:30" {
		t.Errorf("query = %+v", r.Query)
	}
	if len(r.SeatPreferences) != 2 || r.SeatPreferences[0] != 11 {
		t.Errorf("prefs = %v", r.SeatPreferences)
	}
}

func TestBuildUnknownAccount(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Schedules[0].Accounts = []string{"mallory"}
	if _, err := Build(cfg); err == nil {
		t.Fatal("unknown account must fail")
	}
}

func TestNextFire(t *testing.T) {
	t.Parallel()

	slot := Slot{Weekday: time.Monday, Hour: 7, Minute: 0, Second: 0}
	loc := time.UTC

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"earlier same week",
			time.Date(2026, 2, 28, 12, 0, 0, 0, loc), // Saturday
			time.Date(2026, 3, 2, 7, 0, 0, 0, loc),   // next Monday
		},
		{
			"same day before slot",
			time.Date(2026, 3, 2, 6, 0, 0, 0, loc),
			time.Date(2026, 3, 2, 7, 0, 0, 0, loc),
		},
		{
			"same day after slot rolls a week",
			time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
			time.Date(2026, 3, 9, 7, 0, 0, 0, loc),
		},
		{
			"exactly at slot rolls a week",
			time.Date(2026, 3, 2, 7, 0, 0, 0, loc),
			time.Date(2026, 3, 9, 7, 0, 0, 0, loc),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := slot.NextFire(tc.now, loc)
			if !got.Equal(tc.want) {
				t.Errorf("NextFire = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWakePoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		slot    Slot
		lead    time.Duration
		wd      time.Weekday
		h, m, s int
	}{
		{"plain", Slot{Weekday: time.Monday, Hour: 7}, time.Minute, time.Monday, 6, 59, 0},
		{"across midnight", Slot{Weekday: time.Monday, Hour: 0, Minute: 0, Second: 30}, time.Minute, time.Sunday, 23, 59, 30},
		{"across week start", Slot{Weekday: time.Sunday, Hour: 0}, 2 * time.Minute, time.Saturday, 23, 58, 0},
	}
	for _, tc := range cases {
		wd, h, m, s := tc.slot.WakePoint(tc.lead)
		if wd != tc.wd || h != tc.h || m != tc.m || s != tc.s {
			t.Errorf("%s: WakePoint = %v %02d:%02d:%02d, want %v %02d:%02d:%02d",
				tc.name, wd, h, m, s, tc.wd, tc.h, tc.m, tc.s)
		}
	}
}
