// Package schedule turns configured weekly reservation wishes into
// concrete batch requests and fire instants. The config is the schedule
// store; this package is the read-only snapshot view the trigger and the
// batch consume.
package schedule

import (
	"fmt"
	"time"

	"busbot/internal/auth"
	"busbot/internal/batch"
	"busbot/internal/config"
	"busbot/internal/discovery"
	"busbot/internal/remote"
)

const secondsPerWeek = 7 * 24 * 3600

// Slot is one enabled weekly schedule entry, resolved against the
// account list.
type Slot struct {
	Name    string
	Weekday time.Weekday
	Hour    int
	Minute  int
	Second  int

	Requests []batch.Request
}

// Build resolves the config's schedules. Disabled entries are skipped;
// unresolvable ones are errors (Validate should have caught them, but a
// custom validator may be installed).
func Build(cfg *config.Config) ([]Slot, error) {
	accounts := make(map[string]auth.Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts[a.ID] = auth.Account{ID: a.ID, Username: a.Username, Password: a.Password}
	}

	var slots []Slot
	for i, sc := range cfg.Schedules {
		if !sc.IsEnabled() {
			continue
		}
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("schedule-%d", i)
		}

		wd, err := config.ParseWeekday(sc.Weekday)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		h, m, sec, err := config.ParseClock(sc.At)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		dir, err := remote.ParseDirection(sc.Direction)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		slot := Slot{Name: name, Weekday: wd, Hour: h, Minute: m, Second: sec}
		query := discovery.Query{
			Direction: dir,
			Route:     sc.Route,
			Time:      sc.Time,
			Stop:      sc.Stop,
		}
		for _, id := range sc.Accounts {
			acct, ok := accounts[id]
			if !ok {
				return nil, fmt.Errorf("%s: unknown account %q", name, id)
			}
			slot.Requests = append(slot.Requests, batch.Request{
				Account:         acct,
				Query:           query,
				SeatPreferences: append([]int(nil), sc.Seats...),
			})
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// NextFire returns the next occurrence of the slot strictly after now,
// in loc.
func (s Slot) NextFire(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, s.Second, 0, loc)
	days := (int(s.Weekday) - int(now.Weekday()) + 7) % 7
	t = t.AddDate(0, 0, days)
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

// WakePoint returns the weekly instant lead before the slot, wrapping
// across midnight and the week boundary. The trigger wakes the batch
// there; the batch then parks on the precise countdown to the slot.
func (s Slot) WakePoint(lead time.Duration) (time.Weekday, int, int, int) {
	total := ((int(s.Weekday)*24+s.Hour)*60+s.Minute)*60 + s.Second
	total -= int(lead / time.Second)
	total = ((total % secondsPerWeek) + secondsPerWeek) % secondsPerWeek

	sec := total % 60
	total /= 60
	m := total % 60
	total /= 60
	h := total % 24
	wd := time.Weekday(total / 24)
	return wd, h, m, sec
}
