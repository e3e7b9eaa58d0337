// Package seat decides which seat to take. Pure: no I/O, no clock.
package seat

import (
	"busbot/internal/fault"
	"busbot/internal/remote"
)

// Allocate picks a seat from the map: the first free preferred seat in
// preference order, else the lowest-numbered free seat. Preferences
// naming seats the bus does not have are skipped, not errors.
func Allocate(sm remote.SeatMap, prefs []int) (int, error) {
	taken := make(map[int]bool, len(sm.Seats))
	exists := make(map[int]bool, len(sm.Seats))
	for _, s := range sm.Seats {
		exists[s.No] = true
		if s.Taken {
			taken[s.No] = true
		}
	}

	for _, p := range prefs {
		if exists[p] && !taken[p] {
			return p, nil
		}
	}

	for _, s := range sm.Seats { // seats are kept sorted ascending
		if !s.Taken {
			return s.No, nil
		}
	}

	return 0, fault.Newf(fault.NoSeatAvailable,
		"bus %d is full (%d seats)", sm.BusSeq, len(sm.Seats))
}
