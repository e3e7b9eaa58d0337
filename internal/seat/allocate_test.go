package seat

import (
	"errors"
	"testing"

	"busbot/internal/fault"
	"busbot/internal/remote"
)

func mapOf(taken ...int) remote.SeatMap {
	isTaken := map[int]bool{}
	for _, n := range taken {
		isTaken[n] = true
	}
	sm := remote.SeatMap{BusSeq: 7}
	for n := 1; n <= 12; n++ {
		sm.Seats = append(sm.Seats, remote.Seat{No: n, Taken: isTaken[n]})
	}
	return sm
}

func TestAllocate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		sm    remote.SeatMap
		prefs []int
		want  int
	}{
		{"first preference free", mapOf(), []int{11, 12}, 11},
		{"first preference taken", mapOf(11), []int{11, 12}, 12},
		{"all preferences taken", mapOf(11, 12), []int{11, 12}, 1},
		{"no preferences", mapOf(1, 2), nil, 3},
		{"preference not on bus", mapOf(), []int{99, 5}, 5},
		{"lowest free after prefs", mapOf(1, 3), []int{3}, 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Allocate(tc.sm, tc.prefs)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if got != tc.want {
				t.Errorf("Allocate = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAllocateFullBus(t *testing.T) {
	t.Parallel()

	full := mapOf(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	_, err := Allocate(full, []int{1})
	if err == nil {
		t.Fatal("expected error on full bus")
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.NoSeatAvailable {
		t.Errorf("error = %v, want kind no_seat_available", err)
	}
}
