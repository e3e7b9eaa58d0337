package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Direction of travel relative to the campus.
type Direction string

const (
	// DirectionOutbound leaves the campus (wire value "DOWN").
	DirectionOutbound Direction = "OUTBOUND"
	// DirectionInbound returns to the campus (wire value "UP").
	DirectionInbound Direction = "INBOUND"
)

func (d Direction) wire() string {
	if d == DirectionInbound {
		return "UP"
	}
	return "DOWN"
}

func (d Direction) Valid() bool {
	return d == DirectionOutbound || d == DirectionInbound
}

// ParseDirection accepts both the normalized names and the wire names.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OUTBOUND", "DOWN":
		return DirectionOutbound, nil
	case "INBOUND", "UP":
		return DirectionInbound, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Route is a shuttle line group as listed by lineList.
type Route struct {
	Seq      int64
	Name     string
	BusCount int
	Stops    []Stop
}

type Stop struct {
	Seq          int64
	Name         string
	DispatchName string
}

// Trip is one departure slot on a route's timetable.
type Trip struct {
	Seq           int64
	OperateTime   string // "HH:MM"
	TotalSeats    int
	ReservedSeats int
}

// Timetable is the busList payload: departures plus the boarding stops
// valid for the queried route/direction.
type Timetable struct {
	Trips []Trip
	Stops []Stop
}

type Seat struct {
	No    int
	Taken bool
}

// SeatMap is the normalized occupancy of one trip's bus.
type SeatMap struct {
	BusSeq int64
	Seats  []Seat
}

// Free returns the ascending seat numbers currently unoccupied.
func (m SeatMap) Free() []int {
	out := make([]int, 0, len(m.Seats))
	for _, s := range m.Seats {
		if !s.Taken {
			out = append(out, s.No)
		}
	}
	return out
}

// ReserveRequest identifies one seat on one trip.
type ReserveRequest struct {
	BusSeq  int64
	LineSeq int64
	StopSeq int64
	SeatNo  int
}

// Confirmation is the remote acknowledgement of a booked seat.
type Confirmation struct {
	ID      string
	Message string
}

// Reservation is an existing booking as returned by getReserveApp.
// The raw row is retained because cancellation echoes the original
// fields back verbatim.
type Reservation struct {
	Seq         int64
	BusSeq      int64
	SeatNo      int
	ReserveDate string
	RouteName   string
	OperateTime string
	StopName    string

	raw json.RawMessage
}

// ---- wire rows ----
//
// The API emits numbers as JSON numbers or quoted strings depending on the
// controller, and several fields have two historical names. flexInt and the
// alternate-name pairs below absorb that.

type flexInt int64

func (v *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*v = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("numeric field: %w", err)
		}
		*v = flexInt(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = flexInt(int64(f))
	return nil
}

type stopRow struct {
	Seq          flexInt `json:"seq"`
	StopSeq      flexInt `json:"stopSeq"`
	StopName     string  `json:"stopName"`
	DispatchName string  `json:"dispatchName"`
}

func (r stopRow) toStop() Stop {
	seq := int64(r.Seq)
	if seq == 0 {
		seq = int64(r.StopSeq)
	}
	return Stop{Seq: seq, Name: r.StopName, DispatchName: r.DispatchName}
}

type routeRow struct {
	LineGroupSeq flexInt   `json:"lineGroupSeq"`
	Seq          flexInt   `json:"seq"`
	GroupName    string    `json:"groupName"`
	LineName     string    `json:"lineName"`
	BusCnt       flexInt   `json:"busCnt"`
	StopList     []stopRow `json:"stopList"`
}

func (r routeRow) toRoute() Route {
	seq := int64(r.LineGroupSeq)
	if seq == 0 {
		seq = int64(r.Seq)
	}
	name := r.GroupName
	if name == "" {
		name = r.LineName
	}
	stops := make([]Stop, 0, len(r.StopList))
	for _, s := range r.StopList {
		stops = append(stops, s.toStop())
	}
	return Route{Seq: seq, Name: name, BusCount: int(r.BusCnt), Stops: stops}
}

type tripRow struct {
	Seq         flexInt `json:"seq"`
	BusSeq      flexInt `json:"busSeq"`
	OperateTime string  `json:"operateTime"`
	TotalCnt    flexInt `json:"totalCnt"`
	ReserveCnt  flexInt `json:"reserveCnt"`
}

func (r tripRow) toTrip() Trip {
	seq := int64(r.Seq)
	if seq == 0 {
		seq = int64(r.BusSeq)
	}
	return Trip{
		Seq:           seq,
		OperateTime:   strings.TrimSpace(r.OperateTime),
		TotalSeats:    int(r.TotalCnt),
		ReservedSeats: int(r.ReserveCnt),
	}
}

type seatRow struct {
	SeatNo     flexInt `json:"seatNo"`
	IsReserved string  `json:"isReserved"`
}

type reservationRow struct {
	Seq         flexInt `json:"seq"`
	ReserveSeq  flexInt `json:"reserveSeq"`
	BusSeq      flexInt `json:"busSeq"`
	SeatNo      flexInt `json:"seatNo"`
	ReserveDate string  `json:"reserveDate"`
	GroupName   string  `json:"groupName"`
	LineName    string  `json:"lineName"`
	OperateTime string  `json:"operateTime"`
	StopName    string  `json:"stopName"`
}

func (r reservationRow) toReservation(raw json.RawMessage) Reservation {
	seq := int64(r.Seq)
	if seq == 0 {
		seq = int64(r.ReserveSeq)
	}
	name := r.GroupName
	if name == "" {
		name = r.LineName
	}
	return Reservation{
		Seq:         seq,
		BusSeq:      int64(r.BusSeq),
		SeatNo:      int(r.SeatNo),
		ReserveDate: r.ReserveDate,
		RouteName:   name,
		OperateTime: r.OperateTime,
		StopName:    r.StopName,
		raw:         raw,
	}
}

// parseSeats handles both seat map shapes the API is known to emit:
// a list of {seatNo, isReserved:"YES"|"NO"} rows, or an object keyed by
// seat number with "0" (free) / "1" (taken) values.
func parseSeats(raw json.RawMessage) ([]Seat, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("empty seat payload")
	}

	if raw[0] == '[' {
		var rows []seatRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		seats := make([]Seat, 0, len(rows))
		for _, r := range rows {
			if r.SeatNo <= 0 {
				continue
			}
			seats = append(seats, Seat{
				No:    int(r.SeatNo),
				Taken: strings.EqualFold(strings.TrimSpace(r.IsReserved), "YES"),
			})
		}
		sortSeats(seats)
		return seats, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	seats := make([]Seat, 0, len(keyed))
	for k, v := range keyed {
		no, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || no <= 0 {
			continue
		}
		var sv string
		if err := json.Unmarshal(v, &sv); err != nil {
			var nv float64
			if err2 := json.Unmarshal(v, &nv); err2 != nil {
				continue
			}
			sv = strconv.Itoa(int(nv))
		}
		seats = append(seats, Seat{No: no, Taken: strings.TrimSpace(sv) != "0"})
	}
	sortSeats(seats)
	return seats, nil
}

func sortSeats(seats []Seat) {
	sort.Slice(seats, func(i, j int) bool { return seats[i].No < seats[j].No })
}
