// Package discovery resolves a human-level reservation wish ("the 15:30
// to Nowon") into the concrete sequence numbers the reservation endpoint
// needs, by walking routes, timetable, and seat map in order.
package discovery

import (
	"context"
	"errors"

	"busbot/internal/fault"
	"busbot/internal/remote"
	"busbot/pkg/logx"
)

// Query names the desired trip in operator-facing terms.
type Query struct {
	Direction remote.Direction
	Route     string // substring of the route/group name
	Time      string // "HH:MM" or substring of the timetable entry
	Stop      string // optional substring of the boarding stop
}

// Result is everything downstream stages need: the matched entities plus
// the live seat map of the chosen trip.
type Result struct {
	Route   remote.Route
	Trip    remote.Trip
	Stop    remote.Stop
	SeatMap remote.SeatMap
}

// Run executes the discovery chain on an authenticated session. Each
// stage failure is classified; transport errors pass through unchanged.
func Run(ctx context.Context, sess *remote.Session, q Query, log logx.Logger) (Result, error) {
	routes, err := sess.Routes(ctx, q.Direction)
	if err != nil {
		return Result{}, classify(fault.RouteNotFound, err)
	}
	route, err := MatchRoute(routes, q.Route)
	if err != nil {
		return Result{}, err
	}
	log.Debug("route matched",
		logx.String("query", q.Route),
		logx.String("route", route.Name),
		logx.Int64("routeSeq", route.Seq),
	)

	tt, err := sess.Timetable(ctx, q.Direction, route.Seq)
	if err != nil {
		return Result{}, classify(fault.TripNotFound, err)
	}
	trip, err := MatchTrip(tt.Trips, q.Time)
	if err != nil {
		return Result{}, err
	}
	log.Debug("trip matched",
		logx.String("query", q.Time),
		logx.String("departure", trip.OperateTime),
		logx.Int64("busSeq", trip.Seq),
	)

	stops := tt.Stops
	if len(stops) == 0 {
		stops = route.Stops
	}
	stop, err := MatchStop(stops, q.Stop)
	if err != nil {
		return Result{}, err
	}

	sm, err := sess.SeatMap(ctx, trip.Seq)
	if err != nil {
		return Result{}, classify(fault.SeatMapUnavailable, err)
	}
	if len(sm.Seats) == 0 {
		return Result{}, fault.Newf(fault.SeatMapUnavailable,
			"bus %d returned an empty seat map", trip.Seq)
	}

	return Result{Route: route, Trip: trip, Stop: stop, SeatMap: sm}, nil
}

// classify turns a remote refusal into the stage's taxonomy kind while
// letting already-classified errors (transport, timeout) pass through.
func classify(kind fault.Kind, err error) error {
	var se *remote.ServerError
	if errors.As(err, &se) {
		return fault.New(kind, se.Message)
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Wrap(fault.TransportError, "", err)
}
