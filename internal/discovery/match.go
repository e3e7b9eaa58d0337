package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"busbot/internal/fault"
	"busbot/internal/remote"
)

// MatchRoute picks the first route whose name contains the query as a
// substring (case-sensitive: route names mix scripts where case folding
// is meaningless, and lenient matching has booked wrong buses before).
// There is deliberately no fallback to the first route.
func MatchRoute(routes []remote.Route, query string) (remote.Route, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return remote.Route{}, fault.New(fault.RouteNotFound, "empty route query")
	}
	for _, r := range routes {
		if strings.Contains(r.Name, query) {
			return r, nil
		}
	}
	return remote.Route{}, fault.Newf(fault.RouteNotFound,
		"no route matching %q among %s", query, routeNames(routes))
}

// MatchTrip resolves a departure. Exact-substring match on the timetable
// string wins; otherwise the trip nearest in clock time is chosen, first
// occurrence winning ties.
func MatchTrip(trips []remote.Trip, timeQuery string) (remote.Trip, error) {
	timeQuery = strings.TrimSpace(timeQuery)
	if len(trips) == 0 {
		return remote.Trip{}, fault.New(fault.TripNotFound, "timetable is empty")
	}
	if timeQuery == "" {
		return remote.Trip{}, fault.New(fault.TripNotFound, "empty time query")
	}

	for _, t := range trips {
		if strings.Contains(t.OperateTime, timeQuery) {
			return t, nil
		}
	}

	want, err := minutesOfDay(timeQuery)
	if err != nil {
		return remote.Trip{}, fault.Newf(fault.TripNotFound,
			"no departure matching %q and it is not a clock time", timeQuery)
	}

	best := -1
	bestDiff := 0
	for i, t := range trips {
		m, err := minutesOfDay(t.OperateTime)
		if err != nil {
			continue
		}
		diff := want - m
		if diff < 0 {
			diff = -diff
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	if best == -1 {
		return remote.Trip{}, fault.Newf(fault.TripNotFound,
			"no parseable departure times for query %q", timeQuery)
	}
	return trips[best], nil
}

// MatchStop picks the boarding stop: substring match when a query is
// given, else the first stop (the operator lists the main gate first).
func MatchStop(stops []remote.Stop, query string) (remote.Stop, error) {
	if len(stops) == 0 {
		return remote.Stop{}, fault.New(fault.TripNotFound, "route has no boarding stops")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return stops[0], nil
	}
	for _, s := range stops {
		if strings.Contains(s.Name, query) || strings.Contains(s.DispatchName, query) {
			return s, nil
		}
	}
	return remote.Stop{}, fault.Newf(fault.TripNotFound,
		"no boarding stop matching %q", query)
}

// minutesOfDay parses "HH:MM" (or "H:MM") into minutes since midnight.
func minutesOfDay(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("not a clock time: %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("not a clock time: %q", s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("not a clock time: %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time out of range: %q", s)
	}
	return h*60 + m, nil
}

func routeNames(routes []remote.Route) string {
	if len(routes) == 0 {
		return "(no routes)"
	}
	names := make([]string, 0, len(routes))
	for _, r := range routes {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}
