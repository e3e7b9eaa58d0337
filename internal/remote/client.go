package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"busbot/internal/fault"
	"busbot/pkg/logx"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"

	entryPath = "/index.php"
)

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64 // 0 disables the outbound limiter
	Burst             int
}

// ServerError is a well-formed envelope whose result is not OK.
// The transport worked; the remote refused the operation.
type ServerError struct {
	Ctrl    string
	Action  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s.%s: remote refused", e.Ctrl, e.Action)
	}
	return fmt.Sprintf("%s.%s: %s", e.Ctrl, e.Action, e.Message)
}

// Client holds what all sessions share: base URL, transport, limiter.
type Client struct {
	base      *url.URL
	hcTimeout time.Duration
	userAgent string
	limiter   *rate.Limiter
	transport http.RoundTripper
	log       logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("remote: base URL required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("remote: base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("remote: base URL %q must be absolute", raw)
	}

	c := &Client{
		base:      base,
		hcTimeout: cfg.Timeout,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		transport: http.DefaultTransport,
		log:       log,
	}
	if c.hcTimeout <= 0 {
		c.hcTimeout = defaultTimeout
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// SessionState is the persistable part of a Session.
type SessionState struct {
	Token   string            `json:"token"`
	Cookies map[string]string `json:"cookies"`
}

// Session is one authenticated browser-equivalent: its own cookie jar and
// authorization token. Safe for concurrent use.
type Session struct {
	c   *Client
	hc  *http.Client
	jar *cookiejar.Jar

	mu    sync.Mutex
	token string
}

func (c *Client) NewSession() *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		c:   c,
		jar: jar,
		hc: &http.Client{
			Jar:       jar,
			Timeout:   c.hcTimeout,
			Transport: c.transport,
		},
	}
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) setToken(t string) {
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
}

// Export snapshots the session for the session store.
func (s *Session) Export() SessionState {
	st := SessionState{Token: s.Token(), Cookies: map[string]string{}}
	for _, ck := range s.jar.Cookies(s.c.base) {
		st.Cookies[ck.Name] = ck.Value
	}
	return st
}

// Restore loads a previously exported state. The restored session must
// still pass Probe before being trusted.
func (s *Session) Restore(st SessionState) {
	s.setToken(st.Token)
	cookies := make([]*http.Cookie, 0, len(st.Cookies))
	for name, value := range st.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	s.jar.SetCookies(s.c.base, cookies)
}

// ---- endpoints ----

// Login authenticates and stores the returned token on the session.
func (s *Session) Login(ctx context.Context, id, password string) error {
	body := map[string]string{"id": id, "pass": password, "autoLogin": ""}
	env, err := s.call(ctx, http.MethodPost, "Main", "loginProc", nil, body)
	if err != nil {
		return err
	}
	if !env.ok() {
		return &ServerError{Ctrl: "Main", Action: "loginProc", Message: env.message()}
	}
	token, ok := env.dataString("token", "authorization")
	if !ok {
		return &ServerError{Ctrl: "Main", Action: "loginProc", Message: "login accepted but no token returned"}
	}
	s.setToken(token)
	return nil
}

// Logout ends the remote session. The body is a dummy object because the
// front controller rejects empty POST bodies.
func (s *Session) Logout(ctx context.Context) error {
	env, err := s.call(ctx, http.MethodPost, "Main", "logoutProc", nil, map[string]string{"a": "a"})
	if err != nil {
		return err
	}
	s.setToken("")
	if !env.ok() {
		return &ServerError{Ctrl: "Main", Action: "logoutProc", Message: env.message()}
	}
	return nil
}

// Probe checks whether the session is still authenticated.
func (s *Session) Probe(ctx context.Context) (bool, error) {
	env, err := s.call(ctx, http.MethodGet, "Passenger", "getMainPsgrInfo", nil, nil)
	if err != nil {
		return false, err
	}
	return env.ok(), nil
}

// Routes lists the line groups available for a direction. An empty list is
// a valid answer (some deployments run one direction only).
func (s *Session) Routes(ctx context.Context, dir Direction) ([]Route, error) {
	q := url.Values{"dir": {dir.wire()}}
	env, err := s.call(ctx, http.MethodGet, "BusReserve", "lineList", q, nil)
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		return nil, &ServerError{Ctrl: "BusReserve", Action: "lineList", Message: env.message()}
	}
	raw, err := env.rows("lineList")
	if err != nil {
		return nil, fmt.Errorf("lineList: %w", err)
	}
	var rows []routeRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("lineList: %w", err)
	}
	routes := make([]Route, 0, len(rows))
	for _, r := range rows {
		routes = append(routes, r.toRoute())
	}
	return routes, nil
}

// Timetable lists the departures and boarding stops of one route.
func (s *Session) Timetable(ctx context.Context, dir Direction, routeSeq int64) (Timetable, error) {
	q := url.Values{
		"dir":          {dir.wire()},
		"lineGroupSeq": {strconv.FormatInt(routeSeq, 10)},
	}
	env, err := s.call(ctx, http.MethodGet, "BusReserve", "busList", q, nil)
	if err != nil {
		return Timetable{}, err
	}
	if !env.ok() {
		return Timetable{}, &ServerError{Ctrl: "BusReserve", Action: "busList", Message: env.message()}
	}

	var tt Timetable
	raw, err := env.rows("busList")
	if err != nil {
		return Timetable{}, fmt.Errorf("busList: %w", err)
	}
	var trips []tripRow
	if err := json.Unmarshal(raw, &trips); err != nil {
		return Timetable{}, fmt.Errorf("busList: %w", err)
	}
	for _, r := range trips {
		tt.Trips = append(tt.Trips, r.toTrip())
	}

	if rawStops, ok := env.dataField("stopList"); ok {
		arr, err := asArray(rawStops)
		if err == nil {
			var stops []stopRow
			if err := json.Unmarshal(arr, &stops); err == nil {
				for _, r := range stops {
					tt.Stops = append(tt.Stops, r.toStop())
				}
			}
		}
	}
	return tt, nil
}

// seatCall is one candidate shape for the seat map endpoint. Deployments
// differ in both action name and parameter name, so they are tried in
// order until one returns a structurally valid body.
type seatCall struct {
	action string
	param  string
}

var seatCalls = []seatCall{
	{action: "busSeatInfo", param: "busSeq"},
	{action: "getSeatInfo", param: "busSeq"},
	{action: "busSeatInfo", param: "bus"},
}

// SeatMap fetches seat occupancy for a trip, walking the known endpoint
// variants. It fails only when every variant fails.
func (s *Session) SeatMap(ctx context.Context, busSeq int64) (SeatMap, error) {
	var lastErr error
	for _, sc := range seatCalls {
		q := url.Values{sc.param: {strconv.FormatInt(busSeq, 10)}}
		env, err := s.call(ctx, http.MethodGet, "BusReserve", sc.action, q, nil)
		if err != nil {
			if ctx.Err() != nil {
				return SeatMap{}, err
			}
			lastErr = err
			continue
		}
		if !env.ok() {
			lastErr = &ServerError{Ctrl: "BusReserve", Action: sc.action, Message: env.message()}
			continue
		}

		raw, ok := env.dataField("seatList", "seatInfo", "seats")
		if !ok {
			raw = env.Data
			if isNull(raw) {
				raw = env.List
			}
		}
		seats, err := parseSeats(raw)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", sc.action, err)
			continue
		}
		return SeatMap{BusSeq: busSeq, Seats: seats}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no seat endpoint variant answered")
	}
	return SeatMap{}, lastErr
}

// Reserve books one seat. The payload carries every historical field name
// at once (lineGroupSeq mirrors lineSeq, seq mirrors busSeq) so a single
// request satisfies whichever schema the deployment expects.
func (s *Session) Reserve(ctx context.Context, req ReserveRequest) (Confirmation, error) {
	body := map[string]any{
		"busSeq":       req.BusSeq,
		"lineSeq":      req.LineSeq,
		"lineGroupSeq": req.LineSeq,
		"stopSeq":      req.StopSeq,
		"seatNo":       req.SeatNo,
		"seq":          req.BusSeq,
	}
	env, err := s.call(ctx, http.MethodPost, "BusReserve", "reserveAppProc", nil, body)
	if err != nil {
		return Confirmation{}, err
	}
	if !env.ok() {
		return Confirmation{}, &ServerError{Ctrl: "BusReserve", Action: "reserveAppProc", Message: env.message()}
	}

	conf := Confirmation{Message: env.message()}
	if id, ok := env.dataString("seq", "reserveSeq"); ok {
		conf.ID = id
	} else if raw, ok := env.dataField("seq", "reserveSeq"); ok {
		var n flexInt
		if json.Unmarshal(raw, &n) == nil && n > 0 {
			conf.ID = strconv.FormatInt(int64(n), 10)
		}
	}
	if conf.ID == "" {
		conf.ID = fmt.Sprintf("%d-%d", req.BusSeq, req.SeatNo)
	}
	return conf, nil
}

// Reservations lists the account's current bookings. A "nothing booked"
// refusal message is success with an empty list, not an error.
func (s *Session) Reservations(ctx context.Context) ([]Reservation, error) {
	env, err := s.call(ctx, http.MethodGet, "BusReserve", "getReserveApp", nil, nil)
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		if isNull(env.Data) && isNull(env.List) {
			return nil, nil
		}
		return nil, &ServerError{Ctrl: "BusReserve", Action: "getReserveApp", Message: env.message()}
	}
	raw, err := env.rows("reserveList", "appList")
	if err != nil {
		return nil, fmt.Errorf("getReserveApp: %w", err)
	}
	var rawRows []json.RawMessage
	if err := json.Unmarshal(raw, &rawRows); err != nil {
		return nil, fmt.Errorf("getReserveApp: %w", err)
	}
	out := make([]Reservation, 0, len(rawRows))
	for _, rr := range rawRows {
		var row reservationRow
		if err := json.Unmarshal(rr, &row); err != nil {
			continue
		}
		out = append(out, row.toReservation(rr))
	}
	return out, nil
}

// Cancel revokes a booking by echoing its original row plus the APP marker.
func (s *Session) Cancel(ctx context.Context, rsv Reservation) error {
	body := map[string]any{}
	if len(rsv.raw) > 0 {
		if err := json.Unmarshal(rsv.raw, &body); err != nil {
			body = map[string]any{}
		}
	}
	if _, ok := body["seq"]; !ok && rsv.Seq > 0 {
		body["seq"] = rsv.Seq
	}
	if _, ok := body["busSeq"]; !ok && rsv.BusSeq > 0 {
		body["busSeq"] = rsv.BusSeq
	}
	if _, ok := body["seatNo"]; !ok && rsv.SeatNo > 0 {
		body["seatNo"] = rsv.SeatNo
	}
	body["appType"] = "APP"

	env, err := s.call(ctx, http.MethodPost, "BusReserve", "appCancel", nil, body)
	if err != nil {
		return err
	}
	if !env.ok() {
		return &ServerError{Ctrl: "BusReserve", Action: "appCancel", Message: env.message()}
	}
	return nil
}

// ---- transport ----

func (s *Session) call(ctx context.Context, method, ctrl, action string, q url.Values, body any) (*envelope, error) {
	c := s.c
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classifyTransport(ctrl, action, err)
		}
	}

	u := *c.base
	u.Path = entryPath
	vals := url.Values{}
	vals.Set("ctrl", ctrl)
	vals.Set("action", action)
	for k, vs := range q {
		for _, v := range vs {
			vals.Add(k, v)
		}
	}
	u.RawQuery = vals.Encode()

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: encode body: %w", ctrl, action, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ctrl, action, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.base.String()+"/")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := s.Token(); tok != "" {
		req.Header.Set("authorization", tok)
	}

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, classifyTransport(ctrl, action, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, classifyTransport(ctrl, action, err)
	}

	c.log.Trace("remote call",
		logx.String("ctrl", ctrl),
		logx.String("action", action),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fault.Wrap(fault.TransportError,
			fmt.Sprintf("%s.%s: http %d", ctrl, action, resp.StatusCode),
			fmt.Errorf("status %s", resp.Status))
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fault.Wrap(fault.TransportError,
			fmt.Sprintf("%s.%s: malformed response", ctrl, action), err)
	}
	return &env, nil
}

func classifyTransport(ctrl, action string, err error) error {
	msg := fmt.Sprintf("%s.%s", ctrl, action)
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, msg, err)
	}
	return fault.Wrap(fault.TransportError, msg, err)
}
