package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: DEBUG
remote:
  baseUrl: https://bus.example.ac.kr
  timeout: 10s
  requestsPerSecond: 5
storage:
  driver: file
  path: ./data/busbot
trigger:
  enabled: true
  timezone: Asia/Seoul
  lead: 1m
accounts:
  - id: alice
    username: alice01
    password: secret
schedules:
  - name: monday-outbound
    weekday: mon
    at: "07:00"
    accounts: [alice]
    direction: OUTBOUND
    route: Nowon
    time: "15:30"
    seats: [11, 12]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.BaseURL != "https://bus.example.ac.kr" {
		t.Errorf("baseUrl = %q", cfg.Remote.BaseURL)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Seats[0] != 11 {
		t.Errorf("schedules = %+v", cfg.Schedules)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get must return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nbogusSection:\n  x: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.json",
		`{"remote":{"baseUrl":"https://bus.example.ac.kr"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	if cfg.Remote.BaseURL == "" {
		t.Error("baseUrl not decoded")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Remote: RemoteConfig{BaseURL: "https://x"},
			Accounts: []AccountConfig{
				{ID: "a", Username: "u", Password: "p"},
			},
			Schedules: []ScheduleConfig{{
				Name: "s", Weekday: "mon", At: "07:00",
				Accounts: []string{"a"}, Direction: "DOWN",
				Route: "R", Time: "15:30",
			}},
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("base config must validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Remote.BaseURL = " " }},
		{"bad timeout", func(c *Config) { c.Remote.Timeout = "soon" }},
		{"bad timezone", func(c *Config) { c.Trigger.Timezone = "Mars/Olympus" }},
		{"duplicate account", func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) }},
		{"account without password", func(c *Config) { c.Accounts[0].Password = "" }},
		{"bad weekday", func(c *Config) { c.Schedules[0].Weekday = "someday" }},
		{"bad at", func(c *Config) { c.Schedules[0].At = "7 o'clock" }},
		{"bad direction", func(c *Config) { c.Schedules[0].Direction = "SIDEWAYS" }},
		{"empty route", func(c *Config) { c.Schedules[0].Route = "" }},
		{"empty time", func(c *Config) { c.Schedules[0].Time = "" }},
		{"no accounts on schedule", func(c *Config) { c.Schedules[0].Accounts = nil }},
		{"unknown account ref", func(c *Config) { c.Schedules[0].Accounts = []string{"ghost"} }},
		{"non-positive seat", func(c *Config) { c.Schedules[0].Seats = []int{0} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{"mon", time.Monday, false},
		{"Friday", time.Friday, false},
		{"SUN", time.Sunday, false},
		{"thur", time.Thursday, false},
		{"", 0, true},
		{"noday", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseWeekday(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %v, %v", tc.in, got, err)
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	h, m, s, err := ParseClock("07:00")
	if err != nil || h != 7 || m != 0 || s != 0 {
		t.Errorf("ParseClock(07:00) = %d:%d:%d, %v", h, m, s, err)
	}
	h, m, s, err = ParseClock("23:59:58")
	if err != nil || h != 23 || m != 59 || s != 58 {
		t.Errorf("ParseClock(23:59:58) = %d:%d:%d, %v", h, m, s, err)
	}
	for _, bad := range []string{"24:00", "07:61", "07", "late"} {
		if _, _, _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q): expected error", bad)
		}
	}
}
