package config

import (
	"fmt"
	"strings"
	"time"

	"busbot/internal/remote"
)

// Config is the root of the bot's configuration file (YAML or JSON).
// Unknown fields are rejected so typos fail loudly at load time.
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Remote    RemoteConfig     `json:"remote"`
	Session   SessionConfig    `json:"session"`
	Batch     BatchConfig      `json:"batch"`
	Trigger   TriggerConfig    `json:"trigger"`
	Notify    NotifyConfig     `json:"notify"`
	Accounts  []AccountConfig  `json:"accounts"`
	Schedules []ScheduleConfig `json:"schedules"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console *bool  `json:"console"` // nil means enabled
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"file"`
}

func (l LoggingConfig) ConsoleEnabled() bool { return l.Console == nil || *l.Console }

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busyTimeout"`
}

type RemoteConfig struct {
	BaseURL           string  `json:"baseUrl"`
	Timeout           string  `json:"timeout"`
	UserAgent         string  `json:"userAgent"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

type SessionConfig struct {
	// ProbeTTL suppresses re-probing a session validated this recently.
	ProbeTTL string `json:"probeTtl"`
	// MaxAge drives the daily prune of stale stored sessions.
	MaxAge string `json:"maxAge"`
}

type BatchConfig struct {
	PipelineTimeout string `json:"pipelineTimeout"`
}

type TriggerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`
	// Lead is how long before a slot the batch job wakes up to warm
	// sessions; the precise wait to the slot happens inside the batch.
	Lead string `json:"lead"`
}

type NotifyConfig struct {
	Enabled           bool    `json:"enabled"`
	Token             string  `json:"token"`
	ChatID            int64   `json:"chatId"`
	MessagesPerMinute float64 `json:"messagesPerMinute"`
}

type AccountConfig struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ScheduleConfig is one weekly reservation wish.
type ScheduleConfig struct {
	Name     string   `json:"name"`
	Enabled  *bool    `json:"enabled"` // nil means enabled
	Weekday  string   `json:"weekday"` // "mon".."sun", full names accepted
	At       string   `json:"at"`      // "HH:MM" or "HH:MM:SS", trigger timezone
	Accounts []string `json:"accounts"`

	Direction string `json:"direction"` // OUTBOUND|INBOUND (UP/DOWN accepted)
	Route     string `json:"route"`
	Time      string `json:"time"`
	Stop      string `json:"stop"`
	Seats     []int  `json:"seats"`
}

func (s ScheduleConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Validate rejects configs that cannot be acted on. It is also the hot
// reload gate: a config failing here never replaces the running one.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Remote.BaseURL) == "" {
		return fmt.Errorf("remote.baseUrl is required")
	}
	if _, err := ParseDurationField("remote.timeout", cfg.Remote.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("session.probeTtl", cfg.Session.ProbeTTL); err != nil {
		return err
	}
	if _, err := ParseDurationField("session.maxAge", cfg.Session.MaxAge); err != nil {
		return err
	}
	if _, err := ParseDurationField("batch.pipelineTimeout", cfg.Batch.PipelineTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("trigger.lead", cfg.Trigger.Lead); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busyTimeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Trigger.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("trigger.timezone: %w", err)
		}
	}

	ids := map[string]bool{}
	for i, a := range cfg.Accounts {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID)
		}
		ids[a.ID] = true
		if strings.TrimSpace(a.Username) == "" || a.Password == "" {
			return fmt.Errorf("accounts[%d] (%s): username and password are required", i, a.ID)
		}
	}

	for i, s := range cfg.Schedules {
		where := fmt.Sprintf("schedules[%d]", i)
		if s.Name != "" {
			where = fmt.Sprintf("schedules[%d] (%s)", i, s.Name)
		}
		if _, err := ParseWeekday(s.Weekday); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if _, _, _, err := ParseClock(s.At); err != nil {
			return fmt.Errorf("%s: at: %w", where, err)
		}
		if _, err := remote.ParseDirection(s.Direction); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if strings.TrimSpace(s.Route) == "" {
			return fmt.Errorf("%s: route is required", where)
		}
		if strings.TrimSpace(s.Time) == "" {
			return fmt.Errorf("%s: time is required", where)
		}
		if len(s.Accounts) == 0 {
			return fmt.Errorf("%s: at least one account is required", where)
		}
		for _, id := range s.Accounts {
			if !ids[id] {
				return fmt.Errorf("%s: unknown account %q", where, id)
			}
		}
		for _, seat := range s.Seats {
			if seat <= 0 {
				return fmt.Errorf("%s: seat numbers must be positive", where)
			}
		}
	}
	return nil
}

// ParseWeekday accepts "mon", "monday" etc., case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tues", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thur", "thurs", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (h, m, sec int, err error) {
	s = strings.TrimSpace(s)
	n, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if err != nil || n < 3 {
		sec = 0
		if n, err = fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || n < 2 {
			return 0, 0, 0, fmt.Errorf("invalid clock time %q", s)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, 0, 0, fmt.Errorf("clock time out of range %q", s)
	}
	return h, m, sec, nil
}
