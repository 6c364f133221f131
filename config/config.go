// Package config loads settings from config.json5 (plus config.local.json5),
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"visa-rebooker/client"
	"visa-rebooker/notify"
)

type Config struct {
	Portal      Portal      `json:"portal"`
	Credentials Credentials `json:"credentials"`

	// BookedDate is the appointment currently held, YYYY-MM-DD.
	BookedDate string `json:"booked_date"`

	// Locations is the facility catalog in fallback order.
	Locations         []client.Location `json:"locations"`
	PreferredLocation string            `json:"preferred_location"`
	ProbeAllLocations bool              `json:"probe_all_locations"`

	Polling Polling `json:"polling"`
	DryRun  bool    `json:"dry_run"`

	Notify    Notify `json:"notify"`
	SentryDSN string `json:"sentry_dsn"`
	Log       Log    `json:"log"`

	// Sources lists the config files Load read, in merge order.
	Sources []string `json:"-"`
}

type Portal struct {
	Country               string `json:"country"`
	VisaType              string `json:"visa_type"`
	ScheduleID            string `json:"schedule_id"`
	BaseURL               string `json:"base_url"`
	UserAgent             string `json:"user_agent"`
	Proxy                 string `json:"proxy"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Polling struct {
	IntervalMinutes     int  `json:"interval_minutes"`
	Jitter              bool `json:"jitter"`
	CooldownMinutes     int  `json:"cooldown_minutes"`
	ErrorBackoffSeconds int  `json:"error_backoff_seconds"`
	MaxRecoveries       int  `json:"max_recoveries"`
	AnnounceRestarts    bool `json:"announce_restarts"`
}

type Notify struct {
	Email    notify.EmailConfig    `json:"email"`
	Telegram notify.TelegramConfig `json:"telegram"`
}

type Log struct {
	Level string `json:"level"`
	// Format is "console" or "json".
	Format     string `json:"format"`
	ReportFile string `json:"report_file"`
}

// DefaultLocations are the Canadian consular posts.
var DefaultLocations = []client.Location{
	{ID: "89", Name: "Calgary"},
	{ID: "90", Name: "Halifax"},
	{ID: "91", Name: "Montreal"},
	{ID: "92", Name: "Ottawa"},
	{ID: "93", Name: "Quebec City"},
	{ID: "94", Name: "Toronto"},
	{ID: "95", Name: "Vancouver"},
}

// Defaults returns the documented default settings.
func Defaults() Config {
	return Config{
		Portal: Portal{
			Country:               client.DefaultCountry,
			VisaType:              client.DefaultVisaType,
			RequestTimeoutSeconds: int(client.DefaultTimeout / time.Second),
		},
		Locations:         append([]client.Location(nil), DefaultLocations...),
		PreferredLocation: "94",
		Polling: Polling{
			IntervalMinutes:     5,
			CooldownMinutes:     60,
			ErrorBackoffSeconds: 30,
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration. A missing config file or .env file is not
// an error. Load does not validate; call Validate once flags are applied.
func Load(path, envFile string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		fileCfg, files, err := readLayered[Config](path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, invalid("file", err)
		default:
			if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				return cfg, errors.Wrap(err, "merge config file")
			}
			cfg.Sources = files
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, invalid("env_file", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return invalid(key, err)
		}
		*dst = n
		return nil
	}
	flag := func(dst *bool, key string) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return invalid(key, err)
		}
		*dst = b
		return nil
	}

	str(&cfg.Credentials.Email, "VISA_EMAIL", "VISA_USERNAME")
	str(&cfg.Credentials.Password, "VISA_PASSWORD")
	str(&cfg.Portal.ScheduleID, "SCHEDULE_ID")
	str(&cfg.Portal.Country, "COUNTRY_CODE")
	str(&cfg.Portal.VisaType, "VISA_TYPE")
	str(&cfg.Portal.Proxy, "PROXY_URL")
	str(&cfg.PreferredLocation, "FACILITY_ID")
	str(&cfg.BookedDate, "MY_SCHEDULE_DATE")
	str(&cfg.Notify.Telegram.Token, "TELEGRAM_TOKEN")
	str(&cfg.Notify.Telegram.ChatID, "CHAT_ID")
	str(&cfg.Notify.Email.Server, "SMTP_SERVER")
	str(&cfg.Notify.Email.Username, "SMTP_USERNAME")
	str(&cfg.Notify.Email.Password, "SMTP_PASSWORD")
	str(&cfg.Notify.Email.From, "SMTP_FROM")
	str(&cfg.SentryDSN, "SENTRY_DSN")
	str(&cfg.Log.Level, "LOG_LEVEL")
	str(&cfg.Log.Format, "LOG_FORMAT")

	var to string
	str(&to, "NOTIFY_EMAIL")
	if to != "" {
		cfg.Notify.Email.To = splitList(to)
	}

	for _, err := range []error{
		num(&cfg.Polling.IntervalMinutes, "CHECK_INTERVAL"),
		num(&cfg.Polling.CooldownMinutes, "COOLDOWN_MINUTES"),
		num(&cfg.Polling.ErrorBackoffSeconds, "ERROR_BACKOFF_SECONDS"),
		num(&cfg.Polling.MaxRecoveries, "MAX_RECOVERIES"),
		flag(&cfg.Polling.Jitter, "JITTER"),
		flag(&cfg.Polling.AnnounceRestarts, "ANNOUNCE_RESTARTS"),
		num(&cfg.Notify.Email.Port, "SMTP_PORT"),
		flag(&cfg.ProbeAllLocations, "PROBE_ALL_LOCATIONS"),
		flag(&cfg.DryRun, "DRY_RUN"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first missing or malformed setting as *ConfigError.
// It makes no network calls.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BookedDate) == "" {
		return invalid("booked_date", ErrBookedDateMissing)
	}
	if _, err := client.ParseDate(c.BookedDate); err != nil {
		return invalid("booked_date", err)
	}
	if c.Portal.ScheduleID == "" {
		return invalid("portal.schedule_id", ErrRequired)
	}
	if c.Credentials.Email == "" {
		return invalid("credentials.email", ErrRequired)
	}
	if c.Credentials.Password == "" {
		return invalid("credentials.password", ErrRequired)
	}
	if c.Polling.IntervalMinutes < 1 {
		return invalid("polling.interval_minutes", errors.Errorf("must be at least 1, got %d", c.Polling.IntervalMinutes))
	}
	if len(c.Locations) == 0 {
		return invalid("locations", ErrRequired)
	}
	if _, err := c.ProbeOrder(); err != nil {
		return err
	}
	return nil
}

// BookedDateValue parses BookedDate.
func (c Config) BookedDateValue() (client.Date, error) {
	d, err := client.ParseDate(c.BookedDate)
	if err != nil {
		return client.Date{}, invalid("booked_date", err)
	}
	return d, nil
}

// ProbeOrder returns the catalog with the preferred location moved to the
// front. An empty PreferredLocation keeps catalog order.
func (c Config) ProbeOrder() ([]client.Location, error) {
	if c.PreferredLocation == "" {
		return append([]client.Location(nil), c.Locations...), nil
	}

	order := make([]client.Location, 0, len(c.Locations))
	for _, loc := range c.Locations {
		if loc.ID == c.PreferredLocation {
			order = append(order, loc)
		}
	}
	if len(order) == 0 {
		return nil, invalid("preferred_location", errors.Errorf("location %q is not in the catalog", c.PreferredLocation))
	}
	for _, loc := range c.Locations {
		if loc.ID != c.PreferredLocation {
			order = append(order, loc)
		}
	}
	return order, nil
}

func (p Polling) Interval() time.Duration {
	return time.Duration(p.IntervalMinutes) * time.Minute
}

func (p Polling) Cooldown() time.Duration {
	return time.Duration(p.CooldownMinutes) * time.Minute
}

func (p Polling) ErrorBackoff() time.Duration {
	return time.Duration(p.ErrorBackoffSeconds) * time.Second
}

func (p Portal) Timeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
