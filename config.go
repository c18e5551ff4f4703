package poingest

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the environment-driven configuration of the ingestion service.
// All knobs have production defaults; only the database DSN and the source
// URL are mandatory.
type Config struct {
	DatabaseDSN string
	SourceURL   string

	TokenURL     string
	ClientId     string
	ClientSecret string
	SourceToken  string // static bearer token, used when TokenURL is unset

	JobName            string
	Mode               Mode
	PageLimit          int
	FetchWorkers       int
	MaxPages           int
	PageDelay          time.Duration
	IncrementalDays    int
	HistoricalTruncate bool
	ChunkSize          int
	LockStaleAfter     time.Duration
	ArchiveDir         string

	MaxRuntime       time.Duration
	BaselineWindow   int
	MinDailyExpected int
	WatchdogMaxAge   time.Duration

	BackfillStart string // YYYY-MM-DD
	BackfillEnd   string // YYYY-MM-DD, exclusive

	DailySchedule string // cron spec for the schedule daemon
	RefreshSQL    string // statement fired after a successful run, e.g. CALL refresh_po_summaries()

	EnableEmailAlerts bool
	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	AlertFrom         string
	AlertEmails       []string
}

// LoadConfig reads configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		DatabaseDSN:        os.Getenv("DATABASE_DSN"),
		SourceURL:          os.Getenv("DATA_SOURCE_URL"),
		TokenURL:           os.Getenv("TOKEN_URL"),
		ClientId:           os.Getenv("CLIENT_ID"),
		ClientSecret:       os.Getenv("CLIENT_SECRET"),
		SourceToken:        os.Getenv("SOURCE_TOKEN"),
		JobName:            getenv("JOB_NAME", "purchase_order_ingest"),
		Mode:               Mode(strings.ToLower(getenv("MODE", string(ModeDaily)))),
		PageLimit:          getenvInt("PAGE_LIMIT", DefaultPageLimit),
		FetchWorkers:       getenvInt("FETCH_WORKERS", DefaultFetchWorkers),
		MaxPages:           getenvInt("MAX_PAGES", DefaultMaxPages),
		PageDelay:          getenvDuration("PAGE_DELAY", 200*time.Millisecond),
		IncrementalDays:    getenvInt("INCREMENTAL_DAYS", DefaultIncrementalDays),
		HistoricalTruncate: getenvBool("HISTORICAL_TRUNCATE", true),
		ChunkSize:          getenvInt("CHUNK_SIZE", DefaultLoadChunkSize),
		LockStaleAfter:     getenvDuration("LOCK_STALE_AFTER", DefaultLockStaleAfter),
		ArchiveDir:         os.Getenv("ARCHIVE_DIR"),
		MaxRuntime:         getenvDuration("MAX_RUNTIME", DefaultMaxRuntime),
		BaselineWindow:     getenvInt("BASELINE_WINDOW", DefaultBaselineWindow),
		MinDailyExpected:   getenvInt("MIN_DAILY_EXPECTED_ROWS", DefaultMinDailyExpected),
		WatchdogMaxAge:     getenvDuration("WATCHDOG_MAX_AGE", 24*time.Hour),
		BackfillStart:      os.Getenv("BACKFILL_START"),
		BackfillEnd:        os.Getenv("BACKFILL_END"),
		DailySchedule:      getenv("DAILY_SCHEDULE", "15 2 * * *"),
		RefreshSQL:         os.Getenv("REFRESH_SQL"),
		EnableEmailAlerts:  getenvBool("ENABLE_EMAIL_ALERTS", false),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           getenvInt("SMTP_PORT", 587),
		SMTPUser:           os.Getenv("SMTP_USER"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		AlertFrom:          getenv("ALERT_FROM", "no-reply@example.com"),
		AlertEmails:        splitList(os.Getenv("ALERT_EMAILS")),
	}
}

// Validate checks the parts that must be present before any fetching begins.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if c.SourceURL == "" {
		missing = append(missing, "DATA_SOURCE_URL")
	}
	if len(missing) > 0 {
		return NewIngestError(ErrCodeConfig, "missing required env vars: %v", strings.Join(missing, ", "))
	}
	if c.Mode != ModeDaily && c.Mode != ModeHistorical {
		return NewIngestError(ErrCodeConfig, "MODE must be daily or historical, got:%v", c.Mode)
	}
	if c.TokenURL != "" && (c.ClientId == "" || c.ClientSecret == "") {
		return NewIngestError(ErrCodeConfig, "CLIENT_ID and CLIENT_SECRET are required when TOKEN_URL is set")
	}
	if c.PageLimit <= 0 || c.PageLimit > DefaultPageLimit {
		return NewIngestError(ErrCodeConfig, "PAGE_LIMIT must be within 1..%v, got:%v", DefaultPageLimit, c.PageLimit)
	}
	return nil
}

// Tokens builds the TokenSource matching the configured auth style.
func (c *Config) Tokens() TokenSource {
	if c.TokenURL != "" {
		return NewClientCredentialsTokenSource(nil, c.TokenURL, c.ClientId, c.ClientSecret)
	}
	return StaticToken(c.SourceToken)
}

// Notifier builds the alert delivery collaborator: SMTP when enabled and
// configured, otherwise a no-op.
func (c *Config) Notifier() Notifier {
	if !c.EnableEmailAlerts || c.SMTPHost == "" || len(c.AlertEmails) == 0 {
		return &NopNotifier{}
	}
	return &SMTPNotifier{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.AlertFrom,
		To:       c.AlertEmails,
	}
}

// BackfillWindow parses the configured backfill date range.
func (c *Config) BackfillWindow() (time.Time, time.Time, error) {
	if c.BackfillStart == "" || c.BackfillEnd == "" {
		return time.Time{}, time.Time{}, NewIngestError(ErrCodeConfig, "BACKFILL_START and BACKFILL_END are required for backfill")
	}
	from, err := time.Parse("2006-01-02", c.BackfillStart)
	if err != nil {
		return time.Time{}, time.Time{}, NewIngestError(ErrCodeConfig, "invalid BACKFILL_START:%v", c.BackfillStart, err)
	}
	to, err := time.Parse("2006-01-02", c.BackfillEnd)
	if err != nil {
		return time.Time{}, time.Time{}, NewIngestError(ErrCodeConfig, "invalid BACKFILL_END:%v", c.BackfillEnd, err)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, NewIngestError(ErrCodeConfig, "BACKFILL_START must precede BACKFILL_END")
	}
	return from, to, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		DefaultLogger.Warn(context.Background(), "invalid numeric env %v=%v, using %v", key, v, fallback)
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare numbers are seconds, for compatibility with older deployments
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	DefaultLogger.Warn(context.Background(), "invalid duration env %v=%v, using %v", key, v, fallback)
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
