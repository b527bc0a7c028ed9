package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConflictPolicy decides how a failed conflict query is treated.
type ConflictPolicy string

const (
	// FailOpen treats an unanswerable conflict query as "no conflict".
	FailOpen ConflictPolicy = "fail-open"
	// FailClosed treats it as a conflict and keeps the change for the next run.
	FailClosed ConflictPolicy = "fail-closed"
)

type Config struct {
	DBDriver string
	DBDSN    string

	WorkforceURL    string
	WorkforceSecret string

	GatewayURL   string
	GatewayToken string

	ODataURL      string
	ODataUser     string
	ODataPassword string

	DefaultAccountPassword string
	ExcludedWorkTypeID     int
	RetentionDays          int
	ReferenceTimezone      string

	BatchSize      int
	BatchDelay     time.Duration
	SettleDelay    time.Duration
	SlotCheckDelay time.Duration
	ConflictPolicy ConflictPolicy

	LogFile          string
	TriggerJWTSecret string
	Port             string
	GinMode          string
}

func defaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "roster.db")
	v.SetDefault("DEFAULT_ACCOUNT_PASSWORD", "1001")
	v.SetDefault("EXCLUDED_WORK_TYPE_ID", 472663)
	v.SetDefault("RETENTION_DAYS", 90)
	v.SetDefault("REFERENCE_TIMEZONE", "Australia/Sydney")
	v.SetDefault("BATCH_SIZE", 8)
	v.SetDefault("BATCH_DELAY", "1s")
	v.SetDefault("SETTLE_DELAY", "1s")
	v.SetDefault("SLOT_CHECK_DELAY", "500ms")
	v.SetDefault("CONFLICT_POLICY", string(FailOpen))
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
}

// Load reads optional .env files and then the process environment.
// Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := &Config{
		DBDriver:               strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:                  v.GetString("DB_DSN"),
		WorkforceURL:           strings.TrimRight(v.GetString("WORKFORCE_API_URL"), "/"),
		WorkforceSecret:        v.GetString("WORKFORCE_API_SECRET"),
		GatewayURL:             strings.TrimRight(v.GetString("SCHEDULING_GATEWAY_URL"), "/"),
		GatewayToken:           v.GetString("SCHEDULING_API_TOKEN"),
		ODataURL:               strings.TrimRight(v.GetString("SCHEDULING_ODATA_URL"), "/"),
		ODataUser:              v.GetString("SCHEDULING_ODATA_USER"),
		ODataPassword:          v.GetString("SCHEDULING_ODATA_PASSWORD"),
		DefaultAccountPassword: v.GetString("DEFAULT_ACCOUNT_PASSWORD"),
		ExcludedWorkTypeID:     v.GetInt("EXCLUDED_WORK_TYPE_ID"),
		RetentionDays:          v.GetInt("RETENTION_DAYS"),
		ReferenceTimezone:      v.GetString("REFERENCE_TIMEZONE"),
		BatchSize:              v.GetInt("BATCH_SIZE"),
		BatchDelay:             v.GetDuration("BATCH_DELAY"),
		SettleDelay:            v.GetDuration("SETTLE_DELAY"),
		SlotCheckDelay:         v.GetDuration("SLOT_CHECK_DELAY"),
		ConflictPolicy:         ConflictPolicy(strings.ToLower(v.GetString("CONFLICT_POLICY"))),
		LogFile:                v.GetString("LOG_FILE"),
		TriggerJWTSecret:       v.GetString("TRIGGER_JWT_SECRET"),
		Port:                   v.GetString("PORT"),
		GinMode:                v.GetString("GIN_MODE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	switch c.ConflictPolicy {
	case FailOpen, FailClosed:
	default:
		errs = append(errs, fmt.Errorf("CONFLICT_POLICY must be %s or %s, got %q", FailOpen, FailClosed, c.ConflictPolicy))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, errors.New("RETENTION_DAYS must be positive"))
	}
	if c.BatchDelay < 0 || c.SettleDelay < 0 || c.SlotCheckDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if _, err := time.LoadLocation(c.ReferenceTimezone); err != nil {
		errs = append(errs, fmt.Errorf("REFERENCE_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// ReferenceLocation is the zone that defines "today" for maintenance jobs.
func (c *Config) ReferenceLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReferenceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
