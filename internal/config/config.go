package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// InviteDelivery selects how invitation links reach the invitee.
type InviteDelivery string

const (
	// InviteDeliverySupabase lets Supabase Auth send its own invite / magic link email.
	InviteDeliverySupabase InviteDelivery = "supabase"
	// InviteDeliverySMTP generates the link through the admin API and sends our own email.
	InviteDeliverySMTP InviteDelivery = "smtp"
)

// Config holds the configuration for the CheckLoops server and its dependencies.
type Config struct {
	// Listen is the address the HTTP server will listen on.
	Listen string `yaml:"listen" mapstructure:"listen"`
	// ServerURL is the public URL of the web application, used in emails and redirects.
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	// Roles is the list of roles a staff member can hold.
	Roles []string `yaml:"roles" mapstructure:"roles"`
	// AdminRoles is the subset of roles allowed to call privileged endpoints.
	AdminRoles []string `yaml:"admin_roles" mapstructure:"admin_roles"`
	// Sites is the list of site IDs covered by the scheduled jobs.
	Sites []int64 `yaml:"sites" mapstructure:"sites"`

	// Supabase holds the connection settings of the hosted Supabase project.
	Supabase *SupabaseConfig `yaml:"supabase" mapstructure:"supabase"`
	// Database holds the local journal database configuration.
	Database *DatabaseConfig `yaml:"database" mapstructure:"database"`
	// Cache holds the cache configuration.
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache"`
	// Invites holds the invitation lifecycle settings.
	Invites *InvitesConfig `yaml:"invites" mapstructure:"invites"`
	// Holiday holds the holiday entitlement settings.
	Holiday *HolidayConfig `yaml:"holiday" mapstructure:"holiday"`
	// Training holds the training compliance settings.
	Training *TrainingConfig `yaml:"training" mapstructure:"training"`
	// Quiz holds the quiz settings.
	Quiz *QuizConfig `yaml:"quiz" mapstructure:"quiz"`
	// Email holds the SMTP notification configuration.
	Email *EmailConfig `yaml:"email" mapstructure:"email"`
	// Gravatar holds the configuration for Gravatar fallback avatars.
	Gravatar *GravatarConfig `yaml:"gravatar" mapstructure:"gravatar"`
	// Avatars holds the avatar storage configuration.
	Avatars *AvatarsConfig `yaml:"avatars" mapstructure:"avatars"`
	// GPDirectory holds the NHS ODS lookup configuration.
	GPDirectory *GPDirectoryConfig `yaml:"gp_directory" mapstructure:"gp_directory"`
	// CORS holds the cross-origin settings for the HTTP API.
	CORS *CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// SupabaseConfig holds the settings of the Supabase project.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL string `yaml:"url" mapstructure:"url"`
	// AnonKey is the public anon key.
	AnonKey string `yaml:"anon_key" mapstructure:"anon_key"`
	// ServiceRoleKey is the service role key used for privileged calls. Never expose it to clients.
	ServiceRoleKey string `yaml:"service_role_key" mapstructure:"service_role_key"`
	// JWTSecret is the project JWT secret used to verify access tokens locally.
	// If empty, tokens are verified remotely against /auth/v1/user.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	// Timeout is the HTTP timeout for calls to Supabase.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// PageSize is the number of rows read per request when listing a table.
	// Keep it at or below the max-rows setting of the project.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// DatabaseConfig holds the local journal database configuration.
type DatabaseConfig struct {
	// Path is the path to the database file.
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig holds the configuration for the cache engine.
type CacheConfig struct {
	// Type is the type of cache engine to use (e.g., "memory", "redis").
	Type CacheType `yaml:"type" mapstructure:"type"`
	// RedisURL is the URL for the Redis cache if using Redis.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	// RoleTTL is how long admin role lookups are cached.
	RoleTTL time.Duration `yaml:"role_ttl" mapstructure:"role_ttl"`
}

// InvitesConfig holds the invitation settings.
type InvitesConfig struct {
	// TTL is how long an invite stays valid.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// RedirectURL is where the invite link sends the user after signing in.
	RedirectURL string `yaml:"redirect_url" mapstructure:"redirect_url"`
	// Delivery selects how invite links are sent ("supabase" or "smtp").
	Delivery InviteDelivery `yaml:"delivery" mapstructure:"delivery"`
	// ExpireSchedule is the cron schedule of the invite expiry sweep.
	ExpireSchedule string `yaml:"expire_schedule" mapstructure:"expire_schedule"`
	// CreateKioskUser controls whether accepting an invite provisions a kiosk row.
	CreateKioskUser bool `yaml:"create_kiosk_user" mapstructure:"create_kiosk_user"`
}

// HolidayConfig holds the holiday entitlement settings.
type HolidayConfig struct {
	// YearStartMonth is the month (1-12) the holiday year starts in.
	YearStartMonth int `yaml:"year_start_month" mapstructure:"year_start_month"`
	// ReconcileSchedule is the cron schedule of the reconciliation job.
	ReconcileSchedule string `yaml:"reconcile_schedule" mapstructure:"reconcile_schedule"`
	// AutoApply makes the scheduled reconciliation write corrected balances.
	AutoApply bool `yaml:"auto_apply" mapstructure:"auto_apply"`
}

// TrainingConfig holds the training compliance settings.
type TrainingConfig struct {
	// DueSoonDays is the window in days in which a record counts as due soon.
	DueSoonDays int `yaml:"due_soon_days" mapstructure:"due_soon_days"`
	// RemindersEnabled enables the reminder email job.
	RemindersEnabled bool `yaml:"reminders_enabled" mapstructure:"reminders_enabled"`
	// ReminderSchedule is the cron schedule of the reminder job.
	ReminderSchedule string `yaml:"reminder_schedule" mapstructure:"reminder_schedule"`
}

// QuizConfig holds the quiz settings.
type QuizConfig struct {
	// PassMark is the percentage needed to pass.
	PassMark float64 `yaml:"pass_mark" mapstructure:"pass_mark"`
	// IntervalMonths is how often a staff member has to retake the quiz.
	IntervalMonths int `yaml:"interval_months" mapstructure:"interval_months"`
	// QuestionCount is the number of questions drawn for an attempt.
	QuestionCount int `yaml:"question_count" mapstructure:"question_count"`
	// ReminderSchedule is the cron schedule of the overdue quiz reminder job.
	ReminderSchedule string `yaml:"reminder_schedule" mapstructure:"reminder_schedule"`
}

// EmailConfig holds the email notification configuration.
type EmailConfig struct {
	// Enabled indicates whether email notifications are enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// SMTPHost is the SMTP server host.
	SMTPHost string `yaml:"smtp_host" mapstructure:"smtp_host"`
	// SMTPPort is the SMTP server port.
	SMTPPort int `yaml:"smtp_port" mapstructure:"smtp_port"`
	// Username is the SMTP username.
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the SMTP password.
	Password string `yaml:"password" mapstructure:"password"`
	// FromEmail is the email address from which notifications are sent.
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	// FromName is the name from which notifications are sent.
	FromName string `yaml:"from_name" mapstructure:"from_name"`
	// UseTLS indicates whether to use TLS for the SMTP connection.
	UseTLS bool `yaml:"use_tls" mapstructure:"use_tls"`
	// UseSSL indicates whether to use SSL for the SMTP connection.
	UseSSL bool `yaml:"use_ssl" mapstructure:"use_ssl"`
	// InsecureSkipVerify indicates whether to skip TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// GravatarConfig holds the configuration for Gravatar profile pictures.
type GravatarConfig struct {
	// Enabled indicates whether Gravatar support is enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DefaultImage is the default image to use when no Gravatar is found.
	// Valid values: "404", "mp", "identicon", "monsterid", "wavatar", "retro", "robohash", "blank"
	DefaultImage string `yaml:"default_image" mapstructure:"default_image"`
	// Rating is the maximum rating for Gravatar images.
	// Valid values: "g", "pg", "r", "x"
	Rating string `yaml:"rating" mapstructure:"rating"`
	// Size is the size of the Gravatar image in pixels (1-2048).
	Size int `yaml:"size" mapstructure:"size"`
}

// AvatarsConfig holds the avatar storage configuration.
type AvatarsConfig struct {
	// Bucket is the Supabase storage bucket holding avatars.
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	// Size is the edge length in pixels of the stored square avatar.
	Size int `yaml:"size" mapstructure:"size"`
	// MaxUploadBytes limits the accepted upload size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	// MaxPixels limits width times height of an upload, checked before decoding.
	MaxPixels int `yaml:"max_pixels" mapstructure:"max_pixels"`
}

// GPDirectoryConfig holds the NHS ODS API configuration.
type GPDirectoryConfig struct {
	// URL is the base URL of the ODS ORD API.
	URL string `yaml:"url" mapstructure:"url"`
	// CacheTTL is how long search results are cached.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	// Limit is the maximum number of practices returned per search.
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// CORSConfig holds the cross-origin settings.
type CORSConfig struct {
	// AllowedOrigins is the list of allowed origins. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// IsAdminRole reports whether the role grants admin privileges.
func (c *Config) IsAdminRole(role string) bool {
	return slices.Contains(c.AdminRoles, strings.ToLower(strings.TrimSpace(role)))
}

// IsValidRole reports whether the role is one of the configured staff roles.
func (c *Config) IsValidRole(role string) bool {
	return slices.Contains(c.Roles, strings.ToLower(strings.TrimSpace(role)))
}

// Load reads the configuration from the specified path and returns a Config struct.
// If path is empty, it will use default search paths for config files.
func Load(path string) (*Config, error) {
	v := viper.New()

	// bind secrets that have no sensible default
	bindNestedEnv(v)

	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHECKLOOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configFileFound bool
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.checkloops")
		v.AddConfigPath("/etc/checkloops")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		configFileFound = true
	}

	if configFileFound {
		log.Debug("Using config file", "file", v.ConfigFileUsed())
		log.Debug("Values can be overridden with CHECKLOOPS_ prefixed environment variables")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	sanitizeConfig(&c)

	if err := validateConfig(&c); err != nil {
		return nil, err
	}

	return &c, nil
}

// setDefaults sets default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:8080")
	v.SetDefault("server_url", "http://localhost:3000")
	v.SetDefault("roles", []string{"staff", "nurse", "gp", "manager", "admin", "owner"})
	v.SetDefault("admin_roles", []string{"admin", "owner"})

	v.SetDefault("supabase.timeout", 30*time.Second)
	v.SetDefault("supabase.page_size", 1000)

	v.SetDefault("database.path", "./data/checkloops.db")

	v.SetDefault("cache.type", CacheTypeMemory)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.role_ttl", 5*time.Minute)

	v.SetDefault("invites.ttl", 7*24*time.Hour)
	v.SetDefault("invites.redirect_url", "")
	v.SetDefault("invites.delivery", InviteDeliverySupabase)
	v.SetDefault("invites.expire_schedule", "0 * * * *") // hourly
	v.SetDefault("invites.create_kiosk_user", true)

	v.SetDefault("holiday.year_start_month", 4) // UK financial year
	v.SetDefault("holiday.reconcile_schedule", "30 2 * * *")
	v.SetDefault("holiday.auto_apply", false)

	v.SetDefault("training.due_soon_days", 30)
	v.SetDefault("training.reminders_enabled", false)
	v.SetDefault("training.reminder_schedule", "0 8 * * 1") // Mondays 08:00

	v.SetDefault("quiz.pass_mark", 80.0)
	v.SetDefault("quiz.interval_months", 12)
	v.SetDefault("quiz.question_count", 10)
	v.SetDefault("quiz.reminder_schedule", "0 9 * * 1")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from_name", "CheckLoops")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("email.insecure_skip_verify", false)

	v.SetDefault("gravatar.enabled", true)
	v.SetDefault("gravatar.default_image", "mp")
	v.SetDefault("gravatar.rating", "g")
	v.SetDefault("gravatar.size", 256)

	v.SetDefault("avatars.bucket", "avatars")
	v.SetDefault("avatars.size", 256)
	v.SetDefault("avatars.max_upload_bytes", 5<<20)
	v.SetDefault("avatars.max_pixels", 25_000_000)

	v.SetDefault("gp_directory.url", "https://directory.spineservices.nhs.uk/ORD/2-0-0")
	v.SetDefault("gp_directory.cache_ttl", 24*time.Hour)
	v.SetDefault("gp_directory.limit", 20)

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// viper's AutomaticEnv only resolves keys it already knows about, so keys without defaults
// have to be bound explicitly.
func bindNestedEnv(v *viper.Viper) {
	v.MustBindEnv("supabase.url", "CHECKLOOPS_SUPABASE_URL", "SUPABASE_URL")
	v.MustBindEnv("supabase.anon_key", "CHECKLOOPS_SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY")
	v.MustBindEnv("supabase.service_role_key", "CHECKLOOPS_SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_SERVICE_ROLE_KEY")
	v.MustBindEnv("supabase.jwt_secret", "CHECKLOOPS_SUPABASE_JWT_SECRET", "SUPABASE_JWT_SECRET")

	v.MustBindEnv("email.from_email", "CHECKLOOPS_EMAIL_FROM_EMAIL")
	v.MustBindEnv("sites", "CHECKLOOPS_SITES")
}

// validateConfig validates the configuration.
func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("missing checkloops config")
	}

	if c.Supabase == nil || c.Supabase.URL == "" {
		return fmt.Errorf("supabase URL is required")
	}
	if c.Supabase.ServiceRoleKey == "" {
		return fmt.Errorf("supabase service role key is required")
	}

	if len(c.Roles) == 0 {
		return fmt.Errorf("at least one role must be configured")
	}
	if len(c.AdminRoles) == 0 {
		return fmt.Errorf("at least one admin role must be configured")
	}
	for _, r := range c.AdminRoles {
		if !slices.Contains(c.Roles, r) {
			return fmt.Errorf("admin role %q is not in the list of roles", r)
		}
	}

	if c.Cache != nil {
		if c.Cache.Type == "" {
			return fmt.Errorf("cache type is required when cache is enabled")
		}
		if c.Cache.Type == CacheTypeRedis && c.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required when Redis cache is enabled") //nolint:staticcheck
		}
	} else {
		c.Cache = &CacheConfig{
			Type:    CacheTypeMemory,
			RoleTTL: 5 * time.Minute,
		}
	}

	if c.Invites != nil {
		if c.Invites.TTL <= 0 {
			return fmt.Errorf("invite TTL must be positive")
		}
		switch c.Invites.Delivery {
		case InviteDeliverySupabase:
		case InviteDeliverySMTP:
			if c.Email == nil || !c.Email.Enabled {
				return fmt.Errorf("smtp invite delivery requires email to be enabled")
			}
		default:
			return fmt.Errorf("unknown invite delivery %q", c.Invites.Delivery)
		}
		if err := validateCron("invites.expire_schedule", c.Invites.ExpireSchedule); err != nil {
			return err
		}
	}

	if c.Holiday != nil {
		if c.Holiday.YearStartMonth < 1 || c.Holiday.YearStartMonth > 12 {
			return fmt.Errorf("holiday year start month must be between 1 and 12")
		}
		if err := validateCron("holiday.reconcile_schedule", c.Holiday.ReconcileSchedule); err != nil {
			return err
		}
	}

	if c.Training != nil {
		if c.Training.DueSoonDays < 0 {
			return fmt.Errorf("training due soon days must not be negative")
		}
		if err := validateCron("training.reminder_schedule", c.Training.ReminderSchedule); err != nil {
			return err
		}
	}

	if c.Quiz != nil {
		if c.Quiz.PassMark <= 0 || c.Quiz.PassMark > 100 {
			return fmt.Errorf("quiz pass mark must be in (0, 100]")
		}
		if c.Quiz.IntervalMonths <= 0 {
			return fmt.Errorf("quiz interval must be at least one month")
		}
		if c.Quiz.QuestionCount <= 0 {
			return fmt.Errorf("quiz question count must be positive")
		}
		if err := validateCron("quiz.reminder_schedule", c.Quiz.ReminderSchedule); err != nil {
			return err
		}
	}

	if c.Email != nil && c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when email is enabled")
		}
		if c.Email.FromEmail == "" {
			return fmt.Errorf("from email is required when email is enabled")
		}
	}

	if c.Avatars != nil {
		if c.Avatars.Size <= 0 {
			return fmt.Errorf("avatar size must be positive")
		}
		if c.Avatars.MaxUploadBytes <= 0 {
			return fmt.Errorf("avatar max upload bytes must be positive")
		}
		if c.Avatars.MaxPixels <= 0 {
			return fmt.Errorf("avatar max pixels must be positive")
		}
	}

	return nil
}

// validateCron does a basic check for a five field cron expression.
func validateCron(name, expr string) error {
	if expr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(strings.Fields(expr)) != 5 {
		return fmt.Errorf("%s must be a valid cron expression with 5 fields (minute hour day month weekday)", name)
	}
	return nil
}

// sanitizeConfig sanitizes the configuration values.
func sanitizeConfig(c *Config) {
	if c == nil {
		return
	}

	c.Listen = urlSanitize(c.Listen)

	if c.ServerURL != "" {
		c.ServerURL = urlSanitize(c.ServerURL)
	}

	if c.Supabase != nil {
		c.Supabase.URL = urlSanitize(c.Supabase.URL)
	}

	if c.GPDirectory != nil {
		c.GPDirectory.URL = urlSanitize(c.GPDirectory.URL)
	}

	for i, r := range c.Roles {
		c.Roles[i] = strings.ToLower(strings.TrimSpace(r))
	}
	for i, r := range c.AdminRoles {
		c.AdminRoles[i] = strings.ToLower(strings.TrimSpace(r))
	}
}

func urlSanitize(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}
