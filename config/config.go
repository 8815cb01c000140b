// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backends and providers selectable by configuration.
const (
	BackendFirestore = "firestore"
	BackendBucket    = "bucket"

	SourceFirestore = "firestore"
	SourceWordPress = "wordpress"

	ProviderSMTP    = "smtp"
	ProviderEmailJS = "emailjs"
	ProviderGmail   = "gmail"
	ProviderMock    = "mock"
)

const localSalt = "local-development-salt"

// Config holds all configuration for the service.
type Config struct {
	Port     string `mapstructure:"PORT"`
	BaseURL  string `mapstructure:"BASE_URL"`
	SiteName string `mapstructure:"SITE_NAME"`
	FromAddr string `mapstructure:"FROM_ADDRESS"`
	FromName string `mapstructure:"FROM_NAME"`

	ProjectID      string `mapstructure:"GCP_PROJECT"`
	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	Bucket         string `mapstructure:"STORAGE_BUCKET"`
	LocalStorage   string `mapstructure:"LOCAL_STORAGE"`
	SubscriberSalt string `mapstructure:"SUBSCRIBER_SALT"`
	Subscribers    string `mapstructure:"SUBSCRIBERS_COLLECTION"`
	Posts          string `mapstructure:"CONTENT_COLLECTION"`
	Triggers       string `mapstructure:"TRIGGERS_COLLECTION"`
	ContentSource  string `mapstructure:"CONTENT_SOURCE"`
	WordPressURL   string `mapstructure:"WORDPRESS_URL"`

	EmailProvider     string `mapstructure:"EMAIL_PROVIDER"`
	SMTPHost          string `mapstructure:"SMTP_HOST"`
	SMTPPort          string `mapstructure:"SMTP_PORT"`
	SMTPUser          string `mapstructure:"SMTP_USER"`
	SMTPPassword      string `mapstructure:"SMTP_PASSWORD"`
	EmailJSServiceID  string `mapstructure:"EMAILJS_SERVICE_ID"`
	EmailJSTemplateID string `mapstructure:"EMAILJS_TEMPLATE_ID"`
	EmailJSPublicKey  string `mapstructure:"EMAILJS_PUBLIC_KEY"`
	EmailJSPrivateKey string `mapstructure:"EMAILJS_PRIVATE_KEY"`
	GoogleCredentials string `mapstructure:"GOOGLE_CREDENTIALS_JSON"`

	CleanupSchedule   string `mapstructure:"CLEANUP_SCHEDULE"`
	CleanupTimezone   string `mapstructure:"CLEANUP_TIMEZONE"`
	DormancyMonths    int    `mapstructure:"DORMANCY_MONTHS"`
	NotifyConcurrency int    `mapstructure:"NOTIFY_CONCURRENCY"`
	TaskToken         string `mapstructure:"TASK_TOKEN"`
	WatchFirestore    bool   `mapstructure:"WATCH_FIRESTORE"`
	PollWordPress     bool   `mapstructure:"POLL_WORDPRESS"`

	// Local is set when neither a project nor a bucket is configured.
	// Subscribers then live in LocalStorage and mail defaults to the mock provider.
	Local bool `mapstructure:"-"`
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"SITE_NAME":              "Newsletter",
	"FROM_NAME":              "Newsletter",
	"SUBSCRIBERS_COLLECTION": "subscribers",
	"CONTENT_COLLECTION":     "blogPosts",
	"TRIGGERS_COLLECTION":    "notificationTriggers",
	"SMTP_HOST":              "smtp.gmail.com",
	"SMTP_PORT":              "587",
	"CLEANUP_SCHEDULE":       "0 0 1 * *",
	"CLEANUP_TIMEZONE":       "America/New_York",
	"DORMANCY_MONTHS":        6,
	"NOTIFY_CONCURRENCY":     0,
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	// Bind every key so that Unmarshal sees values only present in the environment.
	for _, key := range envKeys() {
		_ = v.BindEnv(key) //nolint:errcheck // BindEnv only fails without a key
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolve()
	if !v.IsSet("WATCH_FIRESTORE") {
		// Listen for new posts whenever they live in Firestore.
		cfg.WatchFirestore = cfg.ProjectID != "" && cfg.ContentSource == SourceFirestore
	}
	if !v.IsSet("POLL_WORDPRESS") {
		cfg.PollWordPress = cfg.ContentSource == SourceWordPress && cfg.WordPressURL != ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve fills values that depend on other values.
func (c *Config) resolve() {
	if c.ProjectID == "" && c.Bucket == "" {
		c.Local = true
		if c.LocalStorage == "" {
			c.LocalStorage = "./data"
		}
	}
	if c.Local && c.BaseURL == "" {
		c.BaseURL = "http://localhost:" + c.Port
	}
	if c.Local && c.SubscriberSalt == "" {
		c.SubscriberSalt = localSalt
	}

	if c.StoreBackend == "" {
		c.StoreBackend = BackendBucket
		if c.ProjectID != "" && c.Bucket == "" {
			c.StoreBackend = BackendFirestore
		}
	}
	if c.ContentSource == "" {
		c.ContentSource = SourceFirestore
		if c.WordPressURL != "" || c.ProjectID == "" {
			c.ContentSource = SourceWordPress
		}
	}
	if c.EmailProvider == "" {
		switch {
		case c.SMTPUser != "":
			c.EmailProvider = ProviderSMTP
		case c.EmailJSServiceID != "":
			c.EmailProvider = ProviderEmailJS
		case c.GoogleCredentials != "":
			c.EmailProvider = ProviderGmail
		default:
			c.EmailProvider = ProviderMock
		}
	}
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	c.ContentSource = strings.ToLower(c.ContentSource)
	c.EmailProvider = strings.ToLower(c.EmailProvider)
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BASE_URL is required (e.g., https://agency.example)")
	}
	if c.SubscriberSalt == "" {
		return errors.New("SUBSCRIBER_SALT is required outside local mode")
	}

	switch c.StoreBackend {
	case BackendFirestore:
		if c.ProjectID == "" {
			return errors.New("GCP_PROJECT is required for the firestore store")
		}
	case BackendBucket:
		if c.Bucket == "" && c.LocalStorage == "" {
			return errors.New("STORAGE_BUCKET or LOCAL_STORAGE is required for the bucket store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.ContentSource {
	case SourceFirestore:
		if c.ProjectID == "" {
			return errors.New("GCP_PROJECT is required for the firestore content source")
		}
	case SourceWordPress:
		if c.WordPressURL == "" && !c.Local {
			return errors.New("WORDPRESS_URL is required for the wordpress content source")
		}
	default:
		return fmt.Errorf("unknown CONTENT_SOURCE %q", c.ContentSource)
	}

	switch c.EmailProvider {
	case ProviderSMTP:
		if c.SMTPUser == "" || c.SMTPPassword == "" {
			return errors.New("SMTP_USER and SMTP_PASSWORD are required for the smtp provider")
		}
	case ProviderEmailJS:
		if c.EmailJSServiceID == "" || c.EmailJSTemplateID == "" || c.EmailJSPublicKey == "" {
			return errors.New("EMAILJS_SERVICE_ID, EMAILJS_TEMPLATE_ID and EMAILJS_PUBLIC_KEY are required for the emailjs provider")
		}
	case ProviderGmail, ProviderMock:
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}

	if c.WatchFirestore && c.ProjectID == "" {
		return errors.New("GCP_PROJECT is required to watch Firestore")
	}
	if c.PollWordPress && c.WordPressURL == "" {
		return errors.New("WORDPRESS_URL is required to poll WordPress")
	}
	if c.DormancyMonths < 1 {
		return fmt.Errorf("DORMANCY_MONTHS must be positive, got %d", c.DormancyMonths)
	}
	return nil
}

// From returns the From header for outgoing mail.
func (c *Config) From() string {
	addr := c.FromAddr
	if addr == "" {
		addr = c.SMTPUser
	}
	if addr == "" || c.FromName == "" {
		return addr
	}
	return fmt.Sprintf("%q <%s>", c.FromName, addr)
}

func envKeys() []string {
	return []string{
		"PORT", "BASE_URL", "SITE_NAME", "FROM_ADDRESS", "FROM_NAME",
		"GCP_PROJECT", "STORE_BACKEND", "STORAGE_BUCKET", "LOCAL_STORAGE", "SUBSCRIBER_SALT",
		"SUBSCRIBERS_COLLECTION", "CONTENT_COLLECTION", "TRIGGERS_COLLECTION",
		"CONTENT_SOURCE", "WORDPRESS_URL",
		"EMAIL_PROVIDER", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD",
		"EMAILJS_SERVICE_ID", "EMAILJS_TEMPLATE_ID", "EMAILJS_PUBLIC_KEY", "EMAILJS_PRIVATE_KEY",
		"GOOGLE_CREDENTIALS_JSON",
		"CLEANUP_SCHEDULE", "CLEANUP_TIMEZONE", "DORMANCY_MONTHS", "NOTIFY_CONCURRENCY",
		"TASK_TOKEN", "WATCH_FIRESTORE", "POLL_WORDPRESS",
	}
}
