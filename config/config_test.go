package config

import (
	"strings"
	"testing"
)

// clearEnv blanks every key so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys() {
		t.Setenv(key, "")
	}
}

func TestLocalDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}
	if !cfg.Local {
		t.Error("expected local mode")
	}
	checks := map[string][2]string{
		"LocalStorage":  {cfg.LocalStorage, "./data"},
		"BaseURL":       {cfg.BaseURL, "http://localhost:8080"},
		"StoreBackend":  {cfg.StoreBackend, BackendBucket},
		"ContentSource": {cfg.ContentSource, SourceWordPress},
		"EmailProvider": {cfg.EmailProvider, ProviderMock},
		"Subscribers":   {cfg.Subscribers, "subscribers"},
		"Posts":         {cfg.Posts, "blogPosts"},
		"Triggers":      {cfg.Triggers, "notificationTriggers"},
		"SMTPHost":      {cfg.SMTPHost, "smtp.gmail.com"},
		"SMTPPort":      {cfg.SMTPPort, "587"},
		"Schedule":      {cfg.CleanupSchedule, "0 0 1 * *"},
		"Timezone":      {cfg.CleanupTimezone, "America/New_York"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
	if cfg.DormancyMonths != 6 {
		t.Errorf("DormancyMonths = %d, want 6", cfg.DormancyMonths)
	}
	if cfg.SubscriberSalt == "" {
		t.Error("local mode should provide a salt")
	}
	if cfg.WatchFirestore {
		t.Error("no Firestore to watch in local mode")
	}
}

func TestProductionFirestore(t *testing.T) {
	clearEnv(t)
	t.Setenv("GCP_PROJECT", "agency-site")
	t.Setenv("BASE_URL", "https://agency.example")
	t.Setenv("SUBSCRIBER_SALT", "pepper")
	t.Setenv("SMTP_USER", "news@agency.example")
	t.Setenv("SMTP_PASSWORD", "app-password")
	t.Setenv("DORMANCY_MONTHS", "3")
	t.Setenv("NOTIFY_CONCURRENCY", "10")

	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}
	if cfg.Local {
		t.Error("should not be local")
	}
	if cfg.StoreBackend != BackendFirestore || cfg.ContentSource != SourceFirestore || cfg.EmailProvider != ProviderSMTP {
		t.Errorf("backends = %s/%s/%s", cfg.StoreBackend, cfg.ContentSource, cfg.EmailProvider)
	}
	if !cfg.WatchFirestore {
		t.Error("Firestore content should be watched by default")
	}
	if cfg.DormancyMonths != 3 || cfg.NotifyConcurrency != 10 {
		t.Errorf("DormancyMonths/NotifyConcurrency = %d/%d", cfg.DormancyMonths, cfg.NotifyConcurrency)
	}
}

func TestWatchFirestoreExplicitlyDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("GCP_PROJECT", "agency-site")
	t.Setenv("BASE_URL", "https://agency.example")
	t.Setenv("SUBSCRIBER_SALT", "pepper")
	t.Setenv("WATCH_FIRESTORE", "false")

	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}
	if cfg.WatchFirestore {
		t.Error("WATCH_FIRESTORE=false should win")
	}
}

func TestPollWordPressDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORDPRESS_URL", "https://blog.agency.example")

	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}
	if cfg.ContentSource != SourceWordPress || !cfg.PollWordPress {
		t.Errorf("ContentSource/PollWordPress = %s/%v, want wordpress/true", cfg.ContentSource, cfg.PollWordPress)
	}

	clearEnv(t)
	cfg, err = fromEnv()
	if err != nil {
		t.Fatalf("fromEnv: %v", err)
	}
	if cfg.PollWordPress {
		t.Error("nothing to poll without WORDPRESS_URL")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bucket without base url",
			env:     map[string]string{"STORAGE_BUCKET": "subs", "SUBSCRIBER_SALT": "p"},
			wantErr: "BASE_URL",
		},
		{
			name:    "production without salt",
			env:     map[string]string{"STORAGE_BUCKET": "subs", "BASE_URL": "https://a.example"},
			wantErr: "SUBSCRIBER_SALT",
		},
		{
			name:    "smtp without password",
			env:     map[string]string{"EMAIL_PROVIDER": "smtp", "SMTP_USER": "u@x.com"},
			wantErr: "SMTP_PASSWORD",
		},
		{
			name:    "emailjs incomplete",
			env:     map[string]string{"EMAIL_PROVIDER": "emailjs", "EMAILJS_SERVICE_ID": "svc"},
			wantErr: "EMAILJS_TEMPLATE_ID",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"EMAIL_PROVIDER": "carrier-pigeon"},
			wantErr: "EMAIL_PROVIDER",
		},
		{
			name:    "firestore store without project",
			env:     map[string]string{"STORE_BACKEND": "firestore"},
			wantErr: "GCP_PROJECT",
		},
		{
			name:    "wordpress without url in production",
			env:     map[string]string{"STORAGE_BUCKET": "subs", "BASE_URL": "https://a.example", "SUBSCRIBER_SALT": "p"},
			wantErr: "WORDPRESS_URL",
		},
		{
			name:    "non-positive dormancy",
			env:     map[string]string{"DORMANCY_MONTHS": "0"},
			wantErr: "DORMANCY_MONTHS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := fromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("fromEnv() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestFrom(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{FromAddr: "news@agency.example", FromName: "Agency"}, `"Agency" <news@agency.example>`},
		{Config{FromAddr: "news@agency.example"}, "news@agency.example"},
		{Config{SMTPUser: "relay@agency.example", FromName: "Agency"}, `"Agency" <relay@agency.example>`},
		{Config{FromName: "Agency"}, ""},
	}
	for _, tt := range tests {
		if got := tt.cfg.From(); got != tt.want {
			t.Errorf("From() = %q, want %q", got, tt.want)
		}
	}
}
