package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: abc
  poll_timeout: 10s
scheduler:
  timezone: UTC
reminders:
  daily_summary_at: "22:00"
  gap_check: "*/30 * * * *"
  default_schedule:
    - at: "08:00"
      activity: breakfast
storage:
  driver: memory
`)
	m := NewConfigManager(p)
	m.getenv = func(string) string { return "" }
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "abc" || cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if got := cfg.Reminders.DefaultSchedule; len(got) != 1 || got[0].Activity != "breakfast" {
		t.Fatalf("default_schedule=%+v", got)
	}
	if m.Get() != cfg {
		t.Fatalf("Get should return committed config")
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]string{
		"unknown.json":  `{"telegram":{"token":"x"},"plugins":{}}`,
		"trailing.json": `{"telegram":{"token":"x"}} {}`,
	}
	for name, body := range cases {
		m := NewConfigManager(writeFile(t, dir, name, body))
		if _, err := m.Parse(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEnvFallbackForSecrets(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":""}}`)
	m := NewConfigManager(p)
	m.getenv = func(k string) string {
		switch k {
		case EnvBotToken:
			return "from-env"
		case EnvGeminiAPIKey:
			return "gem"
		}
		return ""
	}
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Extract.Gemini.APIKey != "gem" {
		t.Fatalf("env fallback not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config { return &Config{Telegram: TelegramConfig{Token: "x"}} }
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad summary time", func(c *Config) { c.Reminders.DailySummaryAt = "25:00" }, "daily_summary_at"},
		{"bad cron", func(c *Config) { c.Reminders.GapCheck = "every half hour" }, "gap_check"},
		{"bad tz", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"dup slot", func(c *Config) {
			c.Reminders.DefaultSchedule = []DefaultSlot{{At: "08:00", Activity: "a"}, {At: "08:00", Activity: "b"}}
		}, "duplicate"},
		{"bad driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, "storage.driver"},
		{"bad duration", func(c *Config) { c.Notifier = &NotifierConfig{RetryBase: "soon"} }, "notifier.retry_base"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration should fail")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	a := &Config{}
	b := &Config{}
	b.Extract.Gemini.APIKey = "secret"
	b.Reminders.GapCheck = "*/15 * * * *"
	changed, _ := SummarizeChange(a, b)
	if !reflect.DeepEqual(changed, []string{"extract", "reminders"}) {
		t.Fatalf("changed=%v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"telegram":{"token":"a"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Router.Workers != 3 {
				t.Fatalf("unexpected reload: %+v", cfg.Router)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			writeFile(t, dir, "config.json", `{"telegram":{"token":"a"},"router":{"workers":3}}`)
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}
