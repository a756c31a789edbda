package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
platform: telegram
telegram:
  token: "123:abc"
  timeout: 30

workflow:
  max_media: 6
  timezone: America/Bogota
  supervisors: ["ANA", "LUIS"]
  operators: ["WIN"]
  type_labels:
    hot: CALIENTE
    cold: FRIO
  wiring:
    finish: FIN_CABLEADO
    items:
      - code: CTO
        label: CTO
        column: Observaciones CTO

watermark:
  enabled: false
  font_scale: 3
  quality: 80

replica:
  dir: /var/lib/fa/wm
  max_age: 2h
  sweep_cron: "0 * * * *"

links:
  backend: file
  path: /etc/fa/links.json
  watch: true
  keys: [norte, sur]

storage:
  backend: sheets
  sheets:
    spreadsheet_id: sheet-1
    credentials_file: /etc/fa/creds.json
    header_ttl: 10m

ops:
  enabled: true
  port: 9090

log:
  file: /var/log/fa.log
  level: debug
  production: true
`

const minimalYAML = `
platform: telegram
telegram:
  token: "123:abc"
`

// clearEnv blanks every override so the host environment cannot leak into
// a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BOT_TOKEN", "DISCORD_BOT_TOKEN", "SLACK_APP_TOKEN", "SLACK_BOT_TOKEN",
		"SHEET_ID", "SHEET_TAB_PLANTILLAS", "SHEET_TAB_SUPERVISIONES",
		"GOOGLE_CREDS_JSON_TEXT", "GOOGLE_CREDS_JSON", "CONFIG_PATH", "WM_DIR", "DATABASE_DSN",
	} {
		t.Setenv(k, "")
	}
}

// --- Parse tests ---

func TestParse_FullConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != "telegram" {
		t.Errorf("Platform = %q, want %q", cfg.Platform, "telegram")
	}
	if cfg.Telegram.Timeout != 30 {
		t.Errorf("Telegram.Timeout = %d, want 30", cfg.Telegram.Timeout)
	}
	if cfg.Workflow.MaxMedia != 6 {
		t.Errorf("Workflow.MaxMedia = %d, want 6", cfg.Workflow.MaxMedia)
	}
	if cfg.Workflow.Timezone != "America/Bogota" {
		t.Errorf("Workflow.Timezone = %q, want America/Bogota", cfg.Workflow.Timezone)
	}
	if len(cfg.Workflow.Supervisors) != 2 || cfg.Workflow.Supervisors[1] != "LUIS" {
		t.Errorf("Workflow.Supervisors = %v", cfg.Workflow.Supervisors)
	}
	if cfg.Workflow.Wiring.Items[0].Column != "Observaciones CTO" {
		t.Errorf("Wiring.Items[0].Column = %q", cfg.Workflow.Wiring.Items[0].Column)
	}
	if cfg.Watermark.On() {
		t.Error("Watermark.On() = true, want false")
	}
	if cfg.Watermark.Quality != 80 {
		t.Errorf("Watermark.Quality = %d, want 80", cfg.Watermark.Quality)
	}
	if cfg.Replica.MaxAge != 2*time.Hour {
		t.Errorf("Replica.MaxAge = %v, want 2h", cfg.Replica.MaxAge)
	}
	if cfg.Replica.SweepCron != "0 * * * *" {
		t.Errorf("Replica.SweepCron = %q", cfg.Replica.SweepCron)
	}
	if !cfg.Links.Watch || len(cfg.Links.Keys) != 2 {
		t.Errorf("Links = %+v", cfg.Links)
	}
	if !cfg.Storage.Sheets.Ready() {
		t.Error("Sheets.Ready() = false, want true")
	}
	if cfg.Storage.Sheets.HeaderTTL != 10*time.Minute {
		t.Errorf("Sheets.HeaderTTL = %v, want 10m", cfg.Storage.Sheets.HeaderTTL)
	}
	if !cfg.Ops.Enabled || cfg.Ops.Port != 9090 {
		t.Errorf("Ops = %+v", cfg.Ops)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Production {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Timeout != 60 {
		t.Errorf("Telegram.Timeout = %d, want 60", cfg.Telegram.Timeout)
	}
	if cfg.Workflow.MaxMedia != 8 {
		t.Errorf("Workflow.MaxMedia = %d, want 8", cfg.Workflow.MaxMedia)
	}
	if cfg.Workflow.Timezone != "America/Lima" {
		t.Errorf("Workflow.Timezone = %q, want America/Lima", cfg.Workflow.Timezone)
	}
	if !cfg.Watermark.On() {
		t.Error("Watermark.On() = false, want true by default")
	}
	if cfg.Watermark.FontScale != 2 || cfg.Watermark.Quality != 90 {
		t.Errorf("Watermark = %+v", cfg.Watermark)
	}
	if cfg.Replica.Dir != "wm_tmp" || cfg.Replica.MaxAge != 6*time.Hour || cfg.Replica.SweepCron != "*/30 * * * *" {
		t.Errorf("Replica = %+v", cfg.Replica)
	}
	if cfg.Links.Backend != "file" || cfg.Links.Path != "group_links.json" {
		t.Errorf("Links = %+v", cfg.Links)
	}
	if strings.Join(cfg.Links.Keys, ",") != "rafael,edgar,harnol,nelson,pruebas" {
		t.Errorf("Links.Keys = %v", cfg.Links.Keys)
	}
	if cfg.Storage.Backend != "sheets" {
		t.Errorf("Storage.Backend = %q, want sheets", cfg.Storage.Backend)
	}
	if cfg.Storage.Sheets.TemplatesTab != "Plantillas" || cfg.Storage.Sheets.SupervisionsTab != "Supervisiones" {
		t.Errorf("Sheets tabs = %q/%q", cfg.Storage.Sheets.TemplatesTab, cfg.Storage.Sheets.SupervisionsTab)
	}
	if cfg.Storage.Sheets.Ready() {
		t.Error("Sheets.Ready() = true without spreadsheet id")
	}
	if cfg.Storage.Database.Driver != "sqlite" || cfg.Storage.Database.DSN != "fieldaudit.db" {
		t.Errorf("Database = %+v", cfg.Storage.Database)
	}
	if cfg.Ops.Port != 8080 {
		t.Errorf("Ops.Port = %d, want 8080", cfg.Ops.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("SHEET_ID", "sheet-env")
	t.Setenv("GOOGLE_CREDS_JSON_TEXT", `{"type":"service_account"}`)
	t.Setenv("WM_DIR", "/tmp/wm")
	t.Setenv("CONFIG_PATH", "/tmp/links.json")

	cfg, err := Parse([]byte("platform: telegram\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Token != "999:env" {
		t.Errorf("Telegram.Token = %q, want 999:env", cfg.Telegram.Token)
	}
	if cfg.Storage.Sheets.SpreadsheetID != "sheet-env" || !cfg.Storage.Sheets.Ready() {
		t.Errorf("Sheets = %+v", cfg.Storage.Sheets)
	}
	if cfg.Replica.Dir != "/tmp/wm" {
		t.Errorf("Replica.Dir = %q, want /tmp/wm", cfg.Replica.Dir)
	}
	if cfg.Links.Path != "/tmp/links.json" {
		t.Errorf("Links.Path = %q, want /tmp/links.json", cfg.Links.Path)
	}
}

// --- Validation tests ---

func TestParse_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing platform", "telegram:\n  token: x\n", "platform"},
		{"unknown platform", "platform: irc\n", "platform"},
		{"telegram token", "platform: telegram\n", "telegram.token is required"},
		{"discord token", "platform: discord\n", "discord.bot_token is required"},
		{"slack tokens", "platform: slack\nslack:\n  app_token: a\n", "slack.app_token and slack.bot_token"},
		{"max media", minimalYAML + "workflow:\n  max_media: 99\n", "maxmedia"},
		{"timezone", minimalYAML + "workflow:\n  timezone: Mars/Base\n", "Mars/Base"},
		{"storage backend", minimalYAML + "storage:\n  backend: redis\n", "backend"},
		{"db driver", minimalYAML + "storage:\n  backend: sql\n  database:\n    driver: oracle\n", "driver"},
		{"sql dsn", minimalYAML + "storage:\n  backend: sql\n  database:\n    driver: mysql\n", "dsn is required"},
		{"log level", minimalYAML + "log:\n  level: loud\n", "level"},
		{"duplicate item", minimalYAML + "workflow:\n  crew:\n    items:\n      - {code: A, label: A}\n      - {code: A, label: B}\n", "is duplicated"},
		{"finish collides", minimalYAML + "workflow:\n  crew:\n    finish: A\n    items:\n      - {code: A, label: A}\n", "collides"},
		{"item label", minimalYAML + "workflow:\n  wiring:\n    items:\n      - {code: A}\n", "label"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestParse_MultipleErrorsCollected(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("platform: discord\nlog:\n  level: loud\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"discord.bot_token", "level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err, want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("platform: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %v, want parse error", err)
	}
}

// --- Load tests ---

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fieldaudit.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q, want 123:abc", cfg.Telegram.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %v, want read error", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file: %v, want nil", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("FA_TEST_DOTENV=from-dotenv\nSHEET_ID=ignored\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("FA_TEST_DOTENV") })
	t.Setenv("SHEET_ID", "from-shell")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("FA_TEST_DOTENV"); got != "from-dotenv" {
		t.Errorf("FA_TEST_DOTENV = %q, want from-dotenv", got)
	}
	// Variables already set in the process win over the file.
	if got := os.Getenv("SHEET_ID"); got != "from-shell" {
		t.Errorf("SHEET_ID = %q, want from-shell", got)
	}
}
