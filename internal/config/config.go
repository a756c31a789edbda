// Package config provides YAML-based configuration loading for fieldaudit.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level fieldaudit configuration, loaded from fieldaudit.yaml.
type Config struct {
	Platform  string          `yaml:"platform" validate:"required,oneof=telegram discord slack"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Replica   ReplicaConfig   `yaml:"replica"`
	Links     LinksConfig     `yaml:"links"`
	Storage   StorageConfig   `yaml:"storage"`
	Ops       OpsConfig       `yaml:"ops"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds Bot API credentials.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	Timeout int    `yaml:"timeout"` // long-poll timeout in seconds
	Debug   bool   `yaml:"debug"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// WorkflowConfig tunes the guided collection. Empty catalog lists fall back
// to the built-in catalog.
type WorkflowConfig struct {
	MaxMedia    int           `yaml:"max_media" validate:"gte=1,lte=50"`
	Timezone    string        `yaml:"timezone"`
	Supervisors []string      `yaml:"supervisors"`
	Operators   []string      `yaml:"operators"`
	TypeLabels  TypeLabels    `yaml:"type_labels"`
	Wiring      SectionConfig `yaml:"wiring"`
	Crew        SectionConfig `yaml:"crew"`
}

// TypeLabels are the display labels of the two supervision types.
type TypeLabels struct {
	Hot  string `yaml:"hot"`
	Cold string `yaml:"cold"`
}

// SectionConfig lists the buckets of a menu section.
type SectionConfig struct {
	Finish string       `yaml:"finish"`
	Items  []ItemConfig `yaml:"items" validate:"dive"`
}

// ItemConfig is one selectable bucket and the record column for its observation.
type ItemConfig struct {
	Code   string `yaml:"code" validate:"required"`
	Label  string `yaml:"label" validate:"required"`
	Column string `yaml:"column"`
}

// WatermarkConfig controls photo post-processing.
type WatermarkConfig struct {
	Enabled   *bool `yaml:"enabled"`
	FontScale int   `yaml:"font_scale" validate:"gte=1,lte=8"`
	Quality   int   `yaml:"quality" validate:"gte=1,lte=100"`
}

// On reports whether watermarking is enabled (default true).
func (w WatermarkConfig) On() bool {
	return w.Enabled == nil || *w.Enabled
}

// ReplicaConfig controls the local replica directory and its orphan sweep.
type ReplicaConfig struct {
	Dir       string        `yaml:"dir" validate:"required"`
	MaxAge    time.Duration `yaml:"max_age"`
	SweepCron string        `yaml:"sweep_cron"`
}

// LinksConfig controls the origin → destination registry.
type LinksConfig struct {
	Backend string   `yaml:"backend" validate:"oneof=file sql"`
	Path    string   `yaml:"path"`
	Watch   bool     `yaml:"watch"`
	Keys    []string `yaml:"keys" validate:"min=1,dive,required"`
}

// StorageConfig selects where templates and supervision rows live.
type StorageConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=sheets sql none"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Database DatabaseConfig `yaml:"database"`
}

// SheetsConfig holds Google Sheets settings.
type SheetsConfig struct {
	SpreadsheetID   string        `yaml:"spreadsheet_id"`
	TemplatesTab    string        `yaml:"templates_tab"`
	SupervisionsTab string        `yaml:"supervisions_tab"`
	CredentialsFile string        `yaml:"credentials_file"`
	CredentialsJSON string        `yaml:"credentials_json"`
	HeaderTTL       time.Duration `yaml:"header_ttl"`
}

// Ready reports whether the spreadsheet id and some credentials are present.
func (s SheetsConfig) Ready() bool {
	if s.SpreadsheetID == "" {
		return false
	}
	return s.CredentialsJSON != "" || s.CredentialsFile != ""
}

// DatabaseConfig holds SQL connection settings.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite mysql postgres"`
	DSN    string `yaml:"dsn"`
}

// OpsConfig controls the operational HTTP server.
type OpsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"gte=0,lte=65535"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Production bool   `yaml:"production"`
}

var validate = validator.New()

// LoadEnvFile loads KEY=VALUE pairs from an env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment variables
// override secrets and paths after parsing.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides credentials and paths from the environment.
func (c *Config) applyEnv() {
	envString(&c.Telegram.Token, "BOT_TOKEN")
	envString(&c.Discord.BotToken, "DISCORD_BOT_TOKEN")
	envString(&c.Slack.AppToken, "SLACK_APP_TOKEN")
	envString(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	envString(&c.Storage.Sheets.SpreadsheetID, "SHEET_ID")
	envString(&c.Storage.Sheets.TemplatesTab, "SHEET_TAB_PLANTILLAS")
	envString(&c.Storage.Sheets.SupervisionsTab, "SHEET_TAB_SUPERVISIONES")
	envString(&c.Storage.Sheets.CredentialsJSON, "GOOGLE_CREDS_JSON_TEXT")
	envString(&c.Storage.Sheets.CredentialsFile, "GOOGLE_CREDS_JSON")
	envString(&c.Links.Path, "CONFIG_PATH")
	envString(&c.Replica.Dir, "WM_DIR")
	envString(&c.Storage.Database.DSN, "DATABASE_DSN")
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 60
	}
	if c.Workflow.MaxMedia == 0 {
		c.Workflow.MaxMedia = 8
	}
	if c.Workflow.Timezone == "" {
		c.Workflow.Timezone = "America/Lima"
	}
	if c.Watermark.FontScale == 0 {
		c.Watermark.FontScale = 2
	}
	if c.Watermark.Quality == 0 {
		c.Watermark.Quality = 90
	}
	if c.Replica.Dir == "" {
		c.Replica.Dir = "wm_tmp"
	}
	if c.Replica.MaxAge == 0 {
		c.Replica.MaxAge = 6 * time.Hour
	}
	if c.Replica.SweepCron == "" {
		c.Replica.SweepCron = "*/30 * * * *"
	}
	if c.Links.Backend == "" {
		c.Links.Backend = "file"
	}
	if c.Links.Path == "" {
		c.Links.Path = "group_links.json"
	}
	if len(c.Links.Keys) == 0 {
		c.Links.Keys = []string{"rafael", "edgar", "harnol", "nelson", "pruebas"}
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sheets"
	}
	if c.Storage.Sheets.TemplatesTab == "" {
		c.Storage.Sheets.TemplatesTab = "Plantillas"
	}
	if c.Storage.Sheets.SupervisionsTab == "" {
		c.Storage.Sheets.SupervisionsTab = "Supervisiones"
	}
	if c.Storage.Sheets.HeaderTTL == 0 {
		c.Storage.Sheets.HeaderTTL = time.Hour
	}
	if c.Storage.Database.Driver == "" {
		c.Storage.Database.Driver = "sqlite"
	}
	if c.Storage.Database.DSN == "" && c.Storage.Database.Driver == "sqlite" {
		c.Storage.Database.DSN = "fieldaudit.db"
	}
	if c.Ops.Port == 0 {
		c.Ops.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed %q (value %v)", fieldPath(fe), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	switch c.Platform {
	case "telegram":
		if c.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required (or BOT_TOKEN)")
		}
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required (or DISCORD_BOT_TOKEN)")
		}
	case "slack":
		if c.Slack.AppToken == "" || c.Slack.BotToken == "" {
			errs = append(errs, "slack.app_token and slack.bot_token are required")
		}
	}

	if c.Storage.Backend == "sql" || c.Links.Backend == "sql" {
		if c.Storage.Database.DSN == "" {
			errs = append(errs, "storage.database.dsn is required for the sql backend")
		}
	}
	if _, err := time.LoadLocation(c.Workflow.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("workflow.timezone %q is not a known location", c.Workflow.Timezone))
	}

	errs = append(errs, checkSection("workflow.wiring", c.Workflow.Wiring)...)
	errs = append(errs, checkSection("workflow.crew", c.Workflow.Crew)...)

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// checkSection rejects duplicate item codes and a finish code that collides
// with an item code.
func checkSection(name string, s SectionConfig) []string {
	var errs []string
	seen := make(map[string]bool, len(s.Items))
	for i, it := range s.Items {
		if seen[it.Code] {
			errs = append(errs, fmt.Sprintf("%s.items[%d].code %q is duplicated", name, i, it.Code))
		}
		seen[it.Code] = true
	}
	if s.Finish != "" && seen[s.Finish] {
		errs = append(errs, fmt.Sprintf("%s.finish %q collides with an item code", name, s.Finish))
	}
	return errs
}

// fieldPath turns "Config.Workflow.MaxMedia" into "workflow.maxmedia".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}
