package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string `mapstructure:"PORT"`
	Env              string `mapstructure:"ENV"`
	DataDir          string `mapstructure:"DATA_DIR"`
	EventStorePath   string `mapstructure:"EVENT_STORE_PATH"`
	UploadsDir       string `mapstructure:"UPLOADS_DIR"`
	NotesDir         string `mapstructure:"NOTES_DIR"`
	TemplatesDir     string `mapstructure:"TEMPLATES_DIR"`
	JobsPath         string `mapstructure:"JOBS_PATH"`
	CohortTarget     int    `mapstructure:"COHORT_TARGET"`
	OCRCommand       string `mapstructure:"OCR_COMMAND"`
	OCRTimeoutSec    int    `mapstructure:"OCR_TIMEOUT_SEC"`
	DocumentMaxChars int    `mapstructure:"DOCUMENT_MAX_CHARS"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32  `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey   string `mapstructure:"AUTH_SIGNING_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("COHORT_TARGET", 32)
	v.SetDefault("OCR_COMMAND", "marker_single")
	v.SetDefault("OCR_TIMEOUT_SEC", 60)
	v.SetDefault("DOCUMENT_MAX_CHARS", 500000)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATA_DIR")
	v.BindEnv("EVENT_STORE_PATH")
	v.BindEnv("UPLOADS_DIR")
	v.BindEnv("NOTES_DIR")
	v.BindEnv("TEMPLATES_DIR")
	v.BindEnv("JOBS_PATH")
	v.BindEnv("COHORT_TARGET")
	v.BindEnv("OCR_COMMAND")
	v.BindEnv("OCR_TIMEOUT_SEC")
	v.BindEnv("DOCUMENT_MAX_CHARS")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SIGNING_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDerivedPaths()

	return cfg, nil
}

// applyDerivedPaths fills in path fields that default relative to DATA_DIR.
func (c *Config) applyDerivedPaths() {
	if c.EventStorePath == "" {
		c.EventStorePath = filepath.Join(c.DataDir, "patient_events.jsonl")
	}
	if c.UploadsDir == "" {
		c.UploadsDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.NotesDir == "" {
		c.NotesDir = filepath.Join(c.DataDir, "notes")
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = filepath.Join(c.DataDir, "templates")
	}
	if c.JobsPath == "" {
		c.JobsPath = filepath.Join(c.DataDir, "attachment_assist_jobs.json")
	}
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// the signing key must be set so bearer-token auth is enforced.
func (c *Config) Validate() error {
	if c.CohortTarget <= 0 {
		return fmt.Errorf("COHORT_TARGET must be positive, got %d", c.CohortTarget)
	}
	if c.OCRTimeoutSec <= 0 {
		return fmt.Errorf("OCR_TIMEOUT_SEC must be positive, got %d", c.OCRTimeoutSec)
	}
	if strings.TrimSpace(c.OCRCommand) == "" {
		return fmt.Errorf("OCR_COMMAND must not be empty")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	return nil
}
