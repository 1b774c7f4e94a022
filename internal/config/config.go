package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/bher20/hdotariff/internal/auth"
	"github.com/bher20/hdotariff/internal/cron"
	"github.com/bher20/hdotariff/internal/log"
	"github.com/bher20/hdotariff/internal/present"
)

type Meter struct {
	ID          string `yaml:"id"`
	EAN         string `yaml:"ean"`
	Signal      string `yaml:"signal,omitempty"`
	Distributor string `yaml:"distributor,omitempty"`
	File        string `yaml:"file,omitempty"`
}

type Config struct {
	Listen          string  `yaml:"listen"`
	DBDriver        string  `yaml:"dbDriver"`
	DBDSN           string  `yaml:"dbDsn"`
	AutoMigrate     bool    `yaml:"autoMigrate"`
	RefreshSchedule string  `yaml:"refreshSchedule"`
	RefreshRetries  uint64  `yaml:"refreshRetries"`
	TickInterval    string  `yaml:"tickInterval"`
	Timezone        string  `yaml:"timezone"`
	Language        string  `yaml:"language"`
	LogLevel        string  `yaml:"logLevel"`
	CEZURL          string  `yaml:"cezUrl,omitempty"`
	Meters          []Meter `yaml:"meters"`

	// APITokens enables bearer-token checks on the API when non-empty.
	APITokens []auth.Token `yaml:"apiTokens,omitempty"`
}

func Defaults() Config {
	return Config{
		Listen:          ":8000",
		DBDriver:        "sqlite",
		DBDSN:           "hdotariff.db",
		RefreshSchedule: cron.DefaultSchedule,
		RefreshRetries:  3,
		TickInterval:    "1s",
		Timezone:        "Europe/Prague",
		Language:        string(present.English),
		LogLevel:        "info",
	}
}

// LoadDotEnv loads a .env file from the working directory if there is one.
func LoadDotEnv() error {
	err := godotenv.Load()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML file over the defaults and then applies environment
// variables, which take precedence.
func Load(filename string) (Config, error) {
	cfg := Defaults()
	buf, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing yaml: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		c.Listen = ":" + port
	}
	setString(&c.Listen, "HDOTARIFF_LISTEN")
	setString(&c.DBDriver, "HDOTARIFF_DB_DRIVER")
	setString(&c.DBDSN, "HDOTARIFF_DB_DSN")
	setString(&c.RefreshSchedule, "HDOTARIFF_REFRESH_SCHEDULE")
	setString(&c.TickInterval, "HDOTARIFF_TICK_INTERVAL")
	setString(&c.Timezone, "HDOTARIFF_TIMEZONE")
	setString(&c.Language, "HDOTARIFF_LANGUAGE")
	setString(&c.LogLevel, "HDOTARIFF_LOG_LEVEL")
	setString(&c.CEZURL, "HDOTARIFF_CEZ_URL")

	if v, err := strconv.ParseBool(os.Getenv("HDOTARIFF_AUTO_MIGRATE")); err == nil {
		c.AutoMigrate = v
	}
	if v, err := strconv.ParseUint(os.Getenv("HDOTARIFF_REFRESH_RETRIES"), 10, 64); err == nil {
		c.RefreshRetries = v
	}

	if v := os.Getenv("HDOTARIFF_API_TOKENS"); v != "" {
		c.APITokens = parseTokens(v)
	}

	ean := os.Getenv("HDOTARIFF_EAN")
	file := os.Getenv("HDOTARIFF_FILE")
	if ean == "" && file == "" {
		return
	}
	m := Meter{
		ID:          os.Getenv("HDOTARIFF_METER_ID"),
		EAN:         ean,
		Signal:      os.Getenv("HDOTARIFF_SIGNAL"),
		Distributor: os.Getenv("HDOTARIFF_DISTRIBUTOR"),
		File:        file,
	}
	if m.ID == "" {
		m.ID = "default"
	}
	c.Meters = []Meter{m}
}

// parseTokens reads "name:role:bcrypt-hash" entries separated by commas.
func parseTokens(v string) []auth.Token {
	var tokens []auth.Token
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		tokens = append(tokens, auth.Token{Name: parts[0], Role: parts[1], Hash: parts[2]})
	}
	return tokens
}

// Normalize fills per-meter defaults.
func (c *Config) Normalize() {
	for i := range c.Meters {
		m := &c.Meters[i]
		if m.Distributor == "" {
			m.Distributor = "cez"
			if m.EAN == "" && m.File != "" {
				m.Distributor = "file"
			}
		}
		if m.ID == "" {
			m.ID = m.EAN
		}
	}
}

func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c Config) Tick() (time.Duration, error) {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("tick interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("tick interval must be positive, got %s", d)
	}
	return d, nil
}

func (c Config) Lang() present.Language {
	lang, err := present.ParseLanguage(c.Language)
	if err != nil {
		return present.English
	}
	return lang
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if len(c.Meters) == 0 {
		errs = append(errs, errors.New("no meter configured: set HDOTARIFF_EAN or list meters in the config file"))
	}
	seen := make(map[string]bool, len(c.Meters))
	for i, m := range c.Meters {
		switch {
		case m.ID == "":
			errs = append(errs, fmt.Errorf("meter %d: missing id", i))
		case seen[m.ID]:
			errs = append(errs, fmt.Errorf("meter %s: duplicate id", m.ID))
		}
		seen[m.ID] = true
		if m.EAN == "" && m.File == "" {
			errs = append(errs, fmt.Errorf("meter %s: ean or file required", m.ID))
		}
	}
	names := make(map[string]bool, len(c.APITokens))
	for i, t := range c.APITokens {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("api token %d: missing name", i))
		case names[t.Name]:
			errs = append(errs, fmt.Errorf("api token %s: duplicate name", t.Name))
		}
		names[t.Name] = true
		if err := auth.ValidRole(t.Role); err != nil {
			errs = append(errs, fmt.Errorf("api token %s: %w", t.Name, err))
		}
		if t.Hash == "" {
			errs = append(errs, fmt.Errorf("api token %s: missing hash", t.Name))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := c.Tick(); err != nil {
		errs = append(errs, err)
	}
	if err := cron.ValidSchedule(c.RefreshSchedule); err != nil {
		errs = append(errs, err)
	}
	if _, err := present.ParseLanguage(c.Language); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
