package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// Config содержит все настройки приложения
type Config struct {
	Guardrails   GuardrailsConfig
	Execution    ExecutionConfig
	Orchestrator OrchestratorConfig
	Venue        VenueConfig
	Database     DatabaseConfig
	Telegram     TelegramConfig
	API          APIConfig
	Log          LogConfig
}

type GuardrailsConfig struct {
	Path    string // пусто = guardrails выключены
	Profile string
}

type ExecutionConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	ConfirmationBlocks int
}

type OrchestratorConfig struct {
	Mode            string
	RefreshInterval time.Duration
}

type VenueConfig struct {
	Kind              string // paper | bybit
	BybitAPIKey       string
	BybitAPISecret    string
	BybitBaseURL      string
	RequestsPerSecond float64
}

type DatabaseConfig struct {
	Driver          string // postgres | sqlite3; пусто = без журнала
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type TelegramConfig struct {
	BotToken        string
	ChatID          int64
	AlertsPerMinute int
	Lang            string
	Admins          string // через запятую; пусто = команды доступны всем в чате
	Whitelist       string
}

type APIConfig struct {
	Port int
}

type LogConfig struct {
	Level      string
	Format     string // text | json
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load загружает конфигурацию из .env файлов и переменных окружения.
// Без аргументов читается ./.env (если есть).
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		utils.LogDebug(".env file not found, using environment variables")
	}

	p := &envParser{}
	config := &Config{
		Guardrails: GuardrailsConfig{
			Path:    getEnv("GUARDRAILS_PATH", ""),
			Profile: getEnv("GUARDRAIL_PROFILE", ""),
		},
		Execution: ExecutionConfig{
			MaxRetries:         p.int("EXECUTION_MAX_RETRIES", "3"),
			RetryDelay:         p.duration("EXECUTION_RETRY_DELAY", "2s"),
			ConfirmationBlocks: p.int("EXECUTION_CONFIRMATION_BLOCKS", "2"),
		},
		Orchestrator: OrchestratorConfig{
			Mode:            strings.ToLower(getEnv("ORCHESTRATOR_MODE", "live")),
			RefreshInterval: p.duration("RISK_REFRESH_INTERVAL", "30s"),
		},
		Venue: VenueConfig{
			Kind:              strings.ToLower(getEnv("VENUE", "paper")),
			BybitAPIKey:       getEnv("BYBIT_API_KEY", ""),
			BybitAPISecret:    getEnv("BYBIT_API_SECRET", ""),
			BybitBaseURL:      getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
			RequestsPerSecond: p.float("BYBIT_REQUESTS_PER_SECOND", "10"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "")),
			DSN:             getEnv("DB_DSN", ""),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", "25"),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", "5"),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Telegram: TelegramConfig{
			BotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:          p.int64("TELEGRAM_CHAT_ID", "0"),
			AlertsPerMinute: p.int("TELEGRAM_ALERTS_PER_MINUTE", "20"),
			Lang:            strings.ToLower(getEnv("ALERT_LANG", "en")),
			Admins:          getEnv("TG_ADMINS", ""),
			Whitelist:       getEnv("TG_CHAT_WHITELIST", ""),
		},
		API: APIConfig{
			Port: p.int("API_PORT", "8080"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  p.int("LOG_MAX_SIZE_MB", "100"),
			MaxBackups: p.int("LOG_MAX_BACKUPS", "5"),
			MaxAgeDays: p.int("LOG_MAX_AGE_DAYS", "30"),
		},
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("EXECUTION_MAX_RETRIES must be >= 0")
	}
	if c.Execution.RetryDelay < 0 {
		return fmt.Errorf("EXECUTION_RETRY_DELAY must be >= 0")
	}
	if c.Execution.ConfirmationBlocks < 1 {
		return fmt.Errorf("EXECUTION_CONFIRMATION_BLOCKS must be >= 1")
	}
	switch c.Orchestrator.Mode {
	case "shadow", "live":
	default:
		return fmt.Errorf("ORCHESTRATOR_MODE must be shadow or live, got %q", c.Orchestrator.Mode)
	}
	switch c.Venue.Kind {
	case "paper":
	case "bybit":
		if c.Venue.BybitAPIKey == "" || c.Venue.BybitAPISecret == "" {
			return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required for VENUE=bybit")
		}
	default:
		return fmt.Errorf("VENUE must be paper or bybit, got %q", c.Venue.Kind)
	}
	switch c.Database.Driver {
	case "":
	case "postgres", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN is required when DB_DRIVER is set")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Telegram.AlertsPerMinute < 1 {
		return fmt.Errorf("TELEGRAM_ALERTS_PER_MINUTE must be >= 1")
	}
	if c.Telegram.Lang != "en" && c.Telegram.Lang != "ru" {
		return fmt.Errorf("ALERT_LANG must be en or ru, got %q", c.Telegram.Lang)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.API.Port)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// TelegramEnabled true если настроены алерты в Telegram
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}

// JournalEnabled true если настроена база журнала
func (c *Config) JournalEnabled() bool {
	return c.Database.Driver != ""
}

// envParser запоминает первую ошибку разбора
type envParser struct {
	err error
}

func (p *envParser) int(key, def string) int {
	v, err := strconv.Atoi(getEnv(key, def))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *envParser) int64(key, def string) int64 {
	v, err := strconv.ParseInt(getEnv(key, def), 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *envParser) float(key, def string) float64 {
	v, err := strconv.ParseFloat(getEnv(key, def), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *envParser) duration(key, def string) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
