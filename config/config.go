// Package config is the environment-driven configuration loader: org
// default limits, connector credentials, and store DSNs. Config is a
// struct of sections populated by getEnv/getEnvInt helpers, with
// zero-value defaults applied last, and loads a local .env file via
// godotenv for development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the top-level configuration surface for the demo binary and
// any other process wiring this module together.
type Config struct {
	Server      ServerConfig
	Org         OrgDefaults
	Connectors  ConnectorCredentials
	Store       StoreConfig
	Dedup       DedupConfig
	Scheduler   SchedulerConfig
}

// ServerConfig holds process-level settings. This module has no HTTP
// transport of its own, but the demo binary still wants a
// place to put a log level and environment name.
type ServerConfig struct {
	Env      string
	LogLevel string
}

// OrgDefaults seeds the admission gate's limits for organizations that have
// no explicit override on record.
type OrgDefaults struct {
	MaxConcurrent int
	MaxPerMinute  int
	MaxPerMonth   int
	QueueDepth    int
}

// ConnectorCredentials holds the out-of-band API keys concrete connectors
// need to call upstream APIs in the demo binary. They are loaded from the
// environment only; connectors read credentials from each Connection's
// stored Data, and no connector falls back to these values.
type ConnectorCredentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	SlackBotToken   string
	JiraAPIToken    string
	GitHubAppID     string
	GitHubAppKey    string

	// Tenant-addressed connectors need their endpoint configuration at
	// client construction, not per call.
	OktaDomain       string
	DataverseOrgURL  string
	WorkdayHost      string
	WorkdayTenant    string
	SnowflakeAccount string
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend  string // "memory" | "sqlite" | "mysql"
	SQLitePath string
	MySQLDSN string
}

// DedupConfig configures the dedup store backend and default TTL.
type DedupConfig struct {
	Backend  string // "memory" | "redis"
	RedisAddr string
	DefaultTTL time.Duration
}

// SchedulerConfig configures scheduler-wide timeouts.
type SchedulerConfig struct {
	InterruptWindow  time.Duration
	QueueWaitTimeout time.Duration
}

// Load reads .env (if present) then applies environment variable overrides
// onto a zero-value Config, finishing with defaults for anything still
// unset. A missing .env file is not an error — most deployments set real
// environment variables directly.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("config: no .env file found, using environment variables")
	}

	c := &Config{}
	c.applyEnvOverrides()
	c.applyDefaults()
	return c
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("STUDIO_ENV", c.Server.Env)
	c.Server.LogLevel = getEnv("STUDIO_LOG_LEVEL", c.Server.LogLevel)

	c.Org.MaxConcurrent = getEnvInt("STUDIO_ORG_MAX_CONCURRENT", c.Org.MaxConcurrent)
	c.Org.MaxPerMinute = getEnvInt("STUDIO_ORG_MAX_PER_MINUTE", c.Org.MaxPerMinute)
	c.Org.MaxPerMonth = getEnvInt("STUDIO_ORG_MAX_PER_MONTH", c.Org.MaxPerMonth)
	c.Org.QueueDepth = getEnvInt("STUDIO_ORG_QUEUE_DEPTH", c.Org.QueueDepth)

	c.Connectors.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.Connectors.AnthropicAPIKey)
	c.Connectors.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.Connectors.OpenAIAPIKey)
	c.Connectors.GoogleAPIKey = getEnv("GOOGLE_API_KEY", c.Connectors.GoogleAPIKey)
	c.Connectors.SlackBotToken = getEnv("SLACK_BOT_TOKEN", c.Connectors.SlackBotToken)
	c.Connectors.JiraAPIToken = getEnv("JIRA_API_TOKEN", c.Connectors.JiraAPIToken)
	c.Connectors.GitHubAppID = getEnv("GITHUB_APP_ID", c.Connectors.GitHubAppID)
	c.Connectors.GitHubAppKey = getEnv("GITHUB_APP_PRIVATE_KEY", c.Connectors.GitHubAppKey)
	c.Connectors.OktaDomain = getEnv("OKTA_DOMAIN", c.Connectors.OktaDomain)
	c.Connectors.DataverseOrgURL = getEnv("DATAVERSE_ORG_URL", c.Connectors.DataverseOrgURL)
	c.Connectors.WorkdayHost = getEnv("WORKDAY_HOST", c.Connectors.WorkdayHost)
	c.Connectors.WorkdayTenant = getEnv("WORKDAY_TENANT", c.Connectors.WorkdayTenant)
	c.Connectors.SnowflakeAccount = getEnv("SNOWFLAKE_ACCOUNT", c.Connectors.SnowflakeAccount)

	c.Store.Backend = getEnv("STUDIO_STORE_BACKEND", c.Store.Backend)
	c.Store.SQLitePath = getEnv("STUDIO_SQLITE_PATH", c.Store.SQLitePath)
	c.Store.MySQLDSN = getEnv("STUDIO_MYSQL_DSN", c.Store.MySQLDSN)

	c.Dedup.Backend = getEnv("STUDIO_DEDUP_BACKEND", c.Dedup.Backend)
	c.Dedup.RedisAddr = getEnv("STUDIO_REDIS_ADDR", c.Dedup.RedisAddr)
	if v := getEnvInt("STUDIO_DEDUP_TTL_HOURS", 0); v > 0 {
		c.Dedup.DefaultTTL = time.Duration(v) * time.Hour
	}

	if v := getEnvInt("STUDIO_SCHEDULER_INTERRUPT_WINDOW_SEC", 0); v > 0 {
		c.Scheduler.InterruptWindow = time.Duration(v) * time.Second
	}
	if v := getEnvInt("STUDIO_SCHEDULER_QUEUE_WAIT_TIMEOUT_SEC", 0); v > 0 {
		c.Scheduler.QueueWaitTimeout = time.Duration(v) * time.Second
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Org.MaxConcurrent == 0 {
		c.Org.MaxConcurrent = 10
	}
	if c.Org.MaxPerMinute == 0 {
		c.Org.MaxPerMinute = 120
	}
	if c.Org.MaxPerMonth == 0 {
		c.Org.MaxPerMonth = 100000
	}
	if c.Connectors.OktaDomain == "" {
		c.Connectors.OktaDomain = "dev-000000.okta.com"
	}
	if c.Connectors.DataverseOrgURL == "" {
		c.Connectors.DataverseOrgURL = "https://demo.crm.dynamics.com"
	}
	if c.Connectors.WorkdayHost == "" {
		c.Connectors.WorkdayHost = "wd2-impl-services1.workday.com"
	}
	if c.Connectors.WorkdayTenant == "" {
		c.Connectors.WorkdayTenant = "demo_tenant"
	}
	if c.Connectors.SnowflakeAccount == "" {
		c.Connectors.SnowflakeAccount = "demo-account"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "studio.db"
	}
	if c.Dedup.Backend == "" {
		c.Dedup.Backend = "memory"
	}
	if c.Dedup.RedisAddr == "" {
		c.Dedup.RedisAddr = "localhost:6379"
	}
	if c.Dedup.DefaultTTL == 0 {
		c.Dedup.DefaultTTL = 7 * 24 * time.Hour
	}
	if c.Scheduler.InterruptWindow == 0 {
		c.Scheduler.InterruptWindow = 2 * time.Minute
	}
	if c.Scheduler.QueueWaitTimeout == 0 {
		c.Scheduler.QueueWaitTimeout = 10 * time.Minute
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
