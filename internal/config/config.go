// Package config provides bridge configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/rtbus/pkg/rtid"
)

const logPrefix = "config:LoadConfig"

// Config holds rtbridge configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"rtbridge"`

	// Context is the execution context this process plays.
	Context string `envconfig:"RT_CONTEXT" default:"background"`
	// InboxSubject overrides the derived subject peers publish to (empty = derive from context).
	InboxSubject string `envconfig:"RT_INBOX_SUBJECT"`
	Codec        string `envconfig:"RT_CODEC" default:"json"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"RT_REQUEST_TIMEOUT" default:"500ms"`

	// Static routes (YAML or JSONC)
	TopologyFile string `envconfig:"RT_TOPOLOGY_FILE"`

	// Database (optional request journal; empty disables it)
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	RunMigrations bool          `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string        `envconfig:"MIGRATION_PATH" default:"migrations"`
	JournalTTL    time.Duration `envconfig:"RT_JOURNAL_TTL" default:"168h"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// WebSocket endpoint for external automation clients (empty = disabled, e.g. ":8090")
	WSAddr string `envconfig:"WS_ADDR"`

	// Browser facade: playwright when enabled, in-memory otherwise
	BrowserEnabled  bool `envconfig:"BROWSER_ENABLED" default:"false"`
	BrowserHeadless bool `envconfig:"BROWSER_HEADLESS" default:"true"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ContextType parses RT_CONTEXT.
func (c *Config) ContextType() (rtid.ContextType, error) {
	ct, err := rtid.ParseContextType(c.Context)
	if err != nil {
		return rtid.ContextNone, fmt.Errorf("%s - RT_CONTEXT: %w", logPrefix, err)
	}
	return ct, nil
}

// JournalEnabled reports whether request outcomes are persisted.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// ValidateForServe checks required config when running the bridge.
func (c *Config) ValidateForServe() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if _, err := c.ContextType(); err != nil {
		return err
	}
	switch strings.ToLower(c.Codec) {
	case "json", "cbor":
	default:
		return fmt.Errorf("%s - RT_CODEC must be json or cbor, got %q", logPrefix, c.Codec)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - RT_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, journal).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
