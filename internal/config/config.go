// Package config provides configuration management for the Cutroom server.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort      = 8790
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".cutroom"
	DefaultAWSRegion = "us-east-1"

	// Environment variable names
	EnvPort     = "CUTROOM_PORT"
	EnvLogLevel = "CUTROOM_LOG_LEVEL"
	EnvDataDir  = "CUTROOM_DATA_DIR"

	// Pipeline environment variable names
	EnvPipelineEndpoint = "CUTROOM_PIPELINE_ENDPOINT"
	EnvPipelineToken    = "CUTROOM_PIPELINE_TOKEN"

	// Storage environment variable names
	EnvAWSRegion = "CUTROOM_AWS_REGION"

	// Database filename
	DBFilename = "cutroom.db"

	// Handoff and apply defaults
	DefaultHandoffTimeout  = 30 // seconds
	DefaultApplyWait       = 10 // seconds
	DefaultApplyWaitPollMs = 200
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	AWSRegion() string
	PipelineEndpoint() string
	PipelineToken() string
	HandoffTimeout() time.Duration
	ApplyWaitTimeout() time.Duration
	ApplyWaitPoll() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	dataDir   string
	awsRegion string

	pipelineEndpoint string
	pipelineToken    string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:      DefaultPort,
		logLevel:  DefaultLogLevel,
		dataDir:   defaultDataDir(),
		awsRegion: DefaultAWSRegion,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if region := os.Getenv(EnvAWSRegion); region != "" {
		cfg.awsRegion = region
	}

	cfg.pipelineEndpoint = os.Getenv(EnvPipelineEndpoint)
	cfg.pipelineToken = os.Getenv(EnvPipelineToken)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// AWSRegion returns the region used when translating s3:// storage
// locations into fetchable HTTPS URLs.
func (c *EnvConfig) AWSRegion() string {
	return c.awsRegion
}

// PipelineEndpoint returns the URL of the external multi-agent analysis
// pipeline. Empty means no pipeline is configured and the stub client is used.
func (c *EnvConfig) PipelineEndpoint() string {
	return c.pipelineEndpoint
}

// PipelineToken returns the shared token the external pipeline presents on
// its step callback requests.
func (c *EnvConfig) PipelineToken() string {
	return c.pipelineToken
}

func (c *EnvConfig) HandoffTimeout() time.Duration {
	return time.Duration(DefaultHandoffTimeout) * time.Second
}

func (c *EnvConfig) ApplyWaitTimeout() time.Duration {
	return time.Duration(DefaultApplyWait) * time.Second
}

func (c *EnvConfig) ApplyWaitPoll() time.Duration {
	return time.Duration(DefaultApplyWaitPollMs) * time.Millisecond
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
