// Package config loads node settings from flags, NEXUS_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/proofnode/internal/backoff"
	"github.com/dreamware/proofnode/internal/orchestrator"
	"github.com/dreamware/proofnode/internal/worker"
)

// EnvPrefix prefixes every environment variable, e.g. NEXUS_NODE_ID.
const EnvPrefix = "NEXUS"

// Setting keys. Flags use the same names.
const (
	KeyConfigFile      = "config"
	KeyEnvironment     = "environment"
	KeyOrchestratorURL = "orchestrator-url"
	KeySpeed           = "speed"
	KeyMaxThreads      = "max-threads"
	KeyJustOnce        = "just-once"
	KeyAnonymous       = "anonymous"
	KeyNodeID          = "node-id"
	KeyIdentityFile    = "identity-file"
	KeyProver          = "prover"
	KeyLocation        = "location"
	KeyMetricsAddr     = "metrics-addr"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyAnalyticsToken  = "analytics-token"
	KeyAnalyticsURL    = "analytics-url"
	KeyDecodePolicy    = "decode-policy"
	KeyFetchTimeout    = "fetch-timeout"
	KeyCooldown        = "cooldown"
	KeyBackoffBase     = "backoff-base"
	KeyBackoffAttempts = "backoff-attempts"
)

// Config is the resolved node configuration.
type Config struct {
	Environment     orchestrator.Environment
	OrchestratorURL string
	Speed           worker.Speed
	MaxThreads      int
	JustOnce        bool
	Anonymous       bool
	NodeID          string
	IdentityFile    string
	ProverCommand   string
	Location        string
	MetricsAddr     string
	LogLevel        string
	LogFormat       string
	AnalyticsToken  string
	AnalyticsURL    string
	DecodePolicy    worker.DecodePolicy
	FetchTimeout    time.Duration
	Cooldown        time.Duration
	BackoffBase     time.Duration
	BackoffAttempts uint32
}

// RegisterFlags adds every setting to fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyConfigFile, "", "path to a YAML config file")
	fs.String(KeyEnvironment, string(orchestrator.EnvProduction), "orchestrator environment: local, dev, staging, beta or production")
	fs.String(KeyOrchestratorURL, "", "orchestrator base URL, overrides --environment")
	fs.String(KeySpeed, string(worker.SpeedMedium), "share of cores to use: low, medium or high")
	fs.Int(KeyMaxThreads, 0, "number of workers, capped at available cores (overrides --speed)")
	fs.Bool(KeyJustOnce, false, "stop each worker after one task cycle")
	fs.Bool(KeyAnonymous, false, "compute without a node id and submit nothing")
	fs.String(KeyNodeID, "", "node id to prove for, overrides the registered one")
	fs.String(KeyIdentityFile, "", "identity file (default ~/.nexus/node.yaml)")
	fs.String(KeyProver, "nexus-prover", "prover command: binary followed by fixed arguments")
	fs.String(KeyLocation, "", "location reported with each proof")
	fs.String(KeyMetricsAddr, "", "serve Prometheus metrics on this address, e.g. :9100")
	fs.String(KeyLogLevel, "info", "log level")
	fs.String(KeyLogFormat, "auto", "log format: auto, json or console")
	fs.String(KeyAnalyticsToken, "", "analytics project token; empty disables analytics")
	fs.String(KeyAnalyticsURL, "", "analytics ingestion URL")
	fs.String(KeyDecodePolicy, "continue", "on malformed orchestrator responses: continue or fail-fast")
	fs.Duration(KeyFetchTimeout, worker.DefaultFetchTimeout, "ceiling for a single task fetch")
	fs.Duration(KeyCooldown, worker.DefaultCooldown, "pause between task cycles")
	fs.Duration(KeyBackoffBase, backoff.DefaultBase, "base retry delay, doubled per attempt")
	fs.Uint32(KeyBackoffAttempts, backoff.DefaultMaxAttempts, "failed attempts before an operation is abandoned")
}

// New returns a viper bound to fs and the NEXUS_* environment.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return v, nil
}

// Load reads the optional config file and returns the validated settings.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	env, err := orchestrator.ParseEnvironment(v.GetString(KeyEnvironment))
	if err != nil {
		return nil, err
	}
	speed, err := worker.ParseSpeed(v.GetString(KeySpeed))
	if err != nil {
		return nil, err
	}
	decode, err := worker.ParseDecodePolicy(v.GetString(KeyDecodePolicy))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:     env,
		OrchestratorURL: strings.TrimRight(v.GetString(KeyOrchestratorURL), "/"),
		Speed:           speed,
		MaxThreads:      v.GetInt(KeyMaxThreads),
		JustOnce:        v.GetBool(KeyJustOnce),
		Anonymous:       v.GetBool(KeyAnonymous),
		NodeID:          strings.TrimSpace(v.GetString(KeyNodeID)),
		IdentityFile:    v.GetString(KeyIdentityFile),
		ProverCommand:   v.GetString(KeyProver),
		Location:        v.GetString(KeyLocation),
		MetricsAddr:     v.GetString(KeyMetricsAddr),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		AnalyticsToken:  v.GetString(KeyAnalyticsToken),
		AnalyticsURL:    v.GetString(KeyAnalyticsURL),
		DecodePolicy:    decode,
		FetchTimeout:    v.GetDuration(KeyFetchTimeout),
		Cooldown:        v.GetDuration(KeyCooldown),
		BackoffBase:     v.GetDuration(KeyBackoffBase),
		BackoffAttempts: v.GetUint32(KeyBackoffAttempts),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns the first invalid setting.
func (c *Config) Validate() error {
	if c.MaxThreads < 0 {
		return errors.New("max-threads must not be negative")
	}
	if strings.TrimSpace(c.ProverCommand) == "" {
		return errors.New("prover command is required")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch-timeout must be positive")
	}
	if c.Cooldown < 0 {
		return errors.New("cooldown must not be negative")
	}
	if c.BackoffBase <= 0 {
		return errors.New("backoff-base must be positive")
	}
	if c.BackoffAttempts == 0 {
		return errors.New("backoff-attempts must be at least 1")
	}
	if c.OrchestratorURL != "" &&
		!strings.HasPrefix(c.OrchestratorURL, "http://") &&
		!strings.HasPrefix(c.OrchestratorURL, "https://") {
		return fmt.Errorf("orchestrator-url %q must start with http:// or https://", c.OrchestratorURL)
	}
	return nil
}

// BaseURL is the orchestrator to talk to.
func (c *Config) BaseURL() string {
	if c.OrchestratorURL != "" {
		return c.OrchestratorURL
	}
	return c.Environment.BaseURL()
}

// Backoff is the retry policy for fetches and submissions.
func (c *Config) Backoff() backoff.Policy {
	return backoff.Policy{Base: c.BackoffBase, MaxAttempts: c.BackoffAttempts}
}
