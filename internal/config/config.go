// Package config provides configuration loading, validation, and hot-reload
// for the governance operations console.
//
// Configuration file: governance.yaml (optional; all fields have defaults).
// Schema version: 1
//
// Hot-reload:
//   - The process listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate the config file.
//   - Apply non-destructive changes only (vote/tick economics, auto-mode).
//   - Every other setting (listen address, data directory, tick period,
//     log level and format, metrics address, queue capacity) requires a
//     restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The process does NOT crash on invalid hot-reload.
//
// Environment overrides (spec §6) take precedence over the file and are
// re-applied after every reload:
//   - GOVERNANCE_OPS_ADMIN_KEY — shared secret for admin routes.
//   - GOVERNANCE_OPS_LISTEN    — HTTP bind address.
//
// Validation:
//   - Numeric ranges enforced (energy/damage costs, thresholds, queue sizes).
//   - Invalid config on startup: process refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const (
	envAdminKey = "GOVERNANCE_OPS_ADMIN_KEY"
	envListen   = "GOVERNANCE_OPS_LISTEN"
)

// Config is the root configuration structure for the console.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// Server configures the HTTP/WebSocket listener and admin gate.
	Server ServerConfig `yaml:"server"`

	// Storage configures the ledger file and graveyard directory.
	Storage StorageConfig `yaml:"storage"`

	// Member configures the member pool's energy/damage economics.
	Member MemberConfig `yaml:"member"`

	// Proposal configures voting economics and the consensus rule.
	Proposal ProposalConfig `yaml:"proposal"`

	// Tick configures the cooperative scheduler cadence and auto-mode.
	Tick TickConfig `yaml:"tick"`

	// Broadcast configures the per-client queue depth.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP listener and admin-gate parameters.
type ServerConfig struct {
	// ListenAddr is the HTTP bind address. Default: 127.0.0.1:9108.
	ListenAddr string `yaml:"listen_addr"`

	// AdminKey is the shared secret admin routes require. Populated from
	// GOVERNANCE_OPS_ADMIN_KEY; never read from the file (secrets do not
	// belong in a config file that may be committed or backed up).
	AdminKey string `yaml:"-"`

	// StaticDir serves the dashboard assets at GET /. Default: ./web.
	StaticDir string `yaml:"static_dir"`
}

// StorageConfig holds ledger and graveyard file locations.
type StorageConfig struct {
	// DataDir is the root directory for persisted state.
	// Default: ./data.
	DataDir string `yaml:"data_dir"`

	// RetentionHistory is validated but not read by any component: the
	// in-memory snapshot views keep a fixed 200 ledger/metrics entries
	// regardless of this value. Default: 200.
	RetentionHistory int `yaml:"retention_history"`
}

// MemberConfig holds member-pool economics.
type MemberConfig struct {
	// FatalDamage is the accumulated damage threshold that triggers death.
	// Default: 1500.
	FatalDamage int `yaml:"fatal_damage"`

	// TickEnergyCost is the per-tick energy decrement applied to every
	// alive member, guaranteeing eventual mortality. Default: 5.
	TickEnergyCost int `yaml:"tick_energy_cost"`
}

// ProposalConfig holds voting economics and outcome thresholds.
type ProposalConfig struct {
	// VoteEnergyCost is the energy decrement applied on a successful vote.
	// Default: 30.
	VoteEnergyCost int `yaml:"vote_energy_cost"`

	// ConsensusCutoff is the winning-side proportion at or above which an
	// outcome is consensus rather than majority. Default: 0.80.
	ConsensusCutoff float64 `yaml:"consensus_cutoff"`

	// ScarDamage maps risk level to the damage inflicted on dissenters of
	// a majority (non-consensus) outcome. Defaults: low=40 medium=70 high=110.
	ScarDamage ScarDamageConfig `yaml:"scar_damage"`

	// DefaultVotingWindow is used when a proposal is opened without an
	// explicit window. Default: 30s.
	DefaultVotingWindow time.Duration `yaml:"default_voting_window"`
}

// ScarDamageConfig holds per-risk dissent scar damage amounts.
type ScarDamageConfig struct {
	Low    int `yaml:"low"`
	Medium int `yaml:"medium"`
	High   int `yaml:"high"`
}

// TickConfig holds the cooperative scheduler's cadence and auto-mode.
type TickConfig struct {
	// Period is the time between ticks. Default: 1s.
	Period time.Duration `yaml:"period"`

	// AutoMode generates a synthetic proposal whenever none is open, and
	// simulates votes for members that haven't voted. Default: true.
	AutoMode bool `yaml:"auto_mode"`
}

// BroadcastConfig holds per-subscriber queue parameters.
type BroadcastConfig struct {
	// QueueCapacity is the bounded FIFO depth per subscriber. Default: 256.
	QueueCapacity int `yaml:"queue_capacity"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9109.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		SchemaVersion: "1",
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:9108",
			StaticDir:  "./web",
		},
		Storage: StorageConfig{
			DataDir:          "./data",
			RetentionHistory: 200,
		},
		Member: MemberConfig{
			FatalDamage:    1500,
			TickEnergyCost: 5,
		},
		Proposal: ProposalConfig{
			VoteEnergyCost:  30,
			ConsensusCutoff: 0.80,
			ScarDamage: ScarDamageConfig{
				Low:    40,
				Medium: 70,
				High:   110,
			},
			DefaultVotingWindow: 30 * time.Second,
		},
		Tick: TickConfig{
			Period:   1 * time.Second,
			AutoMode: true,
		},
		Broadcast: BroadcastConfig{
			QueueCapacity: 256,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9109",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path, then applies
// environment overrides. A missing file is not an error — defaults (plus
// environment overrides) are used instead, matching a zero-config default
// deployment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays the environment variables named in spec §6 onto cfg.
// These always win over the file, and a missing GOVERNANCE_OPS_ADMIN_KEY
// means admin routes are gated shut (empty AdminKey never matches).
func applyEnv(cfg *Config) {
	if v := os.Getenv(envAdminKey); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv(envListen); v != "" {
		cfg.Server.ListenAddr = v
	}
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr must not be empty")
	}
	if cfg.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir must not be empty")
	}
	if cfg.Storage.RetentionHistory < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_history must be >= 1, got %d", cfg.Storage.RetentionHistory))
	}
	if cfg.Member.FatalDamage < 1 {
		errs = append(errs, fmt.Sprintf("member.fatal_damage must be >= 1, got %d", cfg.Member.FatalDamage))
	}
	if cfg.Member.TickEnergyCost < 0 {
		errs = append(errs, fmt.Sprintf("member.tick_energy_cost must be >= 0, got %d", cfg.Member.TickEnergyCost))
	}
	if cfg.Proposal.VoteEnergyCost < 0 {
		errs = append(errs, fmt.Sprintf("proposal.vote_energy_cost must be >= 0, got %d", cfg.Proposal.VoteEnergyCost))
	}
	if cfg.Proposal.ConsensusCutoff <= 0.5 || cfg.Proposal.ConsensusCutoff > 1.0 {
		errs = append(errs, fmt.Sprintf("proposal.consensus_cutoff must be in (0.5, 1.0], got %f", cfg.Proposal.ConsensusCutoff))
	}
	if cfg.Proposal.ScarDamage.Low < 0 || cfg.Proposal.ScarDamage.Medium < 0 || cfg.Proposal.ScarDamage.High < 0 {
		errs = append(errs, "proposal.scar_damage values must all be >= 0")
	}
	if cfg.Proposal.DefaultVotingWindow <= 0 {
		errs = append(errs, fmt.Sprintf("proposal.default_voting_window must be > 0, got %s", cfg.Proposal.DefaultVotingWindow))
	}
	if cfg.Tick.Period <= 0 {
		errs = append(errs, fmt.Sprintf("tick.period must be > 0, got %s", cfg.Tick.Period))
	}
	if cfg.Broadcast.QueueCapacity < 1 {
		errs = append(errs, fmt.Sprintf("broadcast.queue_capacity must be >= 1, got %d", cfg.Broadcast.QueueCapacity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
