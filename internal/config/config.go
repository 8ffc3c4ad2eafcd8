// Package config defines the recognized configuration shape. Loading and
// validating a config file is the outer driver's responsibility, not
// this package's; it only defines the struct an outer driver populates
// and the narrow env-overlay convenience used by cmd/conductor for
// local development.
package config

import (
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/conductorctl/conductor/internal/infra"
)

// Strategy selects the Dependency Analyzer's grouping policy (§4.8).
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced      Strategy = "balanced"
	StrategyAggressive    Strategy = "aggressive"
)

// Mode selects the Orchestrator's stage execution mode (§4.10).
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
	ModeHybrid     Mode = "hybrid"
)

// ResourceLimits is the admission ceiling for every dimension C9 tracks.
type ResourceLimits struct {
	TokensPerMinute  int `json:"tokens_per_min" env:"TOKENS_PER_MIN" envDefault:"60000"`
	MemoryMB         int `json:"memory_mb" env:"MEMORY_MB" envDefault:"4096"`
	CPUPercent       int `json:"cpu_pct" env:"CPU_PCT" envDefault:"400"`
	ConcurrentAgents int `json:"concurrent_agents" env:"CONCURRENT_AGENTS" envDefault:"8"`
}

// Provider describes how C1 invokes one LLM role.
type Provider struct {
	Cmd         []string `json:"cmd"`
	ExtraArgs   []string `json:"extra_args"`
	JSONMarkers []string `json:"json_markers,omitempty"`
}

// Config is the full recognized config shape. All unrecognized keys are
// rejected by the outer driver before this struct is populated; this
// package does not itself parse or validate a config file.
type Config struct {
	MaxAttempts    int                 `json:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseTimeoutS   int                 `json:"base_timeout_s" env:"BASE_TIMEOUT_S" envDefault:"60"`
	Strategy       Strategy            `json:"strategy" env:"STRATEGY" envDefault:"balanced"`
	Mode           Mode                `json:"mode" env:"MODE" envDefault:"hybrid"`
	ResourceLimits ResourceLimits      `json:"resource_limits"`
	ProjectsDir    string              `json:"projects_dir" env:"PROJECTS_DIR"`
	Providers      map[string]Provider `json:"providers"`
}

// Default returns the recognized defaults, matching the envDefault tags.
func Default() Config {
	cfg := Config{
		MaxAttempts:  3,
		BaseTimeoutS: 60,
		Strategy:     StrategyBalanced,
		Mode:         ModeHybrid,
		ResourceLimits: ResourceLimits{
			TokensPerMinute:  60000,
			MemoryMB:         4096,
			CPUPercent:       400,
			ConcurrentAgents: 8,
		},
		ProjectsDir: filepath.Join(infra.ResolveHomeDir(), "projects"),
		Providers:   map[string]Provider{},
	}
	return cfg
}

// FromEnv overlays environment variables onto the recognized defaults, for
// the cmd/conductor local-development driver only.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
