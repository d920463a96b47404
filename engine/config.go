package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegislights/controller/engine/analyzer"
	"github.com/aegislights/controller/engine/executor"
	"github.com/aegislights/controller/engine/internal/ratelimit"
	"github.com/aegislights/controller/engine/loopctl"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/monitor"
	"github.com/aegislights/controller/engine/planner"
)

// KnowledgeConfig selects and configures the Knowledge Base backend (spec
// §4.2).
type KnowledgeConfig struct {
	// Driver is "sqlite" (default) or "memory". "memory" is hermetic and
	// non-durable; intended for tests and standalone simulation runs.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SimulatorConfig addresses the external traffic simulator (spec §6) and the
// circuit breaker wrapping calls to it.
type SimulatorConfig struct {
	BaseURL        string        `yaml:"base_url"`
	CircuitBreaker bool          `yaml:"circuit_breaker"`
	BreakerShards  int           `yaml:"breaker_shards"`
	DomainStateTTL time.Duration `yaml:"domain_state_ttl"`
}

// PhaseLibraryConfig locates the on-disk phase library. An empty Path falls
// back to the embedded three-plan-per-intersection reference library (spec
// §4.5; planner.ReferenceLibrary).
type PhaseLibraryConfig struct {
	Path string `yaml:"path"`
}

// TopologyConfig locates the on-disk static network layout. An empty Path
// falls back to the embedded five-intersection reference network (spec §6;
// engine/topology.Reference).
type TopologyConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig is the public telemetry surface (spec_full §10.1): which
// metrics backend to construct and where to expose it.
type TelemetryConfig struct {
	MetricsEnabled       bool   `yaml:"metrics_enabled"`
	PrometheusListenAddr string `yaml:"prometheus_listen_addr"`
	// MetricsBackend selects the provider implementation: "prom" (default),
	// "otel", or "noop".
	MetricsBackend string `yaml:"metrics_backend"`
}

// Config is the public configuration surface for the Engine facade: one
// section per MAPE-K stage plus the ambient knowledge/simulator/telemetry
// wiring (spec_full §10.1, §11).
type Config struct {
	// CyclePeriod is how often loopctl.Loop runs one Monitor->Analyze->Plan
	// ->Execute pass (spec §4.7).
	CyclePeriod time.Duration `yaml:"cycle_period"`
	// MaxCycleDuration bounds the loop's total run time; zero runs until
	// Stop/context cancellation.
	MaxCycleDuration time.Duration `yaml:"max_cycle_duration"`
	// RNGSeed seeds the Planner's bandit source for reproducible runs. Zero
	// lets Planner pick its own default seed.
	RNGSeed int64 `yaml:"rng_seed"`

	CostCoefficients models.CostCoefficients `yaml:"cost_coefficients"`

	Monitor  monitor.Config  `yaml:"monitor"`
	Analyzer analyzer.Config `yaml:"analyzer"`
	Planner  planner.Config  `yaml:"planner"`
	Executor executor.Config `yaml:"executor"`

	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Simulator     SimulatorConfig     `yaml:"simulator"`
	PhaseLibrary  PhaseLibraryConfig  `yaml:"phase_library"`
	Topology      TopologyConfig      `yaml:"topology"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// Defaults returns a Config with the reference network's canonical knobs
// (spec §6 config surface defaults).
func Defaults() Config {
	return Config{
		CyclePeriod:      60 * time.Second,
		MaxCycleDuration: 0,
		RNGSeed:          1,
		CostCoefficients: models.DefaultCostCoefficients(),
		Monitor: monitor.Config{
			RollingWindowSize:   3,
			CongestionThreshold: 50,
		},
		Analyzer: analyzer.Config{
			HotspotPercentile:   0.7,
			KShortestPaths:      3,
			TrendAlpha:          0,
			CoordinationEnabled: true,
			CoordinationCutoff:  0,
			CostHistoryWindow:   10,
		},
		Planner: planner.Config{
			BanditAlgorithm:     planner.AlgorithmUCB,
			ExplorationFactor:   0.2,
			IncidentModeEnabled: true,
			CoordinationEnabled: true,
		},
		Executor: executor.Config{
			EnableRollback:                  true,
			RollbackWindowSize:              3,
			PerformanceDegradationThreshold: 0.10,
			EnforceRateOfChange:             false,
			RateOfChangeLimits: executor.RateOfChangeLimits{
				MaxOffsetDelta:      60,
				MaxCycleLengthDelta: 30,
			},
		},
		Knowledge: KnowledgeConfig{
			Driver: "sqlite",
			Path:   "aegis-lights.db",
		},
		Simulator: SimulatorConfig{
			BaseURL:        "http://127.0.0.1:8813",
			CircuitBreaker: true,
			BreakerShards:  4,
			DomainStateTTL: 2 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled:       false,
			PrometheusListenAddr: "",
			MetricsBackend:       "prom",
		},
	}
}

// Normalize returns a copy of c with every zero-valued numeric/duration
// field replaced by its Defaults() counterpart, except RNGSeed and
// Executor.RateOfChangeLimits, which are left as given. Stage constructors apply
// their own defaulting too, so this is a convenience for callers that build
// a Config by hand or from a partial YAML document rather than a
// correctness requirement.
func (c Config) Normalize() Config {
	d := Defaults()
	if c.CyclePeriod <= 0 {
		c.CyclePeriod = d.CyclePeriod
	}
	if c.CostCoefficients == (models.CostCoefficients{}) {
		c.CostCoefficients = d.CostCoefficients
	}
	if c.Monitor.RollingWindowSize <= 0 {
		c.Monitor.RollingWindowSize = d.Monitor.RollingWindowSize
	}
	if c.Monitor.CongestionThreshold <= 0 {
		c.Monitor.CongestionThreshold = d.Monitor.CongestionThreshold
	}
	if c.Analyzer.HotspotPercentile <= 0 {
		c.Analyzer.HotspotPercentile = d.Analyzer.HotspotPercentile
	}
	if c.Analyzer.KShortestPaths <= 0 {
		c.Analyzer.KShortestPaths = d.Analyzer.KShortestPaths
	}
	if c.Analyzer.CostHistoryWindow <= 0 {
		c.Analyzer.CostHistoryWindow = d.Analyzer.CostHistoryWindow
	}
	if c.Planner.BanditAlgorithm == "" {
		c.Planner.BanditAlgorithm = d.Planner.BanditAlgorithm
	}
	if c.Planner.ExplorationFactor <= 0 {
		c.Planner.ExplorationFactor = d.Planner.ExplorationFactor
	}
	if c.Executor.RollbackWindowSize <= 0 {
		c.Executor.RollbackWindowSize = d.Executor.RollbackWindowSize
	}
	if c.Executor.PerformanceDegradationThreshold <= 0 {
		c.Executor.PerformanceDegradationThreshold = d.Executor.PerformanceDegradationThreshold
	}
	if c.Knowledge.Driver == "" {
		c.Knowledge.Driver = d.Knowledge.Driver
	}
	if c.Knowledge.Driver == "sqlite" && c.Knowledge.Path == "" {
		c.Knowledge.Path = d.Knowledge.Path
	}
	if c.Simulator.BaseURL == "" {
		c.Simulator.BaseURL = d.Simulator.BaseURL
	}
	if c.Simulator.BreakerShards <= 0 {
		c.Simulator.BreakerShards = d.Simulator.BreakerShards
	}
	if c.Simulator.DomainStateTTL <= 0 {
		c.Simulator.DomainStateTTL = d.Simulator.DomainStateTTL
	}
	if c.Telemetry.MetricsBackend == "" {
		c.Telemetry.MetricsBackend = d.Telemetry.MetricsBackend
	}
	return c
}

// LoadYAML reads a Config from a YAML file, normalizing the result against
// Defaults() for any field the document leaves unset (spec_full §11: yaml.v3
// covers engine config, matching the pack's pattern for structured config
// files).
func LoadYAML(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: read config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}
	return cfg.Normalize(), nil
}

// toLoopConfig projects the cycle-scheduling knobs onto loopctl.Config.
func (c Config) toLoopConfig() loopctl.Config {
	return loopctl.Config{
		CyclePeriod: c.CyclePeriod,
		MaxDuration: c.MaxCycleDuration,
	}
}

// toBreakerConfig projects the simulator circuit-breaker knobs onto
// ratelimit.Config (internal domain-sharded breaker, repurposed here to key
// on simulator endpoint class rather than crawl-target hostname).
func (c Config) toBreakerConfig() ratelimit.Config {
	return ratelimit.Config{
		Enabled:        c.Simulator.CircuitBreaker,
		Shards:         c.Simulator.BreakerShards,
		DomainStateTTL: c.Simulator.DomainStateTTL,
	}
}
