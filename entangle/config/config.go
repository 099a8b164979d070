// Package config loads and validates the settings shared by every protocol
// layer, from defaults, a TOML or YAML file and command-line flags, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/alan-christopher/entangle/entangle/nv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("30s") in
// config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	TargetFidelity        float64            `toml:"target_fidelity" yaml:"target_fidelity"`
	BellFidelityThreshold float64            `toml:"bell_fidelity_threshold" yaml:"bell_fidelity_threshold"`
	GHZFidelityThreshold  float64            `toml:"ghz_fidelity_threshold" yaml:"ghz_fidelity_threshold"`
	ShotCount             int                `toml:"shot_count" yaml:"shot_count"`
	MaxHeraldRetries      int                `toml:"max_herald_retries" yaml:"max_herald_retries"`
	BackendPreference     backend.Preference `toml:"backend_preference" yaml:"backend_preference"`
	SubmitTimeout         Duration           `toml:"submit_timeout" yaml:"submit_timeout"`
	SubmitRetries         int                `toml:"submit_retries" yaml:"submit_retries"`
	RetryBackoff          Duration           `toml:"retry_backoff" yaml:"retry_backoff"`
	Significance          float64            `toml:"significance" yaml:"significance"`
	// StrictTeleport fails teleportations whose destination statistics do
	// not match the prepared state.
	StrictTeleport bool `toml:"strict_teleport" yaml:"strict_teleport"`
	// Seed makes simulator and link randomness reproducible. Zero is random.
	Seed int64 `toml:"seed" yaml:"seed"`
	// Journal is a SQLite path results are recorded to. Empty disables it.
	Journal string `toml:"journal" yaml:"journal"`

	Hardware  HardwareConfig  `toml:"hardware" yaml:"hardware"`
	Simulator SimulatorConfig `toml:"simulator" yaml:"simulator"`
	Link      LinkConfig      `toml:"link" yaml:"link"`
	Nodes     []NodeConfig    `toml:"nodes" yaml:"nodes"`
}

// HardwareConfig locates a device gateway. An empty Addr means no hardware.
type HardwareConfig struct {
	Addr            string   `toml:"addr" yaml:"addr"`
	Name            string   `toml:"name" yaml:"name"`
	MaxQubits       int      `toml:"max_qubits" yaml:"max_qubits"`
	DialTimeout     Duration `toml:"dial_timeout" yaml:"dial_timeout"`
	BreakerFailures int      `toml:"breaker_failures" yaml:"breaker_failures"`
	BreakerReset    Duration `toml:"breaker_reset" yaml:"breaker_reset"`
}

type SimulatorConfig struct {
	MaxQubits    int     `toml:"max_qubits" yaml:"max_qubits"`
	ReadoutError float64 `toml:"readout_error" yaml:"readout_error"`
}

type LinkConfig struct {
	DistanceKM         float64  `toml:"distance_km" yaml:"distance_km"`
	AttenuationDBPerKM float64  `toml:"attenuation_db_per_km" yaml:"attenuation_db_per_km"`
	InsertionLossDB    float64  `toml:"insertion_loss_db" yaml:"insertion_loss_db"`
	DetectorEfficiency float64  `toml:"detector_efficiency" yaml:"detector_efficiency"`
	Visibility         float64  `toml:"visibility" yaml:"visibility"`
	PulseError         float64  `toml:"pulse_error" yaml:"pulse_error"`
	DecouplingGain     float64  `toml:"decoupling_gain" yaml:"decoupling_gain"`
	StepDuration       Duration `toml:"step_duration" yaml:"step_duration"`
}

type NodeConfig struct {
	ID           string   `toml:"id" yaml:"id"`
	T2           Duration `toml:"t2" yaml:"t2"`
	WavelengthNM float64  `toml:"wavelength_nm" yaml:"wavelength_nm"`
}

var (
	DefaultShotCount             = 1024
	DefaultBellFidelityThreshold = 0.7
	DefaultGHZFidelityThreshold  = 0.7
	DefaultSignificance          = 0.01
	DefaultNodeT2                = time.Second
	DefaultWavelengthNM          = 637.0
)

// Default returns the built-in configuration: simulator-backed under the auto
// policy, with two nodes on a laboratory link.
func Default() Config {
	l := nv.DefaultLink
	return Config{
		TargetFidelity:        nv.DefaultTargetFidelity,
		BellFidelityThreshold: DefaultBellFidelityThreshold,
		GHZFidelityThreshold:  DefaultGHZFidelityThreshold,
		ShotCount:             DefaultShotCount,
		MaxHeraldRetries:      nv.DefaultMaxHeraldRetries,
		BackendPreference:     backend.PreferAuto,
		SubmitTimeout:         Duration(backend.DefaultSubmitTimeout),
		SubmitRetries:         backend.DefaultMaxAttempts,
		RetryBackoff:          Duration(backend.DefaultBackoff.Initial),
		Significance:          DefaultSignificance,
		Hardware: HardwareConfig{
			DialTimeout:     Duration(backend.DefaultDialTimeout),
			BreakerFailures: 3,
			BreakerReset:    Duration(30 * time.Second),
		},
		Simulator: SimulatorConfig{MaxQubits: backend.DefaultSimulatorMaxQubits},
		Link: LinkConfig{
			DistanceKM:         l.DistanceKM,
			AttenuationDBPerKM: l.AttenuationDBPerKM,
			InsertionLossDB:    l.InsertionLossDB,
			DetectorEfficiency: l.DetectorEfficiency,
			Visibility:         l.Visibility,
			PulseError:         l.PulseError,
			DecouplingGain:     l.DecouplingGain,
			StepDuration:       Duration(l.StepDuration),
		},
		Nodes: []NodeConfig{
			{ID: "alice", T2: Duration(DefaultNodeT2), WavelengthNM: DefaultWavelengthNM},
			{ID: "bob", T2: Duration(DefaultNodeT2), WavelengthNM: DefaultWavelengthNM},
		},
	}
}

// Load reads path over the defaults and validates the result. The format
// follows the extension: .toml, .yaml or .yml.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("config load failed (%s): unsupported extension", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	for i := range cfg.Nodes {
		if cfg.Nodes[i].T2 == 0 {
			cfg.Nodes[i].T2 = Duration(DefaultNodeT2)
		}
		if cfg.Nodes[i].WavelengthNM == 0 {
			cfg.Nodes[i].WavelengthNM = DefaultWavelengthNM
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func unit(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must lie in (0, 1], got %v", name, v)
	}
	return nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"target_fidelity", c.TargetFidelity},
		{"bell_fidelity_threshold", c.BellFidelityThreshold},
		{"ghz_fidelity_threshold", c.GHZFidelityThreshold},
	} {
		if err := unit(f.name, f.v); err != nil {
			return err
		}
	}
	if c.Significance <= 0 || c.Significance >= 1 {
		return fmt.Errorf("significance must lie in (0, 1), got %v", c.Significance)
	}
	if c.ShotCount <= 0 {
		return fmt.Errorf("shot_count must be positive, got %d", c.ShotCount)
	}
	if c.MaxHeraldRetries <= 0 {
		return fmt.Errorf("max_herald_retries must be positive, got %d", c.MaxHeraldRetries)
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("submit_timeout must be positive, got %v", c.SubmitTimeout)
	}
	if c.SubmitRetries <= 0 {
		return fmt.Errorf("submit_retries must be positive, got %d", c.SubmitRetries)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be non-negative, got %v", c.RetryBackoff)
	}
	if c.BackendPreference == backend.PreferHardware && strings.TrimSpace(c.Hardware.Addr) == "" {
		return fmt.Errorf("backend_preference hardware requires hardware.addr")
	}
	if c.Hardware.Addr != "" && c.Hardware.MaxQubits <= 0 {
		return fmt.Errorf("hardware.max_qubits must be positive, got %d", c.Hardware.MaxQubits)
	}
	if c.Simulator.MaxQubits <= 0 || c.Simulator.MaxQubits > 30 {
		return fmt.Errorf("simulator.max_qubits must lie in [1, 30], got %d", c.Simulator.MaxQubits)
	}
	if c.Simulator.ReadoutError < 0 || c.Simulator.ReadoutError > 0.5 {
		return fmt.Errorf("simulator.readout_error must lie in [0, 0.5], got %v", c.Simulator.ReadoutError)
	}
	if err := c.NVLink().Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	seen := make(map[string]bool)
	for i, n := range c.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("nodes[%d] missing id", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("nodes[%d] duplicates id %q", i, n.ID)
		}
		seen[n.ID] = true
		if n.T2 <= 0 {
			return fmt.Errorf("nodes[%d] (%s) t2 must be positive, got %v", i, n.ID, n.T2)
		}
	}
	return nil
}

func (c Config) NVLink() nv.Link {
	return nv.Link{
		DistanceKM:         c.Link.DistanceKM,
		AttenuationDBPerKM: c.Link.AttenuationDBPerKM,
		InsertionLossDB:    c.Link.InsertionLossDB,
		DetectorEfficiency: c.Link.DetectorEfficiency,
		Visibility:         c.Link.Visibility,
		PulseError:         c.Link.PulseError,
		DecouplingGain:     c.Link.DecouplingGain,
		StepDuration:       c.Link.StepDuration.Std(),
	}
}

func (c Config) NVNodes() []nv.Node {
	out := make([]nv.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = nv.Node{ID: n.ID, T2: n.T2.Std(), WavelengthNM: n.WavelengthNM}
	}
	return out
}
