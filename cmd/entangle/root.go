package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alan-christopher/entangle/entangle"
	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/alan-christopher/entangle/entangle/config"
	"github.com/alan-christopher/entangle/entangle/journal"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const logLevelEnv = "ENTANGLE_LOG_LEVEL"

var validFormats = []string{"text", "json"}

// rootOptions holds the global flags and the state derived from them before
// any subcommand runs.
type rootOptions struct {
	configPath string
	format     string
	logLevel   string

	cfg config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "entangle",
		Short:         "Run entanglement protocols against a simulator or a quantum device",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "TOML or YAML config file.")
	pf.StringVar(&opts.format, "format", "text", "Output format (text|json).")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level. Defaults to $"+logLevelEnv+", then info.")
	config.BindFlags(pf)

	cmd.AddCommand(
		newEntangleCommand(opts),
		newNetworkCommand(opts),
		newBellCommand(opts),
		newGHZCommand(opts),
		newTeleportCommand(opts),
		newStatusCommand(opts),
		newBenchCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	valid := false
	for _, f := range validFormats {
		valid = valid || f == o.format
	}
	if !valid {
		return fmt.Errorf("invalid format %q: must be one of %v", o.format, validFormats)
	}
	level := o.logLevel
	if level == "" {
		level = os.Getenv(logLevelEnv)
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	o.log = newLogger(cmd.ErrOrStderr(), lvl)

	cfg := config.Default()
	if o.configPath != "" {
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	if err := config.ApplyFlags(cmd.Flags(), &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	o.cfg = cfg
	return nil
}

func newLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "entangle").Logger()
}

func newSimulator(cfg config.Config) (*backend.Simulator, error) {
	return backend.NewSimulator(backend.SimulatorOpts{
		MaxQubits:    cfg.Simulator.MaxQubits,
		Seed:         cfg.Seed,
		ReadoutError: cfg.Simulator.ReadoutError,
	})
}

// newBackend assembles the backend stack for cfg: the simulator, a device
// gateway when one is configured, and the preference policy between them.
// Each leg carries its own per-submit timeout, so a device that hangs leaves
// the simulator a fresh deadline to fall back on. The device is retried only
// when it is the sole backend; under auto an unavailable device falls back
// at once.
func (o *rootOptions) newBackend(cfg config.Config) (backend.Backend, error) {
	sim, err := newSimulator(cfg)
	if err != nil {
		return nil, err
	}
	backoff := backend.Backoff{
		Initial:    cfg.RetryBackoff.Std(),
		Multiplier: backend.DefaultBackoff.Multiplier,
		Max:        backend.DefaultBackoff.Max,
	}
	var (
		hardware backend.Backend
		breaker  *backend.CircuitBreaker
	)
	if cfg.Hardware.Addr != "" {
		remote, err := backend.NewRemote(backend.RemoteOpts{
			Addr:        cfg.Hardware.Addr,
			Name:        cfg.Hardware.Name,
			MaxQubits:   cfg.Hardware.MaxQubits,
			DialTimeout: cfg.Hardware.DialTimeout.Std(),
			Logger:      o.log,
		})
		if err != nil {
			return nil, fmt.Errorf("hardware backend: %w", err)
		}
		attempts := 1
		if cfg.BackendPreference == backend.PreferHardware {
			attempts = cfg.SubmitRetries
		}
		hardware = backend.NewReliable(remote, backend.ReliableOpts{
			Timeout:     cfg.SubmitTimeout.Std(),
			MaxAttempts: attempts,
			Backoff:     backoff,
			Logger:      o.log,
		})
		breaker = backend.NewCircuitBreaker(cfg.Hardware.BreakerFailures, cfg.Hardware.BreakerReset.Std(), 1)
	}
	local := backend.NewReliable(sim, backend.ReliableOpts{
		Timeout:     cfg.SubmitTimeout.Std(),
		MaxAttempts: cfg.SubmitRetries,
		Backoff:     backoff,
		Logger:      o.log,
	})
	return backend.NewFallback(cfg.BackendPreference, hardware, local, breaker, o.log)
}

// newSession builds a Session over cfg. The returned func releases the
// journal, if any.
func (o *rootOptions) newSession(cfg config.Config) (*entangle.Session, func(), error) {
	b, err := o.newBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := entangle.Opts{Config: cfg, Backend: b, Logger: o.log}
	closer := func() {}
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		opts.Journal = j
		closer = func() {
			if err := j.Close(); err != nil {
				o.log.Warn().Err(err).Msg("closing journal")
			}
		}
	}
	s, err := entangle.NewSession(opts)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return s, closer, nil
}

// withSession runs f against a fresh Session for the configured options.
func (o *rootOptions) withSession(f func(*entangle.Session) error) error {
	s, closer, err := o.newSession(o.cfg)
	if err != nil {
		return err
	}
	defer closer()
	return f(s)
}

// emit writes v as indented JSON, or calls text in text mode.
func (o *rootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printCounts(w io.Writer, counts backend.Counts) {
	for _, o := range counts.Outcomes() {
		fmt.Fprintf(w, "  %s: %d\n", o, counts[o])
	}
}

func verdict(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
