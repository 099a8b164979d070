package config

import (
	"fmt"

	"github.com/alan-christopher/entangle/entangle/backend"
	flag "github.com/spf13/pflag"
)

// BindFlags registers a flag for each scalar setting on fs, defaulted from
// Default(). ApplyFlags copies the ones the user set onto a loaded Config.
func BindFlags(fs *flag.FlagSet) {
	d := Default()
	fs.Float64("target-fidelity", d.TargetFidelity, "Fidelity an NV attempt must reach to succeed.")
	fs.Float64("bell-threshold", d.BellFidelityThreshold, "Minimum fidelity for a Bell pair to pass.")
	fs.Float64("ghz-threshold", d.GHZFidelityThreshold, "Minimum fidelity for a GHZ state to pass.")
	fs.Int("shots", d.ShotCount, "Shots per circuit submission.")
	fs.Int("max-herald-retries", d.MaxHeraldRetries, "Herald rounds per NV attempt, the first included.")
	pref := d.BackendPreference
	fs.Var(&pref, "backend", "Backend preference: auto, hardware or simulator.")
	fs.Duration("submit-timeout", d.SubmitTimeout.Std(), "Timeout for each backend submission.")
	fs.Int("submit-retries", d.SubmitRetries, "Submissions attempted per circuit when the backend is unavailable.")
	fs.Float64("significance", d.Significance, "Significance level of the teleportation goodness-of-fit test.")
	fs.Bool("strict-teleport", d.StrictTeleport, "Fail teleportations whose statistics do not verify.")
	fs.Int64("seed", d.Seed, "Seed for simulator and link randomness; 0 is random.")
	fs.String("hardware-addr", d.Hardware.Addr, "host:port of a device gateway.")
	fs.Int("hardware-qubits", d.Hardware.MaxQubits, "Qubit count of the device gateway.")
	fs.Float64("readout-error", d.Simulator.ReadoutError, "Simulator readout bit-flip probability.")
	fs.Float64("distance-km", d.Link.DistanceKM, "Fibre length between NV nodes.")
	fs.String("journal", d.Journal, "SQLite file to record results to.")
}

// ApplyFlags overrides c with every flag explicitly set on fs.
func ApplyFlags(fs *flag.FlagSet, c *Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			if e := apply(); e != nil {
				err = fmt.Errorf("flag --%s: %w", name, e)
			}
		}
	}
	set("target-fidelity", func() (e error) { c.TargetFidelity, e = fs.GetFloat64("target-fidelity"); return })
	set("bell-threshold", func() (e error) { c.BellFidelityThreshold, e = fs.GetFloat64("bell-threshold"); return })
	set("ghz-threshold", func() (e error) { c.GHZFidelityThreshold, e = fs.GetFloat64("ghz-threshold"); return })
	set("shots", func() (e error) { c.ShotCount, e = fs.GetInt("shots"); return })
	set("max-herald-retries", func() (e error) { c.MaxHeraldRetries, e = fs.GetInt("max-herald-retries"); return })
	set("backend", func() (e error) {
		c.BackendPreference, e = backend.ParsePreference(fs.Lookup("backend").Value.String())
		return
	})
	set("submit-timeout", func() error {
		d, e := fs.GetDuration("submit-timeout")
		c.SubmitTimeout = Duration(d)
		return e
	})
	set("submit-retries", func() (e error) { c.SubmitRetries, e = fs.GetInt("submit-retries"); return })
	set("significance", func() (e error) { c.Significance, e = fs.GetFloat64("significance"); return })
	set("strict-teleport", func() (e error) { c.StrictTeleport, e = fs.GetBool("strict-teleport"); return })
	set("seed", func() (e error) { c.Seed, e = fs.GetInt64("seed"); return })
	set("hardware-addr", func() (e error) { c.Hardware.Addr, e = fs.GetString("hardware-addr"); return })
	set("hardware-qubits", func() (e error) { c.Hardware.MaxQubits, e = fs.GetInt("hardware-qubits"); return })
	set("readout-error", func() (e error) { c.Simulator.ReadoutError, e = fs.GetFloat64("readout-error"); return })
	set("distance-km", func() (e error) { c.Link.DistanceKM, e = fs.GetFloat64("distance-km"); return })
	set("journal", func() (e error) { c.Journal, e = fs.GetString("journal"); return })
	return err
}
