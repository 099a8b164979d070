package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/alan-christopher/entangle/entangle"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

var (
	inputs = []string{"shot-counts", "readout-errors", "parties"}
	// columns must match Experiment's field names.
	columns = []string{"Shots", "ReadoutError", "Parties", "BellFidelity", "GHZShots",
		"GHZFidelity", "GHZEntropy", "TeleportPValue", "TeleportVerified", "Succeeded"}
)

// An Experiment packages together the result of benchmarking a single
// parameterization for easy formatting.
type Experiment struct {
	// Fields corresponding to experiment parameters
	Shots        int
	ReadoutError float64
	Parties      int

	// Fields corresponding to experiment results
	BellFidelity     float64
	GHZShots         int
	GHZFidelity      float64
	GHZEntropy       float64
	TeleportPValue   float64
	TeleportVerified bool
	Succeeded        bool
}

// newBenchCommand runs a Bell pair, a GHZ state and a teleportation on the
// simulator for each entry in the cartesian product of the sweep flags, and
// prints a CSV line per combination.
func newBenchCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Sweep shot counts, readout error and GHZ width on the simulator and print CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var values [][]interface{}
			for _, inp := range inputs {
				v, err := lookupInput(cmd.Flags(), inp)
				if err != nil {
					return err
				}
				values = append(values, v)
			}
			return runBench(cmd.Context(), opts, cmd.OutOrStdout(), values)
		},
	}
	cmd.Flags().IntSlice("shot-counts", []int{256, 1024}, "Shots per circuit.")
	cmd.Flags().Float64Slice("readout-errors", []float64{0, 0.02}, "Simulator readout bit-flip probabilities.")
	cmd.Flags().IntSlice("parties", []int{3}, "GHZ state widths.")
	return cmd
}

func runBench(ctx context.Context, opts *rootOptions, w io.Writer, values [][]interface{}) error {
	fmt.Fprintln(w, header())
	tmpl := template.Must(template.New("line").Parse(lineTmpl()))
	var err error
	applyCartesian(func(args []interface{}) {
		if err != nil {
			return
		}
		exp := &Experiment{
			Shots:        args[inpIndex("shot-counts")].(int),
			ReadoutError: args[inpIndex("readout-errors")].(float64),
			Parties:      args[inpIndex("parties")].(int),
		}
		if e := bench(ctx, opts, exp); e != nil {
			opts.log.Warn().Err(e).Interface("experiment", exp).Msg("benching")
		}
		if e := tmpl.Execute(w, exp); e != nil {
			err = fmt.Errorf("filling in line template: %w", e)
		}
	}, values)
	return err
}

func inpIndex(v string) int {
	for i, inp := range inputs {
		if inp == v {
			return i
		}
	}
	return -1
}

func bench(ctx context.Context, opts *rootOptions, exp *Experiment) error {
	cfg := opts.cfg
	cfg.ShotCount = exp.Shots
	cfg.Simulator.ReadoutError = exp.ReadoutError
	sim, err := newSimulator(cfg)
	if err != nil {
		return err
	}
	s, err := entangle.NewSession(entangle.Opts{Config: cfg, Backend: sim, Logger: opts.log})
	if err != nil {
		return err
	}
	bell, err := s.CreateBellPair(ctx, entangle.PhiPlus)
	if err != nil {
		return err
	}
	exp.BellFidelity = bell.Fidelity
	ghz, err := s.CreateGHZState(ctx, exp.Parties)
	if err != nil {
		return err
	}
	exp.GHZShots = ghz.Shots
	exp.GHZFidelity = ghz.Fidelity
	exp.GHZEntropy = ghz.Entropy

	nodes := s.Status().Nodes
	if len(nodes) < 2 {
		return fmt.Errorf("teleportation needs two nodes, %d configured", len(nodes))
	}
	tp, err := s.Teleport(ctx, entangle.Plus, nodes[0], nodes[1])
	if err != nil {
		return err
	}
	exp.TeleportPValue = tp.PValue
	exp.TeleportVerified = tp.Verified
	exp.Succeeded = bell.Pass && ghz.Pass && tp.Success
	return nil
}

func header() string {
	return strings.Join(columns, ", ")
}

func lineTmpl() string {
	var els []string
	for _, c := range columns {
		els = append(els, "{{."+c+"}}")
	}
	return strings.Join(els, ", ") + "\n"
}

func lookupInput(fs *flag.FlagSet, name string) ([]interface{}, error) {
	var r []interface{}
	if v, err := fs.GetIntSlice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else if v, err := fs.GetFloat64Slice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else {
		return nil, fmt.Errorf("unknown type for input %s", name)
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("input %s has no values", name)
	}
	return r, nil
}

func applyCartesian(f func([]interface{}), args [][]interface{}) {
	for i := range args {
		if len(args[i]) == 1 {
			continue
		}
		l := make([][]interface{}, len(args))
		r := make([][]interface{}, len(args))
		copy(l, args)
		copy(r, args)
		l[i] = args[i][:1]
		r[i] = args[i][1:]
		applyCartesian(f, l)
		applyCartesian(f, r)
		return
	}
	x := make([]interface{}, 0, len(args))
	for _, a := range args {
		x = append(x, a[0])
	}
	f(x)
}
