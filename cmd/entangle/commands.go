package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/alan-christopher/entangle/entangle"
	"github.com/alan-christopher/entangle/entangle/nv"
	"github.com/spf13/cobra"
)

func newEntangleCommand(opts *rootOptions) *cobra.Command {
	var target float64
	cmd := &cobra.Command{
		Use:   "entangle <node-a> <node-b>",
		Short: "Run one heralded entanglement attempt between two NV nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(func(s *entangle.Session) error {
				at, err := s.CreateEntanglement(cmd.Context(), args[0], args[1], target)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), at, func(w io.Writer) { printAttempt(w, at) })
			})
		},
	}
	cmd.Flags().Float64Var(&target, "target", 0, "Fidelity the pair must reach. Zero uses target_fidelity.")
	return cmd
}

func newNetworkCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "Attempt entanglement between every pair of configured nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(func(s *entangle.Session) error {
				attempts, err := s.EntangleAll(cmd.Context())
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), attempts, func(w io.Writer) {
					for _, at := range attempts {
						printAttempt(w, at)
					}
				})
			})
		},
	}
}

func printAttempt(w io.Writer, at *nv.Attempt) {
	fmt.Fprintf(w, "%s %s-%s: %v after %d round(s)", at.ID, at.A.ID, at.B.ID, at.Step, at.Rounds)
	if at.Fidelity != nil {
		fmt.Fprintf(w, ", fidelity %.4f (target %.4f)", *at.Fidelity, at.Target)
	}
	if at.Reason != "" {
		fmt.Fprintf(w, ": %s", at.Reason)
	}
	fmt.Fprintln(w)
}

func newBellCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bell <phi_plus|phi_minus|psi_plus|psi_minus>",
		Short: "Prepare and verify a Bell pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := entangle.ParseBellState(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(func(s *entangle.Session) error {
				res, err := s.CreateBellPair(cmd.Context(), st)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "%v on %s: fidelity %.4f, phase fidelity %.4f (threshold %.2f) %s\n",
						res.State, res.Backend, res.Fidelity, res.PhaseFidelity, res.Threshold, verdict(res.Pass))
					printCounts(w, res.Counts)
					fmt.Fprintln(w, "x basis:")
					printCounts(w, res.PhaseCounts)
				})
			})
		},
	}
}

func newGHZCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ghz <parties>",
		Short: "Prepare and verify an n-party GHZ state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parsing party count: %w", err)
			}
			return opts.withSession(func(s *entangle.Session) error {
				res, err := s.CreateGHZState(cmd.Context(), n)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "%d-party GHZ on %s over %d shots: fidelity %.4f (threshold %.2f) %s, entropy %.4f bits\n",
						res.Parties, res.Backend, res.Shots, res.Fidelity, res.Threshold, verdict(res.Pass), res.Entropy)
					printCounts(w, res.Counts)
				})
			})
		},
	}
}

func newTeleportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "teleport <zero|one|plus|minus|plus_i|minus_i> <source> <destination>",
		Short: "Teleport a single-qubit state between two nodes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := entangle.ParseStateLabel(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(func(s *entangle.Session) error {
				res, err := s.Teleport(cmd.Context(), l, args[1], args[2])
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s -> %s: bits %d%d, verified %t (p=%.4f, fidelity %.4f), success %t\n",
						res.Label, res.Source, res.Destination, res.Bits[0], res.Bits[1],
						res.Verified, res.PValue, res.Fidelity, res.Success)
					printCounts(w, res.DestinationCounts)
				})
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured nodes and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(func(s *entangle.Session) error {
				st := s.Status()
				return opts.emit(cmd.OutOrStdout(), st, func(w io.Writer) {
					fmt.Fprintf(w, "backend: %s (%d qubits)\n", st.Backend, st.MaxQubits)
					for _, n := range st.Nodes {
						fmt.Fprintf(w, "node: %s\n", n)
					}
				})
			})
		},
	}
}
