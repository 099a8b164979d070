package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		listen string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the simulator as a device gateway on the wire protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			sim, err := backend.NewSimulator(backend.SimulatorOpts{
				Name:         name,
				MaxQubits:    cfg.Simulator.MaxQubits,
				Seed:         cfg.Seed,
				ReadoutError: cfg.Simulator.ReadoutError,
			})
			if err != nil {
				return err
			}
			l, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", listen, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opts.log.Info().Str("addr", l.Addr().String()).Str("backend", sim.Name()).Int("max_qubits", sim.MaxQubits()).Msg("serving")
			err = backend.Serve(ctx, l, sim, opts.log)
			opts.log.Info().Msg("stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7070", "Address to accept gateway connections on.")
	cmd.Flags().StringVar(&name, "name", "", "Backend name reported to clients. Defaults to the simulator's.")
	return cmd
}
