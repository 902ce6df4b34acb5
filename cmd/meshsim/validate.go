package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and topology without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, topo, err := root.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: lasting=%d retransmissions=%d replicas=%d fetch=%s\n",
				cfg.Simulation.Lasting, cfg.Simulation.RetransmissionLimit, cfg.Simulation.Replicas, cfg.Simulation.DestinationFetch)
			fmt.Fprintf(out, "topology ok: %d devices, %d links, coordinator %d\n",
				len(topo.Devices), len(topo.Links), topo.Coordinator)

			g := topo.BeliefGraph()
			unreachable := 0
			for _, d := range topo.Devices {
				if d == topo.Coordinator {
					continue
				}
				if _, err := g.ShortestPath(topo.Coordinator, d); errors.Is(err, core.ErrNoPathFound) {
					fmt.Fprintf(out, "warning: device %d is unreachable from the coordinator\n", d)
					unreachable++
				} else if err != nil {
					return err
				}
			}
			if unreachable == len(topo.Devices)-1 {
				return fmt.Errorf("no device is reachable from coordinator %d", topo.Coordinator)
			}
			return nil
		},
	}
}
