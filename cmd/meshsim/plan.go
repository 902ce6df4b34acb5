package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/model"
)

func newPlanCmd(root *rootOptions) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the least-cost route between two devices",
		Long: `plan runs the path planner on the coordinator's initial view of the
topology. --from defaults to the coordinator.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, topo, err := root.load()
			if err != nil {
				return err
			}
			src := topo.Coordinator
			if cmd.Flags().Changed("from") {
				src = model.Address(from)
			}
			route, err := topo.BeliefGraph().ShortestPath(src, model.Address(to))
			if errors.Is(err, core.ErrNoPathFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no path from %d to %d\n", src, to)
				return nil
			}
			if err != nil {
				return err
			}
			hops := make([]string, len(route.Hops))
			for i, h := range route.Hops {
				hops[i] = h.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (hops=%d cost=%.3f)\n", strings.Join(hops, " -> "), route.Len(), route.Cost)
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "source device address")
	cmd.Flags().IntVar(&to, "to", 0, "destination device address")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
