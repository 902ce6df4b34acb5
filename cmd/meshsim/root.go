package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/config"
)

type rootOptions struct {
	configPath   string
	topologyPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "meshsim",
		Short: "Multi-hop metering mesh simulator",
		Long: `meshsim polls the endpoints of a wireless metering mesh from a single
coordinator over source-routed multi-hop paths, and folds the link-quality
feedback of every exchange back into the coordinator's routing graph.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "simulator config file (YAML)")
	root.PersistentFlags().StringVarP(&opts.topologyPath, "topology", "t", "", "topology file (YAML); overrides topology.path")

	root.AddCommand(newRunCmd(opts), newPlanCmd(opts), newValidateCmd(opts))
	return root
}

// load resolves the config file, environment and topology flag, in that
// order of increasing precedence, then reads the topology.
func (o *rootOptions) load() (config.Config, *core.Topology, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.Config{}, nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, nil, err
	}
	if o.topologyPath != "" {
		cfg.Topology.Path = o.topologyPath
	}
	if cfg.Topology.Path == "" {
		return config.Config{}, nil, fmt.Errorf("no topology: pass --topology or set topology.path")
	}
	topo, err := core.LoadTopologyFile(cfg.Topology.Path)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, topo, nil
}
