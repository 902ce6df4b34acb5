package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/config"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/observability"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/sim"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/stats"
	"github.com/signalsfoundry/mesh-metering-simulator/timectrl"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		lasting         uint64
		retransmissions int
		seed            uint64
		replicas        int
		fetch           string
		pace            time.Duration
		metricsAddr     string
		healthAddr      string
		recordPath      string
		verbose         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, topo, err := root.load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("lasting") {
				cfg.Simulation.Lasting = lasting
			}
			if flags.Changed("retransmissions") {
				cfg.Simulation.RetransmissionLimit = retransmissions
			}
			if flags.Changed("seed") {
				cfg.Simulation.Seed = seed
			}
			if flags.Changed("replicas") {
				cfg.Simulation.Replicas = replicas
			}
			if flags.Changed("fetch") {
				cfg.Simulation.DestinationFetch = fetch
			}
			if flags.Changed("pace") {
				cfg.Simulation.Pace = pace
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if flags.Changed("health-addr") {
				cfg.Health.Addr = healthAddr
			}
			if flags.Changed("record") {
				cfg.Logging.RecordPath = recordPath
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSimulation(cmd, cfg, topo)
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&lasting, "lasting", 0, "number of requests to send before stopping")
	f.IntVar(&retransmissions, "retransmissions", 0, "retransmissions per hop after a failed attempt")
	f.Uint64Var(&seed, "seed", 0, "seed of the channel model and target shuffle")
	f.IntVar(&replicas, "replicas", 1, "independent replicas to run in parallel")
	f.StringVar(&fetch, "fetch", "sequential", "target rotation: sequential or random")
	f.DurationVar(&pace, "pace", 0, "wall-clock pause between cycles (0 runs accelerated)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	f.StringVar(&healthAddr, "health-addr", "", "TCP address of the gRPC health service")
	f.StringVar(&recordPath, "record", "", "also write every log record as JSON to this file")
	f.BoolVarP(&verbose, "verbose", "v", false, "log every cycle")
	return cmd
}

func runSimulation(cmd *cobra.Command, cfg config.Config, topo *core.Topology) error {
	log, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if srv := serveMetrics(cfg.Metrics.Addr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	if cfg.Health.Addr != "" {
		hs := observability.NewHealthServer(collector, log)
		if _, err := hs.Start(cfg.Health.Addr); err != nil {
			return err
		}
		defer hs.Stop()
		hs.SetServing(true)
		defer hs.SetServing(false)
	}

	log.Info(ctx, "starting simulation",
		logging.String("topology", cfg.Topology.Path),
		logging.Int("devices", len(topo.Devices)),
		logging.Int("links", len(topo.Links)),
		logging.Int("replicas", cfg.Simulation.Replicas),
	)

	pacers := make([]*timectrl.Pacer, cfg.Simulation.Replicas)
	if cfg.Simulation.Pace > 0 {
		for i := range pacers {
			pacers[i] = timectrl.NewPacer(cfg.Simulation.Pace, timectrl.RealTime)
			defer pacers[i].Stop()
		}
	}
	total, sims, runErr := sim.RunReplicas(ctx, cfg.Simulation.Replicas, func(replica int) (*sim.Simulation, error) {
		return sim.Build(cfg, topo, replica,
			sim.WithLogger(log),
			sim.WithMetrics(collector.ForReplica(replica)),
			sim.WithPacer(pacers[replica]),
		)
	})

	// Per-device counters are only meaningful for a single replica.
	var devices []*core.Device
	if len(sims) == 1 && sims[0] != nil {
		devices = sims[0].Devices()
	}
	out, err := stats.MarshalSummary(total, devices)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newLogger(cfg logging.Config) (logging.Logger, func(), error) {
	if cfg.RecordPath == "" {
		return logging.New(cfg), func() {}, nil
	}
	f, err := os.Create(cfg.RecordPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open log record: %w", err)
	}
	return logging.NewWithRecord(cfg, f), func() { _ = f.Close() }, nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
