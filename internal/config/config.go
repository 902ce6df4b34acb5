// Package config loads the simulator configuration from YAML and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mesh-metering-simulator/core"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/coordinator"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/logging"
	"github.com/signalsfoundry/mesh-metering-simulator/internal/observability"
)

// Config is the root of a simulator configuration file.
type Config struct {
	Simulation Simulation                  `yaml:"simulation"`
	Topology   Topology                    `yaml:"topology"`
	Logging    logging.Config              `yaml:"logging"`
	Metrics    Metrics                     `yaml:"metrics"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Health     Health                      `yaml:"health"`
}

// Simulation holds the parameters of the coordinator cycle.
type Simulation struct {
	RetransmissionLimit  int           `yaml:"retransmission_limit"`
	Lasting              uint64        `yaml:"lasting"`
	DestinationFetch     string        `yaml:"destination_fetch"`
	Seed                 uint64        `yaml:"seed"`
	DataFaultThreshold   float64       `yaml:"data_fault_threshold"`
	Replicas             int           `yaml:"replicas"`
	RouteCacheTTL        time.Duration `yaml:"route_cache_ttl"`
	RequestPayloadBytes  int           `yaml:"request_payload_bytes"`
	ResponsePayloadBytes int           `yaml:"response_payload_bytes"`
	// Pace spaces cycles in wall-clock time; zero runs as fast as possible.
	Pace time.Duration `yaml:"pace"`
}

// Topology points at the topology file.
type Topology struct {
	Path string `yaml:"path"`
}

// Metrics configures the Prometheus endpoint; an empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Health configures the gRPC health endpoint; an empty Addr disables it.
type Health struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default filled in.
func Default() Config {
	cc := coordinator.DefaultConfig()
	return Config{
		Simulation: Simulation{
			RetransmissionLimit:  cc.RetransmissionLimit,
			Lasting:              cc.Lasting,
			DestinationFetch:     "sequential",
			DataFaultThreshold:   cc.DataFaultThreshold,
			Replicas:             1,
			RouteCacheTTL:        core.DefaultRouteCacheTTL,
			RequestPayloadBytes:  cc.RequestPayloadBytes,
			ResponsePayloadBytes: cc.ResponsePayloadBytes,
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path over the defaults and validates the result. Environment
// overrides are applied separately with ApplyEnv.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults. Unknown keys are errors.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays MESHSIM_* variables, LOG_LEVEL/LOG_FORMAT and the
// tracing variables on cfg.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("MESHSIM_LASTING"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MESHSIM_LASTING: %w", err)
		}
		c.Simulation.Lasting = n
	}
	if v := os.Getenv("MESHSIM_RETRANSMISSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MESHSIM_RETRANSMISSIONS: %w", err)
		}
		c.Simulation.RetransmissionLimit = n
	}
	if v := os.Getenv("MESHSIM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MESHSIM_SEED: %w", err)
		}
		c.Simulation.Seed = n
	}
	if v := os.Getenv("MESHSIM_REPLICAS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MESHSIM_REPLICAS: %w", err)
		}
		c.Simulation.Replicas = n
	}
	if v := os.Getenv("MESHSIM_DESTINATION_FETCH"); v != "" {
		c.Simulation.DestinationFetch = v
	}
	if v := os.Getenv("MESHSIM_TOPOLOGY"); v != "" {
		c.Topology.Path = v
	}
	c.Logging = logging.ConfigFromEnv(c.Logging)
	c.Tracing = observability.TracingConfigFromEnv(c.Tracing)
	return c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	s := c.Simulation
	if s.RetransmissionLimit < 0 {
		return fmt.Errorf("simulation.retransmission_limit must be >= 0, got %d", s.RetransmissionLimit)
	}
	if s.Lasting == 0 {
		return fmt.Errorf("simulation.lasting must be positive")
	}
	if _, err := coordinator.ParseFetchMode(s.DestinationFetch); err != nil {
		return fmt.Errorf("simulation.destination_fetch: %w", err)
	}
	if s.DataFaultThreshold < 0 || s.DataFaultThreshold > 1 {
		return fmt.Errorf("simulation.data_fault_threshold must lie in [0,1], got %v", s.DataFaultThreshold)
	}
	if s.Replicas < 1 {
		return fmt.Errorf("simulation.replicas must be >= 1, got %d", s.Replicas)
	}
	if s.RequestPayloadBytes < 0 || s.ResponsePayloadBytes < 0 {
		return fmt.Errorf("simulation payload sizes must be >= 0")
	}
	if s.Pace < 0 || s.RouteCacheTTL < 0 {
		return fmt.Errorf("simulation durations must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must lie in [0,1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// Coordinator derives the coordinator parameters for replica number replica.
// Replicas get distinct seeds so parallel runs do not replay each other.
func (c Config) Coordinator(replica int) coordinator.Config {
	fetch, _ := coordinator.ParseFetchMode(c.Simulation.DestinationFetch)
	return coordinator.Config{
		RetransmissionLimit:  c.Simulation.RetransmissionLimit,
		Lasting:              c.Simulation.Lasting,
		Fetch:                fetch,
		Seed:                 c.ReplicaSeed(replica),
		DataFaultThreshold:   c.Simulation.DataFaultThreshold,
		RequestPayloadBytes:  c.Simulation.RequestPayloadBytes,
		ResponsePayloadBytes: c.Simulation.ResponsePayloadBytes,
	}
}

// ReplicaSeed is the seed of replica number replica.
func (c Config) ReplicaSeed(replica int) uint64 {
	return c.Simulation.Seed + uint64(replica)
}
