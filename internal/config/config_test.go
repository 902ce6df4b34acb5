package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/mesh-metering-simulator/internal/coordinator"
)

func TestParseOverlaysDefaults(t *testing.T) {
	doc := `
simulation:
  lasting: 50
  destination_fetch: random
  seed: 9
  route_cache_ttl: 30s
topology:
  path: configs/linear.yaml
logging:
  level: debug
metrics:
  addr: ":9100"
`
	cfg, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default()
	want.Simulation.Lasting = 50
	want.Simulation.DestinationFetch = "random"
	want.Simulation.Seed = 9
	want.Simulation.RouteCacheTTL = 30 * time.Second
	want.Topology.Path = "configs/linear.yaml"
	want.Logging.Level = "debug"
	want.Metrics.Addr = ":9100"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsUnknownAndInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "simulation:\n  lastin: 3\n",
		"zero lasting":  "simulation:\n  lasting: 0\n",
		"bad fetch":     "simulation:\n  destination_fetch: nearest\n",
		"bad threshold": "simulation:\n  data_fault_threshold: 1.5\n",
		"no replicas":   "simulation:\n  replicas: 0\n",
		"negative retx": "simulation:\n  retransmission_limit: -1\n",
	}
	for name, doc := range cases {
		if _, err := Parse(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshsim.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  replicas: 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Replicas != 4 {
		t.Fatalf("replicas = %d, want 4", cfg.Simulation.Replicas)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MESHSIM_LASTING", "12")
	t.Setenv("MESHSIM_RETRANSMISSIONS", "5")
	t.Setenv("MESHSIM_SEED", "77")
	t.Setenv("MESHSIM_TOPOLOGY", "/tmp/topology.yaml")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Simulation.Lasting != 12 || cfg.Simulation.RetransmissionLimit != 5 || cfg.Simulation.Seed != 77 {
		t.Fatalf("simulation overrides not applied: %+v", cfg.Simulation)
	}
	if cfg.Topology.Path != "/tmp/topology.yaml" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}

	t.Setenv("MESHSIM_LASTING", "many")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatalf("expected error for non-numeric MESHSIM_LASTING")
	}
}

func TestCoordinatorConfigPerReplica(t *testing.T) {
	cfg := Default()
	cfg.Simulation.DestinationFetch = "random"
	cfg.Simulation.Seed = 100

	a, b := cfg.Coordinator(0), cfg.Coordinator(1)
	if a.Fetch != coordinator.FetchRandom {
		t.Fatalf("fetch = %v, want random", a.Fetch)
	}
	if a.Seed == b.Seed {
		t.Fatalf("replicas share seed %d", a.Seed)
	}
	if a.Lasting != cfg.Simulation.Lasting || a.RetransmissionLimit != cfg.Simulation.RetransmissionLimit {
		t.Fatalf("unexpected coordinator config %+v", a)
	}
}
