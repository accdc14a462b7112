package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/rules"
)

func TestDefaultsMatchReferenceModel(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}

	if cfg.Simulation.TickPeriod != time.Second {
		t.Errorf("TickPeriod = %v, want 1s", cfg.Simulation.TickPeriod)
	}
	if cfg.Simulation.FeedDelay != time.Second {
		t.Errorf("FeedDelay = %v, want 1s", cfg.Simulation.FeedDelay)
	}
	if cfg.Simulation.AlertDuration != 3*time.Second {
		t.Errorf("AlertDuration = %v, want 3s", cfg.Simulation.AlertDuration)
	}
	if cfg.Simulation.HistorySize != 100 {
		t.Errorf("HistorySize = %d, want 100", cfg.Simulation.HistorySize)
	}
	if got, want := cfg.DigesterParams(), digester.DefaultParams(); got != want {
		t.Errorf("DigesterParams = %+v, want %+v", got, want)
	}
	if got, want := cfg.GridRule(), rules.DefaultGrid(); got != want {
		t.Errorf("GridRule = %+v, want %+v", got, want)
	}
	rr := cfg.RewardRule()
	if len(rr.Thresholds) != 4 || rr.Thresholds[0] != 25 || rr.Thresholds[3] != 90 {
		t.Errorf("Thresholds = %v", rr.Thresholds)
	}
	if got := cfg.InitialState(); got != digester.InitialState() {
		t.Errorf("InitialState = %+v, want %+v", got, digester.InitialState())
	}
}

func TestLoadMergesUserFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	data := []byte("simulation:\n  tick_period: 250ms\nrewards:\n  thresholds: [10, 20]\nserver:\n  addr: \":9090\"\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.TickPeriod != 250*time.Millisecond {
		t.Errorf("TickPeriod = %v, want 250ms", cfg.Simulation.TickPeriod)
	}
	if cfg.Simulation.FeedDelay != time.Second {
		t.Errorf("FeedDelay should keep its default, got %v", cfg.Simulation.FeedDelay)
	}
	if got := cfg.Rewards.Thresholds; len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Errorf("Thresholds = %v, want [10 20]", got)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	data := []byte("simulation:\n  history_size: 0\nrewards:\n  thresholds: [50, 25]\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"history_size", "rewards"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Server.Addr = ":7070"

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load written file: %v", err)
	}
	if back.Server.Addr != ":7070" || back.Simulation.TickPeriod != time.Second {
		t.Errorf("round trip lost values: %+v", back.Server)
	}
}
