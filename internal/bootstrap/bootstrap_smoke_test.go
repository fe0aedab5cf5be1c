package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})

	body := "server:\n  port: 18080\nlog:\n  log_level: error\n  log_dir: " +
		filepath.Join(dir, "logs") + "\n"
	if err := os.WriteFile(".config.yaml", []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init",
		"metrics:register",
		"eventbus:init",
		"cache:init",
		"provider:init",
		"core:init",
		"pipeline:init",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
	}
}

func TestExecuteInitGraph(t *testing.T) {
	writeTestConfig(t)

	state := &appState{}
	if err := executeInitSteps(context.Background(), InitGraph(), state); err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	defer state.logger.Close()
	defer func() {
		if state.cache != nil {
			_ = state.cache.Close(context.Background())
		}
	}()

	if state.config == nil {
		t.Fatal("config is nil after init")
	}
	if state.logger == nil {
		t.Fatal("logger is nil after init")
	}
	if state.limiter == nil || state.breaker == nil || state.manager == nil {
		t.Fatal("core components not initialised")
	}
	if state.detector == nil {
		t.Fatal("detector is nil after init")
	}
	if state.orchestrator == nil {
		t.Fatal("orchestrator is nil after init")
	}
}

func TestExecuteInitSteps_UnsatisfiedDependency(t *testing.T) {
	steps := []initStep{
		{
			ID:        "pipeline:init",
			DependsOn: []string{"core:init"},
			Execute:   func(context.Context, *appState) error { return nil },
		},
	}
	if err := executeInitSteps(context.Background(), steps, &appState{}); err == nil {
		t.Fatal("expected dependency error")
	}
}
