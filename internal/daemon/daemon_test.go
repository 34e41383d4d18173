package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"voxeliser/internal/config"
	"voxeliser/internal/daemon"
	"voxeliser/internal/services"
	"voxeliser/internal/services/voxapi"
	"voxeliser/internal/testsupport"
	"voxeliser/internal/workflow"
)

func blockingSleep(ctx context.Context, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func newDaemon(t *testing.T, cfg *config.Config, sleep func(context.Context, time.Duration) error) *daemon.Daemon {
	t.Helper()
	client := voxapi.New(cfg.API.BaseURL)
	mgr := workflow.NewManager(cfg, client, workflow.NewPipeline(cfg, client, nil, nil), nil, workflow.WithPollSleep(sleep))
	d, err := daemon.New(cfg, nil, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, blockingSleep)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("expected daemon to report running")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, blockingSleep)
	second := newDaemon(t, cfg, blockingSleep)

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected lock contention error")
	}
	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("expected start after release, got %v", err)
	}
}

func TestDaemonDoneOnFatalConfiguration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.OutputDir = ""
	d := newDaemon(t, cfg, func(ctx context.Context, _ time.Duration) error { return ctx.Err() })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("expected poll loop to exit")
	}
	if !errors.Is(d.Err(), services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", d.Err())
	}
}

func TestDaemonServesStatusAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	d := newDaemon(t, cfg, blockingSleep)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected listener address")
	}

	resp, err := http.Get("http://" + addr + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected running daemon and loop, got %+v", status)
	}
	if status.APIBaseURL != cfg.API.BaseURL {
		t.Fatalf("unexpected api base url %q", status.APIBaseURL)
	}
}
