package workflow_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"voxeliser/internal/config"
	"voxeliser/internal/jobs"
	"voxeliser/internal/notifications"
	"voxeliser/internal/services"
	"voxeliser/internal/services/voxapi"
	"voxeliser/internal/services/voxelise"
	"voxeliser/internal/testsupport"
	"voxeliser/internal/workflow"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type harness struct {
	cfg      *config.Config
	api      *testsupport.FakeAPI
	client   *voxapi.Client
	pipeline *workflow.Pipeline
	manager  *workflow.Manager
	sleeps   *sleepRecorder
	notifier *recordingNotifier
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	api := testsupport.NewFakeAPI(t)
	base := []testsupport.ConfigOption{testsupport.WithAPI(api.URL()), testsupport.WithStubVoxelise()}
	cfg := testsupport.NewConfig(t, append(base, opts...)...)
	cfg.Workflow.RetryTime = 1

	client := voxapi.New(cfg.API.BaseURL)
	cli, err := voxelise.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("voxelise.NewFromConfig: %v", err)
	}
	h := &harness{cfg: cfg, api: api, client: client, sleeps: &sleepRecorder{}, notifier: &recordingNotifier{}}
	h.pipeline = workflow.NewPipeline(cfg, client, cli, nil,
		workflow.WithSleep(h.sleeps.sleep),
		workflow.WithNotifier(h.notifier),
	)
	h.manager = workflow.NewManager(cfg, client, h.pipeline, nil)
	return h
}

func (h *harness) job(id, name string) jobs.Job {
	return jobs.Job{ID: id, Source: jobs.SourceFile{Name: name, URL: "/uploads/" + name}}
}

func TestRunOnceProcessesValidAndSkipsInvalid(t *testing.T) {
	h := newHarness(t)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)
	broken := h.api.AddMesh("B", "teapot.obj", testsupport.ObjMesh)
	broken.FileURL = ""

	report, err := h.manager.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Fetched != 2 || report.Completed != 1 || report.Invalid != 1 || report.Aborted != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	outcome := report.Outcomes[0]
	if outcome.State != workflow.StateCompleted || outcome.JobID != "A" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.CorrelationID == "" {
		t.Fatal("expected correlation id")
	}

	info, err := os.Stat(outcome.Paths.OutputPath)
	if err != nil {
		t.Fatalf("stat volume: %v", err)
	}
	if info.Size() != voxelise.VolumeSize(h.cfg.Voxelise.Dimension) {
		t.Fatalf("expected %d byte volume, got %d", voxelise.VolumeSize(h.cfg.Voxelise.Dimension), info.Size())
	}

	mesh, _ := h.api.Mesh("A")
	if !mesh.Processed || mesh.VolumeID != outcome.VolumeID {
		t.Fatalf("expected mesh A processed and linked, got %+v", mesh)
	}
	if h.api.VolumeMesh(outcome.VolumeID) != "A" {
		t.Fatal("expected volume linked back to mesh A")
	}
	uploads := h.api.Uploads()
	if len(uploads) != 1 || uploads[0].Size != int(voxelise.VolumeSize(h.cfg.Voxelise.Dimension)) {
		t.Fatalf("unexpected uploads: %+v", uploads)
	}
	if b, _ := h.api.Mesh("B"); b.Processed {
		t.Fatal("invalid mesh must not be touched")
	}
	if len(h.sleeps.recorded()) != 0 {
		t.Fatalf("expected no backoff on clean run, got %v", h.sleeps.recorded())
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != notifications.EventJobCompleted {
		t.Fatalf("unexpected notifications: %v", h.notifier.events)
	}
}

func TestProcessSkipsTransformWhenVolumeExists(t *testing.T) {
	h := newHarness(t)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)
	job := h.job("A", "bunny.obj")
	paths := jobs.DerivePaths(h.cfg.Paths.InputDir, h.cfg.Paths.OutputDir, job, h.cfg.Voxelise.Dimension)
	testsupport.WriteFile(t, paths.OutputPath, voxelise.VolumeSize(h.cfg.Voxelise.Dimension))

	outcome := h.pipeline.Process(context.Background(), job)
	if !outcome.Succeeded() {
		t.Fatalf("expected completion, got %+v", outcome)
	}
	if !outcome.Skipped {
		t.Fatal("expected transform to be skipped")
	}
	if calls := testsupport.VoxeliseCalls(t, h.cfg); calls != 0 {
		t.Fatalf("expected voxelise not to run, got %d calls", calls)
	}
}

func TestUploadRetriesWithLinearBackoff(t *testing.T) {
	h := newHarness(t)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)
	h.api.FailUpload(2)

	outcome := h.pipeline.Process(context.Background(), h.job("A", "bunny.obj"))
	if !outcome.Succeeded() {
		t.Fatalf("expected completion after retries, got %+v", outcome)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	got := h.sleeps.recorded()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected backoff: got %v want %v", got, want)
	}
	if len(h.api.Uploads()) != 1 {
		t.Fatalf("expected one successful upload, got %d", len(h.api.Uploads()))
	}
}

func TestUploadExhaustionAbortsJob(t *testing.T) {
	h := newHarness(t)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)
	h.api.FailUpload(h.cfg.Workflow.MaxUploadAttempts)

	outcome := h.pipeline.Process(context.Background(), h.job("A", "bunny.obj"))
	if outcome.State != workflow.StateAborted || outcome.FailedStage != workflow.StageUpload {
		t.Fatalf("expected upload abort, got %+v", outcome)
	}
	if !errors.Is(outcome.Err, services.ErrUpload) {
		t.Fatalf("expected upload marker, got %v", outcome.Err)
	}
	if got := h.sleeps.recorded(); len(got) != h.cfg.Workflow.MaxUploadAttempts-1 {
		t.Fatalf("expected %d pauses, got %v", h.cfg.Workflow.MaxUploadAttempts-1, got)
	}
	if mesh, _ := h.api.Mesh("A"); mesh.Processed {
		t.Fatal("mesh must stay unprocessed after failed upload")
	}
	if _, err := os.Stat(outcome.Paths.OutputPath); err != nil {
		t.Fatalf("expected volume to remain for the next cycle: %v", err)
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0] != notifications.EventJobFailed {
		t.Fatalf("unexpected notifications: %v", h.notifier.events)
	}
}

func TestLinkStageRetriesUntilMarkSucceeds(t *testing.T) {
	h := newHarness(t)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)
	h.api.FailMark(2)

	outcome := h.pipeline.Process(context.Background(), h.job("A", "bunny.obj"))
	if !outcome.Succeeded() {
		t.Fatalf("expected completion, got %+v", outcome)
	}
	if got := h.sleeps.recorded(); len(got) != 2 {
		t.Fatalf("expected two link retries, got %v", got)
	}
	if mesh, _ := h.api.Mesh("A"); !mesh.Processed {
		t.Fatal("expected mesh marked processed")
	}
}

func TestLinkExhaustionAbortsJob(t *testing.T) {
	h := newHarness(t)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)
	h.api.FailLink(h.cfg.Workflow.MaxLinkingAttempts)

	outcome := h.pipeline.Process(context.Background(), h.job("A", "bunny.obj"))
	if outcome.FailedStage != workflow.StageLink || !errors.Is(outcome.Err, services.ErrLink) {
		t.Fatalf("expected link abort, got %+v", outcome)
	}
	if outcome.VolumeID == "" {
		t.Fatal("expected uploaded volume id on link failure")
	}
}

func TestDownloadFailureAbortsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	outcome := h.pipeline.Process(context.Background(), h.job("A", "missing.obj"))
	if outcome.State != workflow.StateAborted || outcome.FailedStage != workflow.StageDownload {
		t.Fatalf("expected download abort, got %+v", outcome)
	}
	if !errors.Is(outcome.Err, services.ErrDownload) {
		t.Fatalf("expected download marker, got %v", outcome.Err)
	}
	if len(h.sleeps.recorded()) != 0 {
		t.Fatal("download must not be retried")
	}
}

func TestTransformFailureAbortsJob(t *testing.T) {
	h := newHarness(t, testsupport.WithFailingVoxelise())
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)

	outcome := h.pipeline.Process(context.Background(), h.job("A", "bunny.obj"))
	if outcome.FailedStage != workflow.StageTransform || !errors.Is(outcome.Err, services.ErrExternalTool) {
		t.Fatalf("expected transform abort, got %+v", outcome)
	}
	if len(h.api.Uploads()) != 0 {
		t.Fatal("expected no upload after transform failure")
	}
}

func TestRunOnceFetchFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.api.FailFetch(1)

	_, err := h.manager.RunOnce(context.Background())
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	status := h.manager.Status()
	if status.Cycles != 1 || status.LastError == "" {
		t.Fatalf("expected failed cycle in status, got %+v", status)
	}
}

func TestRunReturnsConfigurationError(t *testing.T) {
	h := newHarness(t)
	h.cfg.Paths.OutputDir = ""
	manager := workflow.NewManager(h.cfg, h.client, h.pipeline, nil,
		workflow.WithPollSleep(func(context.Context, time.Duration) error { return nil }))

	err := manager.Run(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunContinuesPastFailuresUntilCancelled(t *testing.T) {
	h := newHarness(t)
	h.api.FailFetch(1)
	h.api.AddMesh("A", "bunny.obj", testsupport.ObjMesh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var intervals []time.Duration
	manager := workflow.NewManager(h.cfg, h.client, h.pipeline, nil,
		workflow.WithPollSleep(func(ctx context.Context, d time.Duration) error {
			intervals = append(intervals, d)
			if len(intervals) > 3 {
				cancel()
			}
			return ctx.Err()
		}))

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	status := manager.Status()
	if status.Cycles != 3 {
		t.Fatalf("expected 3 cycles, got %d", status.Cycles)
	}
	if status.Completed != 1 {
		t.Fatalf("expected job completed after fetch recovered, got %+v", status)
	}
	if status.LastOutcome == nil || status.LastOutcome.StateLabel != "Completed" {
		t.Fatalf("unexpected last outcome: %+v", status.LastOutcome)
	}
	if status.Running {
		t.Fatal("expected loop to report stopped")
	}
	if intervals[0] != h.cfg.PollInterval() {
		t.Fatalf("expected poll interval %v, got %v", h.cfg.PollInterval(), intervals[0])
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	blocked := make(chan struct{}, 1)
	manager := workflow.NewManager(h.cfg, h.client, h.pipeline, nil,
		workflow.WithPollSleep(func(ctx context.Context, _ time.Duration) error {
			select {
			case blocked <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		}))

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	<-blocked
	if !manager.Status().Running {
		t.Fatal("expected running status")
	}
	manager.Stop()
	if manager.Err() != nil {
		t.Fatalf("unexpected loop error: %v", manager.Err())
	}
	if manager.Status().Running {
		t.Fatal("expected stopped status")
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"linked_marked": "Linked Marked",
		"upload":        "Upload",
		"":              "",
	}
	for in, want := range tests {
		if got := workflow.Label(in); got != want {
			t.Fatalf("Label(%q) = %q, want %q", in, got, want)
		}
	}
}
