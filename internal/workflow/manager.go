package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voxeliser/internal/config"
	"voxeliser/internal/jobs"
	"voxeliser/internal/logging"
	"voxeliser/internal/notifications"
	"voxeliser/internal/retry"
	"voxeliser/internal/services"
	"voxeliser/internal/services/voxapi"
	"voxeliser/internal/services/voxelise"
)

// Manager is the poll loop feeding fetched jobs to a Pipeline.
type Manager struct {
	cfg          *config.Config
	source       Source
	pipeline     *Pipeline
	logger       *slog.Logger
	pollInterval time.Duration
	sleep        func(context.Context, time.Duration) error

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	status  StatusSummary
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPollSleep replaces the pause before each cycle.
func WithPollSleep(fn func(context.Context, time.Duration) error) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// NewManager constructs a poll loop over source and pipeline.
func NewManager(cfg *config.Config, source Source, pipeline *Pipeline, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:          cfg,
		source:       source,
		pipeline:     pipeline,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		pollInterval: cfg.PollInterval(),
		sleep:        retry.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if pipeline != nil {
		pipeline.onStage = m.recordStage
	}
	return m
}

// NewFromConfig wires the remote API client, the voxelise executable and
// notifications into a Manager.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	client := voxapi.NewFromConfig(cfg, logger)
	cli, err := voxelise.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "bootstrap", "voxelise", "invalid executable", err)
	}
	pipeline := NewPipeline(cfg, client, cli, logger, WithNotifier(notifications.NewService(cfg)))
	return NewManager(cfg, client, pipeline, logger), nil
}

// Run polls until ctx is cancelled. It returns nil on cancellation and the
// error when preparing the working directories fails for configuration
// reasons.
func (m *Manager) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	m.logger.Info("poll loop started",
		logging.Duration("poll_interval", m.pollInterval),
		logging.String("api", m.cfg.API.BaseURL),
		logging.String(logging.FieldEventType, "poll_loop_started"),
	)
	for {
		if err := m.sleep(ctx, m.pollInterval); err != nil {
			m.logger.Info("poll loop stopped", logging.String(logging.FieldEventType, "poll_loop_stopped"))
			return nil
		}
		if _, err := m.RunOnce(ctx); err != nil {
			if errors.Is(err, services.ErrConfiguration) {
				m.logger.Error("poll loop cannot continue",
					logging.Error(err),
					logging.String(logging.FieldEventType, "poll_loop_fatal"),
					logging.String(logging.FieldErrorHint, "set paths.input_dir and paths.output_dir"),
				)
				return err
			}
			if ctx.Err() != nil {
				m.logger.Info("poll loop stopped", logging.String(logging.FieldEventType, "poll_loop_stopped"))
				return nil
			}
		}
	}
}

// Start runs the poll loop in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.runErr = nil
	m.running = true
	m.mu.Unlock()

	go func() {
		err := m.Run(runCtx)
		m.mu.Lock()
		m.runErr = err
		m.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels a loop started with Start and waits for it to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when a loop started with Start returns. It is nil when the
// loop is not running.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Err returns the error of the last loop started with Start.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runErr
}

// RunOnce executes a single poll cycle. Job failures are reported in the
// CycleReport; the error covers only cycle-level failures (directories,
// fetch).
func (m *Manager) RunOnce(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	started := time.Now()

	if err := m.cfg.EnsureDirectories(); err != nil {
		m.finishCycle(started, report, err)
		if errors.Is(err, services.ErrConfiguration) {
			return report, err
		}
		m.logger.Warn("unable to prepare working directories; skipping cycle",
			logging.Error(err),
			logging.String(logging.FieldEventType, "cycle_skipped"),
			logging.String(logging.FieldErrorHint, "check permissions on paths.input_dir and paths.output_dir"),
		)
		return report, services.Wrap(services.ErrTransient, "bootstrap", "ensure directories", "", err)
	}

	records, err := m.source.FetchPendingJobs(ctx)
	if err != nil {
		m.finishCycle(started, report, err)
		if ctx.Err() == nil {
			m.logger.Warn("failed to fetch pending meshes; retrying next cycle",
				logging.Error(err),
				logging.String(logging.FieldEventType, "fetch_failed"),
				logging.String(logging.FieldErrorHint, "check api.base_url and network reachability"),
			)
		}
		return report, err
	}
	report.Fetched = len(records)
	if len(records) == 0 {
		m.logger.Debug("no pending meshes")
		m.finishCycle(started, report, nil)
		return report, nil
	}
	m.logger.Info("fetched pending meshes",
		logging.Int("count", len(records)),
		logging.String(logging.FieldEventType, "batch_fetched"),
	)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		job, err := jobs.Validate(rec)
		if err != nil {
			report.Invalid++
			m.logger.Warn("mesh failed validation; skipping",
				logging.String(logging.FieldJobID, rec.Identifier()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_invalid"),
				logging.String(logging.FieldErrorKind, string(services.Kind(err))),
			)
			continue
		}
		outcome := m.pipeline.Process(ctx, job)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Succeeded() {
			report.Completed++
		} else {
			report.Aborted++
		}
		m.recordOutcome(outcome)
	}

	m.finishCycle(started, report, nil)
	m.logger.Info("cycle finished",
		logging.Int("fetched", report.Fetched),
		logging.Int("completed", report.Completed),
		logging.Int("aborted", report.Aborted),
		logging.Int("invalid", report.Invalid),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "cycle_finished"),
	)
	return report, nil
}
