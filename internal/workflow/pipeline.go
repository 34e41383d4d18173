package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voxeliser/internal/config"
	"voxeliser/internal/jobs"
	"voxeliser/internal/logging"
	"voxeliser/internal/notifications"
	"voxeliser/internal/retry"
	"voxeliser/internal/services"
)

// Pipeline runs single jobs through download, transform, upload and link.
type Pipeline struct {
	cfg         *config.Config
	remote      Remote
	transformer Transformer
	notifier    notifications.Service
	logger      *slog.Logger

	sleep   func(context.Context, time.Duration) error
	onStage func(jobID string, stage Stage)
}

// PipelineOption configures optional Pipeline behavior.
type PipelineOption func(*Pipeline)

// WithNotifier sets the notification service used for job outcomes.
func WithNotifier(n notifications.Service) PipelineOption {
	return func(p *Pipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithSleep replaces the retry pause (tests record backoff through it).
func WithSleep(fn func(context.Context, time.Duration) error) PipelineOption {
	return func(p *Pipeline) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// NewPipeline constructs a Pipeline.
func NewPipeline(cfg *config.Config, remote Remote, transformer Transformer, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		remote:      remote,
		transformer: transformer,
		notifier:    notifications.NewService(nil),
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		sleep:       retry.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs job to completion or to the first unrecoverable stage
// failure. It never panics on job data and never rolls back side effects.
func (p *Pipeline) Process(ctx context.Context, job jobs.Job) Outcome {
	start := time.Now()
	correlationID := uuid.NewString()
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRequestID(ctx, correlationID)
	logger := logging.WithContext(ctx, p.logger)

	outcome := Outcome{
		JobID:         job.ID,
		CorrelationID: correlationID,
		State:         StateValidated,
		Paths:         jobs.DerivePaths(p.cfg.Paths.InputDir, p.cfg.Paths.OutputDir, job, p.cfg.Voxelise.Dimension),
	}
	logger.Info("processing job",
		logging.String("file", job.Source.Name),
		logging.String("input_path", outcome.Paths.InputPath),
		logging.String("output_path", outcome.Paths.OutputPath),
		logging.String(logging.FieldEventType, "job_started"),
	)

	finish := func(stage Stage, err error) Outcome {
		outcome.Duration = time.Since(start)
		if err != nil {
			outcome.State = StateAborted
			outcome.FailedStage = stage
			outcome.Err = err
			p.logAbort(ctx, logger, job, outcome)
			return outcome
		}
		outcome.State = StateCompleted
		p.logCompleted(ctx, logger, job, outcome)
		return outcome
	}

	// Download
	stageCtx := p.enterStage(ctx, job.ID, StageDownload)
	n, err := p.remote.Download(stageCtx, job.Source.URL, outcome.Paths.InputPath)
	if err != nil {
		return finish(StageDownload, ensureMarker(services.ErrDownload, StageDownload, "download mesh", err))
	}
	outcome.State = StateDownloaded
	logger.Debug("mesh downloaded", logging.Int64("bytes", n))

	// Transform
	stageCtx = p.enterStage(ctx, job.ID, StageTransform)
	res, err := p.transformer.EnsureTransformed(stageCtx, outcome.Paths.InputPath, outcome.Paths.OutputPath, p.cfg.Voxelise.Dimension)
	if err != nil {
		return finish(StageTransform, ensureMarker(services.ErrExternalTool, StageTransform, "voxelise mesh", err))
	}
	outcome.State = StateTransformed
	outcome.Skipped = res.Skipped
	if !res.Skipped {
		logger.Info("mesh voxelised",
			logging.Int64("bytes", res.Bytes),
			logging.Duration("elapsed", res.Duration),
		)
	}

	// Upload
	stageCtx = p.enterStage(ctx, job.ID, StageUpload)
	var volumeID string
	_, err = retry.Do(stageCtx, p.policy(p.cfg.Workflow.MaxUploadAttempts, logger, StageUpload), func(ctx context.Context, _ int) error {
		id, err := p.remote.UploadVolume(ctx, outcome.Paths.OutputPath)
		if err != nil {
			return err
		}
		volumeID = id
		return nil
	})
	if err != nil {
		return finish(StageUpload, ensureMarker(services.ErrUpload, StageUpload, "upload volume", err))
	}
	outcome.State = StateUploaded
	outcome.VolumeID = volumeID
	logger.Info("volume uploaded", logging.String("volume_id", volumeID))

	// Link and mark processed; both must succeed within one attempt.
	stageCtx = p.enterStage(ctx, job.ID, StageLink)
	_, err = retry.Do(stageCtx, p.policy(p.cfg.Workflow.MaxLinkingAttempts, logger, StageLink), func(ctx context.Context, _ int) error {
		if err := p.remote.LinkVolume(ctx, job.ID, volumeID); err != nil {
			return err
		}
		return p.remote.MarkProcessed(ctx, job.ID)
	})
	if err != nil {
		return finish(StageLink, ensureMarker(services.ErrLink, StageLink, "link volume", err))
	}
	outcome.State = StateLinkedMarked

	return finish("", nil)
}

func (p *Pipeline) enterStage(ctx context.Context, jobID string, stage Stage) context.Context {
	if p.onStage != nil {
		p.onStage(jobID, stage)
	}
	return services.WithStage(ctx, string(stage))
}

func (p *Pipeline) policy(maxAttempts int, logger *slog.Logger, stage Stage) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		RetryTime:   p.cfg.RetryTime(),
		Sleep:       p.sleep,
		// Cancellation ends the stage immediately.
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("stage attempt failed; retrying",
				logging.String(logging.FieldStage, string(stage)),
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", maxAttempts),
				logging.Duration("backoff", delay),
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_retry"),
			)
		},
	}
}

// ensureMarker tags err with marker unless it already carries it.
func ensureMarker(marker error, stage Stage, operation string, err error) error {
	if errors.Is(err, marker) {
		return err
	}
	return services.Wrap(marker, string(stage), operation, "", err)
}

func (p *Pipeline) logCompleted(ctx context.Context, logger *slog.Logger, job jobs.Job, outcome Outcome) {
	logger.Info("job completed",
		logging.String("volume_id", outcome.VolumeID),
		logging.Bool("transform_skipped", outcome.Skipped),
		logging.Duration("elapsed", outcome.Duration),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	if err := p.notifier.Publish(ctx, notifications.EventJobCompleted, notifications.Payload{
		"jobID":    job.ID,
		"file":     job.Source.Name,
		"volumeID": outcome.VolumeID,
	}); err != nil {
		logger.Debug("job completion notification failed", logging.Error(err))
	}
}

func (p *Pipeline) logAbort(ctx context.Context, logger *slog.Logger, job jobs.Job, outcome Outcome) {
	if errors.Is(outcome.Err, context.Canceled) {
		logger.Info("job interrupted by shutdown",
			logging.String("failed_stage", string(outcome.FailedStage)),
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		return
	}
	details := services.Details(outcome.Err)
	attrs := []logging.Attr{
		logging.String("failed_stage", string(outcome.FailedStage)),
		logging.String("reached_state", string(previousState(outcome.FailedStage))),
		logging.Duration("elapsed", outcome.Duration),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.String(logging.FieldErrorHint, stageHint(outcome.FailedStage)),
		logging.Alert("job_aborted"),
		logging.Error(outcome.Err),
		logging.String(logging.FieldEventType, "job_aborted"),
	}
	logger.Error("job aborted", logging.Args(attrs...)...)

	if err := p.notifier.Publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"jobID": job.ID,
		"stage": string(outcome.FailedStage),
		"error": details.Message,
	}); err != nil {
		logger.Debug("job failure notification failed", logging.Error(err))
	}
}

func previousState(stage Stage) State {
	switch stage {
	case StageTransform:
		return StateDownloaded
	case StageUpload:
		return StateTransformed
	case StageLink:
		return StateUploaded
	default:
		return StateValidated
	}
}

func stageHint(stage Stage) string {
	switch stage {
	case StageDownload:
		return "check the mesh file URL and API reachability"
	case StageTransform:
		return "check the voxelise binary and the mesh file"
	case StageUpload:
		return "check API upload endpoint; the job is retried next cycle"
	case StageLink:
		return "volume was uploaded but not linked; an orphaned volume record may remain"
	default:
		return ""
	}
}
