package workflow

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"voxeliser/internal/jobs"
	"voxeliser/internal/services/voxelise"
)

// Source lists jobs waiting to be processed.
type Source interface {
	FetchPendingJobs(ctx context.Context) ([]jobs.Record, error)
}

// Remote is the part of the content API the pipeline writes to.
type Remote interface {
	Download(ctx context.Context, ref, dest string) (int64, error)
	UploadVolume(ctx context.Context, path string) (string, error)
	LinkVolume(ctx context.Context, meshID, volumeID string) error
	MarkProcessed(ctx context.Context, meshID string) error
}

// Transformer converts a mesh file into a volume file.
type Transformer interface {
	EnsureTransformed(ctx context.Context, input, output string, dimension int) (voxelise.Result, error)
}

// State is a job's position in the pipeline.
type State string

const (
	StateValidated    State = "validated"
	StateDownloaded   State = "downloaded"
	StateTransformed  State = "transformed"
	StateUploaded     State = "uploaded"
	StateLinkedMarked State = "linked_marked"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
)

// Stage names the step that is running or that failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageDownload  Stage = "download"
	StageTransform Stage = "transform"
	StageUpload    Stage = "upload"
	StageLink      Stage = "link"
)

// Label renders a state or stage for humans, e.g. "Linked Marked".
func Label(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return ""
	}
	return cases.Title(language.Und).String(s)
}

// Outcome is the result of processing one job.
type Outcome struct {
	JobID         string
	CorrelationID string
	State         State
	FailedStage   Stage
	Paths         jobs.Paths
	VolumeID      string
	Skipped       bool // transform skipped because the volume already existed
	Err           error
	Duration      time.Duration
}

// Succeeded reports whether the job completed.
func (o Outcome) Succeeded() bool { return o.State == StateCompleted }

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Fetched   int
	Invalid   int
	Completed int
	Aborted   int
	Outcomes  []Outcome
}
