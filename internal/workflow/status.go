package workflow

import "time"

// OutcomeSummary is the serializable view of an Outcome.
type OutcomeSummary struct {
	JobID         string        `json:"job_id"`
	CorrelationID string        `json:"correlation_id"`
	State         State         `json:"state"`
	StateLabel    string        `json:"state_label"`
	FailedStage   Stage         `json:"failed_stage,omitempty"`
	VolumeID      string        `json:"volume_id,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running      bool            `json:"running"`
	Cycles       int             `json:"cycles"`
	Completed    int             `json:"completed"`
	Aborted      int             `json:"aborted"`
	Invalid      int             `json:"invalid"`
	LastCycleAt  time.Time       `json:"last_cycle_at"`
	LastError    string          `json:"last_error,omitempty"`
	CurrentJob   string          `json:"current_job,omitempty"`
	CurrentStage string          `json:"current_stage,omitempty"`
	LastOutcome  *OutcomeSummary `json:"last_outcome,omitempty"`
}

// Status returns the latest workflow information.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := m.status
	summary.Running = m.running
	if m.status.LastOutcome != nil {
		copied := *m.status.LastOutcome
		summary.LastOutcome = &copied
	}
	return summary
}

func (m *Manager) setRunning(running bool) {
	m.mu.Lock()
	m.running = running
	m.mu.Unlock()
}

func (m *Manager) recordStage(jobID string, stage Stage) {
	m.mu.Lock()
	m.status.CurrentJob = jobID
	m.status.CurrentStage = Label(string(stage))
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(outcome Outcome) {
	summary := &OutcomeSummary{
		JobID:         outcome.JobID,
		CorrelationID: outcome.CorrelationID,
		State:         outcome.State,
		StateLabel:    Label(string(outcome.State)),
		FailedStage:   outcome.FailedStage,
		VolumeID:      outcome.VolumeID,
		Duration:      outcome.Duration,
		FinishedAt:    time.Now(),
	}
	if outcome.Err != nil {
		summary.Error = outcome.Err.Error()
	}
	m.mu.Lock()
	m.status.LastOutcome = summary
	m.status.CurrentJob = ""
	m.status.CurrentStage = ""
	m.mu.Unlock()
}

func (m *Manager) finishCycle(started time.Time, report CycleReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Cycles++
	m.status.Completed += report.Completed
	m.status.Aborted += report.Aborted
	m.status.Invalid += report.Invalid
	m.status.LastCycleAt = started
	m.status.CurrentJob = ""
	m.status.CurrentStage = ""
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
}
