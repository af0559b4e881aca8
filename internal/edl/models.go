package edl

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"

	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"

	TotalSteps = 4

	// Label recorded as error_step when the outbound handoff itself fails.
	ErrorStepHandoff = "pipeline_invocation"

	// current_step label before the job is started.
	StepLabelInitializing = "initializing"
)

// StepDef is one stage of the canonical four-step analysis pipeline.
type StepDef struct {
	Number    int
	AgentName string
	StepName  string
	Label     string
}

// CanonicalSteps returns the fixed pipeline stages in execution order.
func CanonicalSteps() []StepDef {
	return []StepDef{
		{Number: 1, AgentName: "SCRIPT_ANALYZER", StepName: "Script Analysis", Label: "script_analysis"},
		{Number: 2, AgentName: "CONTENT_MATCHER", StepName: "Content Matching", Label: "content_matching"},
		{Number: 3, AgentName: "EDL_GENERATOR", StepName: "EDL Generation", Label: "edl_generation"},
		{Number: 4, AgentName: "SHOT_LIST_GENERATOR", StepName: "Shot List Generation", Label: "shot_list_generation"},
	}
}

// StepLabel returns the current_step label for a step number, or "unknown".
func StepLabel(number int) string {
	for _, def := range CanonicalSteps() {
		if def.Number == number {
			return def.Label
		}
	}
	return "unknown"
}

type User struct {
	ID          string    `json:"id"`
	APIToken    string    `json:"-"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// MediaAsset is a previously uploaded video available to a project.
type MediaAsset struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	StorageLocation string    `json:"storage_location"`
	OriginalName    string    `json:"original_name"`
	DurationS       float64   `json:"duration_s,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Job is one request to generate an EDL for a project.
type Job struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	UserIntent    string `json:"user_intent"`
	ScriptContent string `json:"script_content,omitempty"`
	CurrentStep   string `json:"current_step"`
	TotalSteps    int    `json:"total_steps"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ErrorStep     string `json:"error_step,omitempty"`

	// Result summary, populated only on completion.
	FinalDurationS    float64 `json:"final_duration_s,omitempty"`
	ScriptCoveragePct float64 `json:"script_coverage_pct,omitempty"`
	TotalChunks       int     `json:"total_chunks,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can accept further transitions.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Step is one of the four ordered stages of a job.
type Step struct {
	JobID       string     `json:"job_id"`
	StepNumber  int        `json:"step_number"`
	AgentName   string     `json:"agent_name"`
	StepName    string     `json:"step_name"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PreciseTiming holds source-relative bounds in seconds.
type PreciseTiming struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// Shot is one decided segment of source footage destined for the timeline.
// The JSON shape matches the shot list the pipeline delivers at completion.
type Shot struct {
	ID               string        `json:"-"`
	JobID            string        `json:"-"`
	ChunkID          string        `json:"chunk_id"`
	ShotNumber       int           `json:"shot_number"`
	PreciseTiming    PreciseTiming `json:"precise_timing"`
	ScriptSegment    string        `json:"script_segment"`
	ContentPreview   string        `json:"content_preview"`
	NarrativePurpose string        `json:"narrative_purpose"`
	CutReasoning     string        `json:"cut_reasoning"`
	QualityNotes     string        `json:"quality_notes"`
}

// ResultSummary is the completion payload recorded on the job row.
type ResultSummary struct {
	FinalDurationS    float64 `json:"final_duration_s"`
	ScriptCoveragePct float64 `json:"script_coverage_pct"`
	TotalChunks       int     `json:"total_chunks"`
}

func NewID() string {
	return uuid.NewString()
}
