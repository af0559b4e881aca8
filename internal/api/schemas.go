package api

import (
	"time"

	"github.com/cutroom/cutroom-server/internal/edl"
	"github.com/cutroom/cutroom-server/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State      string `json:"state"`
	ActiveJobs int    `json:"active_jobs"`
}

type GenerateEDLRequest struct {
	UserIntent    string `json:"userIntent"`
	ScriptContent string `json:"scriptContent,omitempty"`
}

type GenerateEDLResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type JobProgressResponse struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type JobStepResponse struct {
	AgentName   string  `json:"agent_name"`
	Status      string  `json:"status"`
	StartedAt   *string `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

type JobErrorResponse struct {
	Message string `json:"message"`
	Step    string `json:"step"`
}

type JobResultsResponse struct {
	FinalDuration     float64 `json:"finalDuration"`
	ScriptCoverage    float64 `json:"scriptCoverage"`
	TotalChunks       int     `json:"totalChunks"`
	CanCreateTimeline bool    `json:"canCreateTimeline"`
}

type JobStatusResponse struct {
	JobID       string              `json:"jobId"`
	Status      string              `json:"status"`
	CurrentStep string              `json:"currentStep"`
	Progress    JobProgressResponse `json:"progress"`
	Steps       []JobStepResponse   `json:"steps"`
	Error       *JobErrorResponse   `json:"error,omitempty"`
	Results     *JobResultsResponse `json:"results,omitempty"`
}

type ShotResponse struct {
	ChunkID          string            `json:"chunk_id"`
	ShotNumber       int               `json:"shot_number"`
	PreciseTiming    edl.PreciseTiming `json:"precise_timing"`
	ScriptSegment    string            `json:"script_segment,omitempty"`
	ContentPreview   string            `json:"content_preview,omitempty"`
	NarrativePurpose string            `json:"narrative_purpose,omitempty"`
	CutReasoning     string            `json:"cut_reasoning,omitempty"`
	QualityNotes     string            `json:"quality_notes,omitempty"`
}

type ShotsResponse struct {
	JobID string         `json:"job_id"`
	Shots []ShotResponse `json:"shots"`
}

type ApplyEDLRequest struct {
	JobID    string `json:"jobId"`
	Strategy string `json:"strategy,omitempty"`
	TrackID  string `json:"trackId,omitempty"`
}

type ApplyEDLResponse struct {
	JobID      string                  `json:"jobId"`
	Applied    int                     `json:"applied"`
	Summary    timeline.CompileSummary `json:"summary"`
	Message    string                  `json:"message"`
	DurationMs int64                   `json:"timeline_duration_ms"`
}

type TimelineTrackResponse struct {
	ID    string           `json:"id"`
	Items []*timeline.Item `json:"items"`
}

type TimelineResponse struct {
	Tracks     []TimelineTrackResponse `json:"tracks"`
	DurationMs int64                   `json:"duration_ms"`
}

type ExportRequest struct {
	JobID       string  `json:"jobId"`
	Format      string  `json:"format"`
	FrameRate   float64 `json:"frameRate,omitempty"`
	ProjectName string  `json:"projectName,omitempty"`
}

type StepCallbackRequest struct {
	Message        string      `json:"message,omitempty"`
	ShotList       []*edl.Shot `json:"shot_list,omitempty"`
	FinalDuration  float64     `json:"final_duration,omitempty"`
	ScriptCoverage float64     `json:"script_coverage_percentage,omitempty"`
	TotalChunks    int         `json:"total_chunks_count,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SnapshotToStatusResponse(snap *edl.Snapshot) JobStatusResponse {
	job := snap.Job

	resp := JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		Progress: JobProgressResponse{
			Completed:  snap.Progress.Completed,
			Total:      snap.Progress.Total,
			Percentage: snap.Progress.Percentage,
		},
		Steps: make([]JobStepResponse, len(snap.Steps)),
	}

	for i, step := range snap.Steps {
		resp.Steps[i] = JobStepResponse{
			AgentName:   step.AgentName,
			Status:      step.Status,
			StartedAt:   formatNullTime(step.StartedAt),
			CompletedAt: formatNullTime(step.CompletedAt),
		}
	}

	if job.ErrorMessage != "" {
		step := job.ErrorStep
		if step == "" {
			step = "unknown"
		}
		resp.Error = &JobErrorResponse{Message: job.ErrorMessage, Step: step}
	}

	if job.Status == edl.JobStatusCompleted {
		resp.Results = &JobResultsResponse{
			FinalDuration:     job.FinalDurationS,
			ScriptCoverage:    job.ScriptCoveragePct,
			TotalChunks:       job.TotalChunks,
			CanCreateTimeline: snap.ShotCount > 0,
		}
	}

	return resp
}

func ShotToResponse(s *edl.Shot) ShotResponse {
	return ShotResponse{
		ChunkID:          s.ChunkID,
		ShotNumber:       s.ShotNumber,
		PreciseTiming:    s.PreciseTiming,
		ScriptSegment:    s.ScriptSegment,
		ContentPreview:   s.ContentPreview,
		NarrativePurpose: s.NarrativePurpose,
		CutReasoning:     s.CutReasoning,
		QualityNotes:     s.QualityNotes,
	}
}

func TimelineToResponse(state *timeline.State) TimelineResponse {
	resp := TimelineResponse{
		Tracks:     make([]TimelineTrackResponse, len(state.Tracks)),
		DurationMs: state.DurationMs,
	}
	for i, track := range state.Tracks {
		items := make([]*timeline.Item, 0, len(track.ItemIDs))
		for _, id := range track.ItemIDs {
			if item, ok := state.Items[id]; ok {
				items = append(items, item)
			}
		}
		resp.Tracks[i] = TimelineTrackResponse{ID: track.ID, Items: items}
	}
	return resp
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
