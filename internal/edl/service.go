package edl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cutroom/cutroom-server/internal/pipeline"
)

var (
	ErrIntentRequired  = errors.New("user intent is required")
	ErrProjectNotFound = errors.New("project not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job is not completed")
	ErrTerminalState   = errors.New("job is in a terminal state")
	ErrStepOrder       = errors.New("step cannot run before earlier steps complete")
	ErrStepState       = errors.New("step is not in a valid state for this transition")
)

// SubmitResult is returned by Submit. Existing is true when the request was
// deduplicated against a job already in flight for the project.
type SubmitResult struct {
	Job      *Job
	Existing bool
}

// StepCompletion carries the final-step payload: the finished shot list plus
// the job-level result summary.
type StepCompletion struct {
	Shots   []*Shot
	Summary ResultSummary
}

// Progress is the derived step-completion counter, recomputed on every read.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Snapshot is the poll-friendly projection over a job and its steps.
type Snapshot struct {
	Job       *Job
	Steps     []*Step
	Progress  Progress
	ShotCount int
}

// Service implements the submission gate and the job state machine. All
// mutations flow through here; handlers and the pipeline callbacks never
// touch the repository directly.
type Service struct {
	repo   Repository
	client pipeline.Client
	logger *slog.Logger

	handoffTimeout time.Duration
}

func NewService(repo Repository, client pipeline.Client, handoffTimeout time.Duration, logger *slog.Logger) *Service {
	if handoffTimeout <= 0 {
		handoffTimeout = 30 * time.Second
	}
	return &Service{repo: repo, client: client, handoffTimeout: handoffTimeout, logger: logger}
}

// Submit validates the request, enforces the one-active-job-per-project
// invariant, creates the job and its four steps atomically, and hands off to
// the external pipeline. It returns well before the pipeline finishes.
func (s *Service) Submit(ctx context.Context, projectID, userID, intent, script string) (*SubmitResult, error) {
	if intent == "" {
		return nil, ErrIntentRequired
	}

	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil || project.UserID != userID {
		return nil, ErrProjectNotFound
	}

	if existing, err := s.repo.GetActiveJob(ctx, projectID); err != nil {
		return nil, err
	} else if existing != nil {
		return &SubmitResult{Job: existing, Existing: true}, nil
	}

	now := time.Now().UTC()
	job := &Job{
		ID:            NewID(),
		ProjectID:     projectID,
		UserID:        userID,
		Status:        JobStatusPending,
		UserIntent:    intent,
		ScriptContent: script,
		CurrentStep:   StepLabelInitializing,
		TotalSteps:    TotalSteps,
		CreatedAt:     now,
	}

	steps := make([]*Step, 0, TotalSteps)
	for _, def := range CanonicalSteps() {
		steps = append(steps, &Step{
			JobID:      job.ID,
			StepNumber: def.Number,
			AgentName:  def.AgentName,
			StepName:   def.StepName,
			Status:     StepStatusPending,
		})
	}

	if err := s.repo.CreateJobWithSteps(ctx, job, steps); err != nil {
		// A concurrent submission won the partial unique index race. Return
		// the winner, same as the sequential dedup path.
		if IsUniqueViolation(err) {
			winner, lookupErr := s.repo.GetActiveJob(ctx, projectID)
			if lookupErr == nil && winner != nil {
				return &SubmitResult{Job: winner, Existing: true}, nil
			}
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	startedAt := time.Now().UTC()
	firstStep := CanonicalSteps()[0]
	if err := s.repo.MarkJobRunning(ctx, job.ID, firstStep.Label, startedAt); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	if err := s.repo.MarkStepRunning(ctx, job.ID, firstStep.Number, startedAt); err != nil {
		return nil, fmt.Errorf("start first step: %w", err)
	}
	job.Status = JobStatusRunning
	job.CurrentStep = firstStep.Label
	job.StartedAt = &startedAt

	if s.logger != nil {
		s.logger.Info("edl job created", "job_id", job.ID, "project_id", projectID)
	}

	handoffCtx, cancel := context.WithTimeout(ctx, s.handoffTimeout)
	defer cancel()

	err = s.client.Invoke(handoffCtx, pipeline.InvokePayload{
		ProjectID:     projectID,
		UserIntent:    intent,
		JobID:         job.ID,
		ScriptContent: script,
	})
	if err != nil {
		failedAt := time.Now().UTC()
		if markErr := s.repo.MarkJobFailed(ctx, job.ID, err.Error(), ErrorStepHandoff, failedAt); markErr != nil && s.logger != nil {
			s.logger.Error("failed to mark job failed after handoff error", "job_id", job.ID, "error", markErr)
		}
		job.Status = JobStatusFailed
		job.ErrorMessage = err.Error()
		job.ErrorStep = ErrorStepHandoff
		if s.logger != nil {
			s.logger.Error("pipeline handoff failed", "job_id", job.ID, "error", err)
		}
		return &SubmitResult{Job: job}, fmt.Errorf("pipeline handoff: %w", err)
	}

	return &SubmitResult{Job: job}, nil
}

// Status returns the poll snapshot for a job owned by userID.
func (s *Service) Status(ctx context.Context, jobID, userID string) (*Snapshot, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrJobNotFound
	}

	steps, err := s.repo.GetSteps(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch steps: %w", err)
	}

	shotCount := 0
	if job.Status == JobStatusCompleted {
		shotCount, err = s.repo.CountShotsByJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("count shots: %w", err)
		}
	}

	return &Snapshot{
		Job:       job,
		Steps:     steps,
		Progress:  computeProgress(job, steps),
		ShotCount: shotCount,
	}, nil
}

// Shots returns the ordered shot list of a completed job owned by userID.
func (s *Service) Shots(ctx context.Context, jobID, userID string) ([]*Shot, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrJobNotFound
	}
	if job.Status != JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}
	return s.repo.ListShotsByJob(ctx, jobID)
}

// StartStep records that the pipeline has begun a step. A step may only start
// after every lower-numbered step has completed. Re-reporting a step that is
// already running is a no-op, since the gate starts step 1 itself at handoff.
func (s *Service) StartStep(ctx context.Context, jobID string, stepNumber int) error {
	job, steps, err := s.loadForTransition(ctx, jobID, stepNumber)
	if err != nil {
		return err
	}

	step := steps[stepNumber-1]
	switch step.Status {
	case StepStatusRunning:
		return nil
	case StepStatusPending:
	default:
		return fmt.Errorf("%w: step %d is %s", ErrStepState, stepNumber, step.Status)
	}

	for _, prior := range steps[:stepNumber-1] {
		if prior.Status != StepStatusCompleted {
			return fmt.Errorf("%w: step %d is %s", ErrStepOrder, prior.StepNumber, prior.Status)
		}
	}

	now := time.Now().UTC()
	if err := s.repo.MarkStepRunning(ctx, jobID, stepNumber, now); err != nil {
		return err
	}
	if err := s.repo.UpdateJobCurrentStep(ctx, jobID, StepLabel(stepNumber)); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("step started", "job_id", job.ID, "step", stepNumber)
	}
	return nil
}

// CompleteStep records a finished step. The final step must carry the shot
// list and result summary; completing it flips the whole job to completed.
func (s *Service) CompleteStep(ctx context.Context, jobID string, stepNumber int, completion *StepCompletion) error {
	job, steps, err := s.loadForTransition(ctx, jobID, stepNumber)
	if err != nil {
		return err
	}

	step := steps[stepNumber-1]
	if step.Status != StepStatusRunning {
		return fmt.Errorf("%w: step %d is %s, want running", ErrStepState, stepNumber, step.Status)
	}

	now := time.Now().UTC()
	if err := s.repo.MarkStepCompleted(ctx, jobID, stepNumber, now); err != nil {
		return err
	}

	if stepNumber < TotalSteps {
		return s.repo.UpdateJobCurrentStep(ctx, jobID, StepLabel(stepNumber))
	}

	if completion == nil {
		return fmt.Errorf("%w: final step requires a shot list", ErrStepState)
	}

	for _, shot := range completion.Shots {
		if shot.ID == "" {
			shot.ID = NewID()
		}
		shot.JobID = jobID
	}
	if err := s.repo.CreateShots(ctx, jobID, completion.Shots); err != nil {
		return fmt.Errorf("persist shot list: %w", err)
	}

	summary := completion.Summary
	if summary.TotalChunks == 0 {
		summary.TotalChunks = len(completion.Shots)
	}
	if err := s.repo.MarkJobCompleted(ctx, jobID, summary, now); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("edl job completed",
			"job_id", job.ID,
			"shots", len(completion.Shots),
			"final_duration_s", summary.FinalDurationS,
		)
	}
	return nil
}

// FailStep records a failed step and moves the job to its terminal failed
// state immediately. Higher-numbered steps are left pending.
func (s *Service) FailStep(ctx context.Context, jobID string, stepNumber int, message string) error {
	job, steps, err := s.loadForTransition(ctx, jobID, stepNumber)
	if err != nil {
		return err
	}

	step := steps[stepNumber-1]
	if step.Status == StepStatusCompleted {
		return fmt.Errorf("%w: step %d already completed", ErrStepState, stepNumber)
	}

	now := time.Now().UTC()
	if err := s.repo.MarkStepFailed(ctx, jobID, stepNumber); err != nil {
		return err
	}
	if message == "" {
		message = fmt.Sprintf("step %d failed", stepNumber)
	}
	if err := s.repo.MarkJobFailed(ctx, jobID, message, StepLabel(stepNumber), now); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Warn("edl job failed", "job_id", job.ID, "step", stepNumber, "error", message)
	}
	return nil
}

func (s *Service) loadForTransition(ctx context.Context, jobID string, stepNumber int) (*Job, []*Step, error) {
	if stepNumber < 1 || stepNumber > TotalSteps {
		return nil, nil, fmt.Errorf("%w: step number %d out of range", ErrStepState, stepNumber)
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, ErrJobNotFound
	}
	if job.Terminal() {
		return nil, nil, fmt.Errorf("%w: job is %s", ErrTerminalState, job.Status)
	}

	steps, err := s.repo.GetSteps(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if len(steps) != TotalSteps {
		return nil, nil, fmt.Errorf("job %s has %d steps, want %d", jobID, len(steps), TotalSteps)
	}
	return job, steps, nil
}

func computeProgress(job *Job, steps []*Step) Progress {
	completed := 0
	for _, step := range steps {
		if step.Status == StepStatusCompleted {
			completed++
		}
	}
	total := job.TotalSteps
	if total <= 0 {
		total = TotalSteps
	}
	return Progress{
		Completed:  completed,
		Total:      total,
		Percentage: int(math.Round(float64(completed) / float64(total) * 100)),
	}
}
