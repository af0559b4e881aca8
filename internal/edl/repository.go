package edl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByToken(ctx context.Context, token string) (*User, error)

	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)

	CreateAsset(ctx context.Context, asset *MediaAsset) error
	ListAssetsByProject(ctx context.Context, projectID string) ([]*MediaAsset, error)

	CreateJobWithSteps(ctx context.Context, job *Job, steps []*Step) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetActiveJob(ctx context.Context, projectID string) (*Job, error)
	ListJobsByProject(ctx context.Context, projectID string, limit int) ([]*Job, error)
	CountActiveJobs(ctx context.Context) (int, error)
	MarkJobRunning(ctx context.Context, id, currentStep string, startedAt time.Time) error
	MarkJobFailed(ctx context.Context, id, message, errorStep string, completedAt time.Time) error
	MarkJobCompleted(ctx context.Context, id string, summary ResultSummary, completedAt time.Time) error
	UpdateJobCurrentStep(ctx context.Context, id, currentStep string) error

	GetSteps(ctx context.Context, jobID string) ([]*Step, error)
	GetStep(ctx context.Context, jobID string, stepNumber int) (*Step, error)
	MarkStepRunning(ctx context.Context, jobID string, stepNumber int, startedAt time.Time) error
	MarkStepCompleted(ctx context.Context, jobID string, stepNumber int, completedAt time.Time) error
	MarkStepFailed(ctx context.Context, jobID string, stepNumber int) error

	CreateShots(ctx context.Context, jobID string, shots []*Shot) error
	ListShotsByJob(ctx context.Context, jobID string) ([]*Shot, error)
	CountShotsByJob(ctx context.Context, jobID string) (int, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// IsUniqueViolation reports whether err is a SQLite unique-constraint failure.
// The submission gate uses this to detect a lost dedup race.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, api_token, display_name, created_at)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.APIToken, u.DisplayName, u.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetUserByToken(ctx context.Context, token string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, api_token, display_name, created_at
		FROM users WHERE api_token = ?
	`, token)

	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.APIToken, &u.DisplayName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, title, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.UserID, p.Title, p.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at
		FROM projects WHERE id = ?
	`, id)

	var p Project
	var createdAt string
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *MediaAsset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_assets (id, project_id, storage_location, original_name, duration_s, thumbnail_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.StorageLocation, a.OriginalName,
		nullFloat(a.DurationS), nullString(a.ThumbnailURL), a.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListAssetsByProject(ctx context.Context, projectID string) ([]*MediaAsset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, storage_location, original_name, duration_s, thumbnail_url, created_at
		FROM media_assets WHERE project_id = ? ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*MediaAsset
	for rows.Next() {
		var a MediaAsset
		var duration sql.NullFloat64
		var thumbnail sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.StorageLocation, &a.OriginalName, &duration, &thumbnail, &createdAt); err != nil {
			return nil, err
		}
		a.DurationS = duration.Float64
		a.ThumbnailURL = thumbnail.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

// CreateJobWithSteps inserts the job row and all of its step rows in one
// transaction. Either everything commits or nothing does, so an orphaned job
// with no steps can never be observed.
func (r *SQLiteRepository) CreateJobWithSteps(ctx context.Context, j *Job, steps []*Step) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edl_jobs (id, project_id, user_id, status, user_intent, script_content, current_step, total_steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.ProjectID, j.UserID, j.Status, j.UserIntent, j.ScriptContent,
		j.CurrentStep, j.TotalSteps, j.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	for _, s := range steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edl_steps (job_id, step_number, agent_name, step_name, status)
			VALUES (?, ?, ?, ?, ?)
		`, s.JobID, s.StepNumber, s.AgentName, s.StepName, s.Status)
		if err != nil {
			return fmt.Errorf("create step %d: %w", s.StepNumber, err)
		}
	}

	return tx.Commit()
}

const jobColumns = `id, project_id, user_id, status, user_intent, script_content, current_step, total_steps,
	error_message, error_step, final_duration_s, script_coverage_pct, total_chunks,
	created_at, started_at, completed_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM edl_jobs WHERE id = ?`, id)
	return r.scanJob(row)
}

// GetActiveJob returns the pending/running job for a project, if any.
func (r *SQLiteRepository) GetActiveJob(ctx context.Context, projectID string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM edl_jobs
		WHERE project_id = ? AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1
	`, projectID)
	return r.scanJob(row)
}

func (r *SQLiteRepository) ListJobsByProject(ctx context.Context, projectID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM edl_jobs
		WHERE project_id = ? ORDER BY created_at DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := r.scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) CountActiveJobs(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edl_jobs WHERE status IN ('pending', 'running')`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanJob(row *sql.Row) (*Job, error) {
	j, err := r.scanJobFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) scanJobRow(rows *sql.Rows) (*Job, error) {
	return r.scanJobFrom(rows)
}

func (r *SQLiteRepository) scanJobFrom(row rowScanner) (*Job, error) {
	var j Job
	var errMsg, errStep sql.NullString
	var finalDuration, coverage sql.NullFloat64
	var totalChunks sql.NullInt64
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.Status, &j.UserIntent, &j.ScriptContent,
		&j.CurrentStep, &j.TotalSteps, &errMsg, &errStep, &finalDuration, &coverage, &totalChunks,
		&createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.ErrorMessage = errMsg.String
	j.ErrorStep = errStep.String
	j.FinalDurationS = finalDuration.Float64
	j.ScriptCoveragePct = coverage.Float64
	j.TotalChunks = int(totalChunks.Int64)
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.StartedAt = parseNullTime(startedAt)
	j.CompletedAt = parseNullTime(completedAt)
	return &j, nil
}

func (r *SQLiteRepository) MarkJobRunning(ctx context.Context, id, currentStep string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE edl_jobs SET status = ?, current_step = ?, started_at = ? WHERE id = ?
	`, JobStatusRunning, currentStep, startedAt.Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) MarkJobFailed(ctx context.Context, id, message, errorStep string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE edl_jobs SET status = ?, error_message = ?, error_step = ?, completed_at = ? WHERE id = ?
	`, JobStatusFailed, message, errorStep, completedAt.Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) MarkJobCompleted(ctx context.Context, id string, summary ResultSummary, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE edl_jobs SET status = ?, final_duration_s = ?, script_coverage_pct = ?, total_chunks = ?, completed_at = ?
		WHERE id = ?
	`, JobStatusCompleted, summary.FinalDurationS, summary.ScriptCoveragePct, summary.TotalChunks,
		completedAt.Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateJobCurrentStep(ctx context.Context, id, currentStep string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE edl_jobs SET current_step = ? WHERE id = ?`, currentStep, id)
	return err
}

func (r *SQLiteRepository) GetSteps(ctx context.Context, jobID string) ([]*Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, step_number, agent_name, step_name, status, started_at, completed_at
		FROM edl_steps WHERE job_id = ? ORDER BY step_number ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		var s Step
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&s.JobID, &s.StepNumber, &s.AgentName, &s.StepName, &s.Status, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		s.StartedAt = parseNullTime(startedAt)
		s.CompletedAt = parseNullTime(completedAt)
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

func (r *SQLiteRepository) GetStep(ctx context.Context, jobID string, stepNumber int) (*Step, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, step_number, agent_name, step_name, status, started_at, completed_at
		FROM edl_steps WHERE job_id = ? AND step_number = ?
	`, jobID, stepNumber)

	var s Step
	var startedAt, completedAt sql.NullString
	err := row.Scan(&s.JobID, &s.StepNumber, &s.AgentName, &s.StepName, &s.Status, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.StartedAt = parseNullTime(startedAt)
	s.CompletedAt = parseNullTime(completedAt)
	return &s, nil
}

func (r *SQLiteRepository) MarkStepRunning(ctx context.Context, jobID string, stepNumber int, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE edl_steps SET status = ?, started_at = ? WHERE job_id = ? AND step_number = ?
	`, StepStatusRunning, startedAt.Format(time.RFC3339), jobID, stepNumber)
	return err
}

func (r *SQLiteRepository) MarkStepCompleted(ctx context.Context, jobID string, stepNumber int, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE edl_steps SET status = ?, completed_at = ? WHERE job_id = ? AND step_number = ?
	`, StepStatusCompleted, completedAt.Format(time.RFC3339), jobID, stepNumber)
	return err
}

func (r *SQLiteRepository) MarkStepFailed(ctx context.Context, jobID string, stepNumber int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE edl_steps SET status = ? WHERE job_id = ? AND step_number = ?
	`, StepStatusFailed, jobID, stepNumber)
	return err
}

// CreateShots persists the finalized shot list in one transaction.
func (r *SQLiteRepository) CreateShots(ctx context.Context, jobID string, shots []*Shot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range shots {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edl_shots (id, job_id, shot_number, chunk_id, start_s, end_s, duration_s,
				script_segment, content_preview, narrative_purpose, cut_reasoning, quality_notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, jobID, s.ShotNumber, s.ChunkID,
			s.PreciseTiming.Start, s.PreciseTiming.End, s.PreciseTiming.Duration,
			s.ScriptSegment, s.ContentPreview, s.NarrativePurpose, s.CutReasoning, s.QualityNotes)
		if err != nil {
			return fmt.Errorf("create shot %d: %w", s.ShotNumber, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListShotsByJob(ctx context.Context, jobID string) ([]*Shot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, shot_number, chunk_id, start_s, end_s, duration_s,
			script_segment, content_preview, narrative_purpose, cut_reasoning, quality_notes
		FROM edl_shots WHERE job_id = ? ORDER BY shot_number ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shots []*Shot
	for rows.Next() {
		var s Shot
		if err := rows.Scan(&s.ID, &s.JobID, &s.ShotNumber, &s.ChunkID,
			&s.PreciseTiming.Start, &s.PreciseTiming.End, &s.PreciseTiming.Duration,
			&s.ScriptSegment, &s.ContentPreview, &s.NarrativePurpose, &s.CutReasoning, &s.QualityNotes); err != nil {
			return nil, err
		}
		shots = append(shots, &s)
	}
	return shots, rows.Err()
}

func (r *SQLiteRepository) CountShotsByJob(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edl_shots WHERE job_id = ?`, jobID).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
