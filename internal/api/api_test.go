package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cutroom/cutroom-server/internal/db"
	"github.com/cutroom/cutroom-server/internal/edl"
	"github.com/cutroom/cutroom-server/internal/media"
	"github.com/cutroom/cutroom-server/internal/pipeline"
	"github.com/cutroom/cutroom-server/internal/timeline"
)

const (
	testUserToken     = "user-token"
	testPipelineToken = "pipeline-token"
)

type testEnv struct {
	router    http.Handler
	repo      *edl.SQLiteRepository
	client    *pipeline.StubClient
	userID    string
	projectID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := edl.NewRepository(database.Conn())
	ctx := context.Background()
	now := time.Now().UTC()

	user := &edl.User{ID: edl.NewID(), APIToken: testUserToken, DisplayName: "Tester", CreatedAt: now}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	project := &edl.Project{ID: edl.NewID(), UserID: user.ID, Title: "Test Project", CreatedAt: now}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := pipeline.NewStubClient(nil)
	service := edl.NewService(repo, client, 5*time.Second, logger)
	resolver := media.NewURLResolver("us-east-1")

	cfg := ServerConfig{
		Repository:    repo,
		Service:       service,
		Timelines:     timeline.NewManager(),
		Compiler:      timeline.NewCompiler(resolver, nil, logger),
		PipelineToken: testPipelineToken,
		ApplyWait:     2 * time.Second,
		ApplyPoll:     10 * time.Millisecond,
		Logger:        logger,
		StartTime:     now,
	}

	return &testEnv{
		router:    NewRouter(cfg),
		repo:      repo,
		client:    client,
		userID:    user.ID,
		projectID: project.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func (e *testEnv) generatePath() string {
	return fmt.Sprintf("/timeline/%s/generate-edl-async", e.projectID)
}

func (e *testEnv) submitJob(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, e.generatePath(), testUserToken,
		GenerateEDLRequest{UserIntent: "make a highlight reel"})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[GenerateEDLResponse](t, rec).JobID
}

func (e *testEnv) stepPath(jobID string, step int, action string) string {
	return fmt.Sprintf("/pipeline/jobs/%s/steps/%d/%s", jobID, step, action)
}

// runPipeline drives the four callback steps to completion.
func (e *testEnv) runPipeline(t *testing.T, jobID string, shots []*edl.Shot) {
	t.Helper()
	for n := 1; n <= edl.TotalSteps; n++ {
		rec := e.do(t, http.MethodPost, e.stepPath(jobID, n, "start"), testPipelineToken, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("start step %d status = %d, body %s", n, rec.Code, rec.Body.String())
		}

		var body any
		if n == edl.TotalSteps {
			body = StepCallbackRequest{ShotList: shots, FinalDuration: 14.0, ScriptCoverage: 90.0}
		}
		rec = e.do(t, http.MethodPost, e.stepPath(jobID, n, "complete"), testPipelineToken, body)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("complete step %d status = %d, body %s", n, rec.Code, rec.Body.String())
		}
	}
}

func testShotList() []*edl.Shot {
	return []*edl.Shot{
		{ChunkID: "IMG_1462_chunk_1_0.0-4.6s", ShotNumber: 1,
			PreciseTiming: edl.PreciseTiming{Start: 0.0, End: 4.6, Duration: 4.6}},
		{ChunkID: "IMG_1271_chunk_1_10.0-13.8s", ShotNumber: 2,
			PreciseTiming: edl.PreciseTiming{Start: 10.0, End: 13.8, Duration: 3.8}},
		{ChunkID: "IMG_1462_chunk_2_20.0-25.6s", ShotNumber: 3,
			PreciseTiming: edl.PreciseTiming{Start: 20.0, End: 25.6, Duration: 5.6}},
	}
}

func (e *testEnv) seedAssets(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, name := range []string{"IMG_1462.mp4", "IMG_1271.mp4"} {
		err := e.repo.CreateAsset(ctx, &edl.MediaAsset{
			ID: edl.NewID(), ProjectID: e.projectID,
			StorageLocation: "s3://bucket/" + name, OriginalName: name,
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateAsset(%s) error = %v", name, err)
		}
	}
}

func TestHealth_NoAuth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[HealthResponse](t, rec); resp.Status != "ok" {
		t.Errorf("health status = %s, want ok", resp.Status)
	}
}

func TestAuth_Required(t *testing.T) {
	e := newTestEnv(t)

	for _, token := range []string{"", "wrong-token"} {
		rec := e.do(t, http.MethodPost, e.generatePath(), token,
			GenerateEDLRequest{UserIntent: "x"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestGenerateEDL_Success(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, e.generatePath(), testUserToken,
		GenerateEDLRequest{UserIntent: "make a highlight reel", ScriptContent: "the script"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[GenerateEDLResponse](t, rec)
	if resp.JobID == "" {
		t.Error("response has no job id")
	}
	if resp.Status != edl.JobStatusRunning {
		t.Errorf("status = %s, want running", resp.Status)
	}
	if !strings.Contains(resp.Message, "started") {
		t.Errorf("message = %q", resp.Message)
	}
	if len(e.client.Invocations()) != 1 {
		t.Errorf("pipeline invoked %d times, want 1", len(e.client.Invocations()))
	}
}

func TestGenerateEDL_EmptyIntent(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, e.generatePath(), testUserToken, GenerateEDLRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if job, _ := e.repo.GetActiveJob(context.Background(), e.projectID); job != nil {
		t.Error("job created despite validation failure")
	}
}

func TestGenerateEDL_UnknownProject(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/timeline/"+edl.NewID()+"/generate-edl-async",
		testUserToken, GenerateEDLRequest{UserIntent: "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGenerateEDL_Dedup(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	rec := e.do(t, http.MethodPost, e.generatePath(), testUserToken,
		GenerateEDLRequest{UserIntent: "another request"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decode[GenerateEDLResponse](t, rec)
	if resp.JobID != jobID {
		t.Errorf("dedup returned job %s, want %s", resp.JobID, jobID)
	}
	if !strings.Contains(resp.Message, "already in progress") {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestGenerateEDL_HandoffFailure(t *testing.T) {
	e := newTestEnv(t)
	e.client.FailWith(fmt.Errorf("pipeline unreachable"))

	rec := e.do(t, http.MethodPost, e.generatePath(), testUserToken,
		GenerateEDLRequest{UserIntent: "x"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	resp := decode[GenerateEDLResponse](t, rec)
	if resp.JobID == "" {
		t.Error("failed handoff response carries no job id")
	}
	if resp.Status != edl.JobStatusFailed {
		t.Errorf("status = %s, want failed", resp.Status)
	}
}

func TestJobStatus_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	statusPath := e.generatePath() + "?jobId=" + jobID
	rec := e.do(t, http.MethodGet, statusPath, testUserToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decode[JobStatusResponse](t, rec)
	if resp.Status != edl.JobStatusRunning {
		t.Errorf("job status = %s, want running", resp.Status)
	}
	if resp.CurrentStep != "script_analysis" {
		t.Errorf("current step = %s, want script_analysis", resp.CurrentStep)
	}
	if len(resp.Steps) != edl.TotalSteps {
		t.Fatalf("steps = %d, want %d", len(resp.Steps), edl.TotalSteps)
	}
	if resp.Steps[0].Status != edl.StepStatusRunning || resp.Steps[0].StartedAt == nil {
		t.Errorf("step 1 = %+v, want running with started_at", resp.Steps[0])
	}
	if resp.Results != nil {
		t.Error("results present before completion")
	}

	e.runPipeline(t, jobID, testShotList())

	rec = e.do(t, http.MethodGet, statusPath, testUserToken, nil)
	resp = decode[JobStatusResponse](t, rec)
	if resp.Status != edl.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", resp.Status)
	}
	if resp.Progress.Percentage != 100 {
		t.Errorf("percentage = %d, want 100", resp.Progress.Percentage)
	}
	if resp.Results == nil {
		t.Fatal("completed job has no results")
	}
	if !resp.Results.CanCreateTimeline {
		t.Error("CanCreateTimeline = false with persisted shots")
	}
	if resp.Results.FinalDuration != 14.0 {
		t.Errorf("final duration = %.1f, want 14.0", resp.Results.FinalDuration)
	}
}

func TestJobStatus_MissingJobID(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, e.generatePath(), testUserToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListShots_RequiresCompletion(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	rec := e.do(t, http.MethodGet,
		fmt.Sprintf("/timeline/%s/shots?jobId=%s", e.projectID, jobID), testUserToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	e.runPipeline(t, jobID, testShotList())

	rec = e.do(t, http.MethodGet,
		fmt.Sprintf("/timeline/%s/shots?jobId=%s", e.projectID, jobID), testUserToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d after completion", rec.Code)
	}
	resp := decode[ShotsResponse](t, rec)
	if len(resp.Shots) != 3 {
		t.Errorf("shots = %d, want 3", len(resp.Shots))
	}
}

func TestPipelineCallbacks_Auth(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	rec := e.do(t, http.MethodPost, e.stepPath(jobID, 1, "start"), "wrong-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	// User tokens do not open the callback routes.
	rec = e.do(t, http.MethodPost, e.stepPath(jobID, 1, "start"), testUserToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("user token status = %d, want 401", rec.Code)
	}
}

func TestPipelineCallbacks_InvalidStepNumber(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	for _, step := range []string{"0", "5", "abc"} {
		rec := e.do(t, http.MethodPost,
			fmt.Sprintf("/pipeline/jobs/%s/steps/%s/start", jobID, step), testPipelineToken, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("step %q: status = %d, want 400", step, rec.Code)
		}
	}
}

func TestPipelineCallbacks_OutOfOrder(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	rec := e.do(t, http.MethodPost, e.stepPath(jobID, 3, "start"), testPipelineToken, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "INVALID_TRANSITION" {
		t.Errorf("code = %s, want INVALID_TRANSITION", resp.Code)
	}
}

func TestPipelineCallbacks_FailThenTerminal(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	rec := e.do(t, http.MethodPost, e.stepPath(jobID, 1, "fail"), testPipelineToken,
		StepCallbackRequest{Message: "analysis crashed"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("fail status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, e.stepPath(jobID, 2, "start"), testPipelineToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "TERMINAL_STATE" {
		t.Errorf("code = %s, want TERMINAL_STATE", resp.Code)
	}

	status := e.do(t, http.MethodGet, e.generatePath()+"?jobId="+jobID, testUserToken, nil)
	resp := decode[JobStatusResponse](t, status)
	if resp.Error == nil || resp.Error.Message != "analysis crashed" {
		t.Errorf("error = %+v, want analysis crashed", resp.Error)
	}
}

func TestPipelineCallbacks_FinalStepNeedsShots(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	for n := 1; n < edl.TotalSteps; n++ {
		e.do(t, http.MethodPost, e.stepPath(jobID, n, "start"), testPipelineToken, nil)
		e.do(t, http.MethodPost, e.stepPath(jobID, n, "complete"), testPipelineToken, nil)
	}
	e.do(t, http.MethodPost, e.stepPath(jobID, 4, "start"), testPipelineToken, nil)

	rec := e.do(t, http.MethodPost, e.stepPath(jobID, 4, "complete"), testPipelineToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without a shot list", rec.Code)
	}
}

func TestPipelineCallbacks_UnknownJob(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, e.stepPath(edl.NewID(), 1, "start"), testPipelineToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestApplyEDL_EndToEnd(t *testing.T) {
	e := newTestEnv(t)
	e.seedAssets(t)
	jobID := e.submitJob(t)
	e.runPipeline(t, jobID, testShotList())

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/timeline/%s/apply-edl", e.projectID),
		testUserToken, ApplyEDLRequest{JobID: jobID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[ApplyEDLResponse](t, rec)
	if resp.Applied != 3 {
		t.Errorf("applied = %d, want 3", resp.Applied)
	}
	if resp.DurationMs != 14000 {
		t.Errorf("duration = %d, want 14000", resp.DurationMs)
	}
	if resp.Summary.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", resp.Summary.Skipped)
	}

	// The timeline view reflects the applied items.
	view := e.do(t, http.MethodGet, "/timeline/"+e.projectID+"/", testUserToken, nil)
	if view.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", view.Code)
	}
	tl := decode[TimelineResponse](t, view)
	if len(tl.Tracks) != 1 || len(tl.Tracks[0].Items) != 3 {
		t.Fatalf("timeline = %+v, want 1 track with 3 items", tl)
	}
	wantBounds := [][2]int64{{0, 4600}, {4600, 8400}, {8400, 14000}}
	for i, item := range tl.Tracks[0].Items {
		if item.Display.From != wantBounds[i][0] || item.Display.To != wantBounds[i][1] {
			t.Errorf("item %d display = %+v, want %v", i, item.Display, wantBounds[i])
		}
	}
}

func TestApplyEDL_EventsStrategy(t *testing.T) {
	e := newTestEnv(t)
	e.seedAssets(t)
	jobID := e.submitJob(t)
	e.runPipeline(t, jobID, testShotList())

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/timeline/%s/apply-edl", e.projectID),
		testUserToken, ApplyEDLRequest{JobID: jobID, Strategy: "events"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[ApplyEDLResponse](t, rec); resp.Applied != 3 {
		t.Errorf("applied = %d, want 3", resp.Applied)
	}
}

func TestApplyEDL_PartialMatch(t *testing.T) {
	e := newTestEnv(t)
	e.seedAssets(t)
	jobID := e.submitJob(t)

	shots := testShotList()
	shots[1].ChunkID = "unknown_clip_chunk_1_0.0-3.8s"
	e.runPipeline(t, jobID, shots)

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/timeline/%s/apply-edl", e.projectID),
		testUserToken, ApplyEDLRequest{JobID: jobID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decode[ApplyEDLResponse](t, rec)
	if resp.Applied != 2 || resp.Summary.Skipped != 1 {
		t.Errorf("applied/skipped = %d/%d, want 2/1", resp.Applied, resp.Summary.Skipped)
	}
	if !strings.Contains(resp.Message, "could not match 1 of 3") {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.DurationMs != 10200 {
		t.Errorf("duration = %d, want 10200 (no gap left by the skip)", resp.DurationMs)
	}
}

func TestApplyEDL_JobNotCompleted(t *testing.T) {
	e := newTestEnv(t)
	jobID := e.submitJob(t)

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/timeline/%s/apply-edl", e.projectID),
		testUserToken, ApplyEDLRequest{JobID: jobID})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestGetTimeline_EmptyBeforeApply(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/timeline/"+e.projectID+"/", testUserToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[TimelineResponse](t, rec); len(resp.Tracks) != 0 {
		t.Errorf("tracks = %d, want 0", len(resp.Tracks))
	}
}

func TestExport_EDL(t *testing.T) {
	e := newTestEnv(t)
	e.seedAssets(t)
	jobID := e.submitJob(t)
	e.runPipeline(t, jobID, testShotList())

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/timeline/%s/export", e.projectID),
		testUserToken, ExportRequest{JobID: jobID, Format: "edl", ProjectName: "My Cut"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %s", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "TITLE:") {
		t.Errorf("export body missing TITLE header:\n%s", body)
	}
	if !strings.Contains(body, "001") {
		t.Errorf("export body missing first event:\n%s", body)
	}
}

func TestExport_BadFormat(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, fmt.Sprintf("/timeline/%s/export", e.projectID),
		testUserToken, ExportRequest{JobID: edl.NewID(), Format: "xml"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/status", testUserToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[StatusResponse](t, rec); resp.State != "idle" {
		t.Errorf("state = %s, want idle", resp.State)
	}

	e.submitJob(t)

	rec = e.do(t, http.MethodGet, "/status", testUserToken, nil)
	if resp := decode[StatusResponse](t, rec); resp.State != "generating" || resp.ActiveJobs != 1 {
		t.Errorf("state = %+v, want generating with 1 active job", resp)
	}
}
