package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom-server/internal/edl"
	"github.com/cutroom/cutroom-server/internal/export"
	"github.com/cutroom/cutroom-server/internal/timeline"
)

const (
	StrategyState  = "state"
	StrategyEvents = "events"
)

// ownedProject checks project existence and ownership. Missing and
// not-owned are indistinguishable to the caller.
func ownedProject(r *http.Request, cfg ServerConfig) (*edl.Project, bool) {
	projectID := chi.URLParam(r, "projectId")
	user := UserFromContext(r.Context())

	project, err := cfg.Repository.GetProject(r.Context(), projectID)
	if err != nil || project == nil || project.UserID != user.ID {
		return nil, false
	}
	return project, true
}

func applyEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(r, cfg)
		if !ok {
			WriteError(w, http.StatusNotFound, "project not found or access denied", "NOT_FOUND")
			return
		}
		user := UserFromContext(r.Context())

		var req ApplyEDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.JobID == "" {
			WriteError(w, http.StatusBadRequest, "job id is required", "BAD_REQUEST")
			return
		}

		strategy := req.Strategy
		if strategy == "" {
			strategy = StrategyState
		}
		if strategy != StrategyState && strategy != StrategyEvents {
			WriteError(w, http.StatusBadRequest, "strategy must be state or events", "BAD_REQUEST")
			return
		}

		shots, err := cfg.Service.Shots(r.Context(), req.JobID, user.ID)
		switch {
		case errors.Is(err, edl.ErrJobNotFound):
			WriteError(w, http.StatusNotFound, "job not found or access denied", "NOT_FOUND")
			return
		case errors.Is(err, edl.ErrJobNotCompleted):
			WriteError(w, http.StatusConflict, "job has not completed", "JOB_NOT_COMPLETED")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, "failed to fetch shots", "INTERNAL_ERROR")
			return
		}

		assets, err := cfg.Repository.ListAssetsByProject(r.Context(), project.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to fetch assets", "INTERNAL_ERROR")
			return
		}

		items, summary := cfg.Compiler.Compile(shots, assets)

		resp := ApplyEDLResponse{JobID: req.JobID, Summary: *summary}
		if summary.Skipped > 0 {
			resp.Message = fmt.Sprintf("could not match %d of %d shots", summary.Skipped, summary.TotalShots)
		}

		if len(items) == 0 {
			WriteJSON(w, http.StatusOK, resp)
			return
		}

		tl := cfg.Timelines.Get(project.ID)

		wait := cfg.ApplyWait
		if wait <= 0 {
			wait = 10 * time.Second
		}
		waitCtx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		if err := tl.WaitReady(waitCtx, cfg.ApplyPoll); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "timeline is not ready; retry the apply", "TIMELINE_NOT_READY")
			return
		}

		switch strategy {
		case StrategyEvents:
			loop := timeline.NewEventLoop(tl)
			loopCtx, stopLoop := context.WithCancel(r.Context())
			defer stopLoop()
			go loop.Run(loopCtx)

			err = loop.Dispatch(r.Context(), &timeline.AddItemsEvent{Items: items, TrackID: req.TrackID})
		default:
			err = tl.ApplyItems(items, req.TrackID)
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "apply failed: "+err.Error(), "APPLY_FAILED")
			return
		}

		resp.Applied = len(items)
		resp.DurationMs = tl.Snapshot().DurationMs
		if resp.Message == "" {
			resp.Message = fmt.Sprintf("applied %d shots to timeline", len(items))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(r, cfg)
		if !ok {
			WriteError(w, http.StatusNotFound, "project not found or access denied", "NOT_FOUND")
			return
		}

		tl := cfg.Timelines.Peek(project.ID)
		if tl == nil {
			WriteJSON(w, http.StatusOK, TimelineResponse{Tracks: []TimelineTrackResponse{}})
			return
		}

		WriteJSON(w, http.StatusOK, TimelineToResponse(tl.Snapshot()))
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := ownedProject(r, cfg)
		if !ok {
			WriteError(w, http.StatusNotFound, "project not found or access denied", "NOT_FOUND")
			return
		}
		user := UserFromContext(r.Context())

		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.ToLower(req.Format) != "edl" {
			WriteError(w, http.StatusBadRequest, "format must be edl", "BAD_REQUEST")
			return
		}
		if req.JobID == "" {
			WriteError(w, http.StatusBadRequest, "job id is required", "BAD_REQUEST")
			return
		}

		shots, err := cfg.Service.Shots(r.Context(), req.JobID, user.ID)
		switch {
		case errors.Is(err, edl.ErrJobNotFound):
			WriteError(w, http.StatusNotFound, "job not found or access denied", "NOT_FOUND")
			return
		case errors.Is(err, edl.ErrJobNotCompleted):
			WriteError(w, http.StatusConflict, "job has not completed", "JOB_NOT_COMPLETED")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, "failed to fetch shots", "INTERNAL_ERROR")
			return
		}

		assets, err := cfg.Repository.ListAssetsByProject(r.Context(), project.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to fetch assets", "INTERNAL_ERROR")
			return
		}

		items, _ := cfg.Compiler.Compile(shots, assets)
		if len(items) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "no shots could be matched for export", "NO_MATCHED_SHOTS")
			return
		}

		title := export.SanitizeName(req.ProjectName, 120)
		if title == "" {
			title = export.SanitizeName(project.Title, 120)
		}
		if title == "" {
			title = "cutroom_export"
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = 30.0
		}

		content := export.GenerateEDL(items, title, frameRate)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", title+".edl"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
	}
}
