package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom-server/internal/edl"
)

func generateEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectId")
		user := UserFromContext(r.Context())

		var req GenerateEDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		result, err := cfg.Service.Submit(r.Context(), projectID, user.ID, req.UserIntent, req.ScriptContent)
		switch {
		case errors.Is(err, edl.ErrIntentRequired):
			WriteError(w, http.StatusBadRequest, "user intent is required", "BAD_REQUEST")
			return
		case errors.Is(err, edl.ErrProjectNotFound):
			WriteError(w, http.StatusNotFound, "project not found or access denied", "NOT_FOUND")
			return
		case err != nil:
			// Handoff failure: the job exists but was moved to failed.
			if result != nil && result.Job != nil {
				WriteJSON(w, http.StatusInternalServerError, GenerateEDLResponse{
					JobID:   result.Job.ID,
					Status:  result.Job.Status,
					Message: "EDL generation failed: " + result.Job.ErrorMessage,
				})
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to create EDL generation job", "INTERNAL_ERROR")
			return
		}

		if result.Existing {
			WriteJSON(w, http.StatusOK, GenerateEDLResponse{
				JobID:   result.Job.ID,
				Status:  result.Job.Status,
				Message: "EDL generation already in progress for this project",
			})
			return
		}

		WriteJSON(w, http.StatusOK, GenerateEDLResponse{
			JobID:   result.Job.ID,
			Status:  result.Job.Status,
			Message: "EDL generation started successfully",
		})
	}
}

func jobStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())

		jobID := r.URL.Query().Get("jobId")
		if jobID == "" {
			WriteError(w, http.StatusBadRequest, "job id is required", "BAD_REQUEST")
			return
		}

		snap, err := cfg.Service.Status(r.Context(), jobID, user.ID)
		if errors.Is(err, edl.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found or access denied", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to fetch job status", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, SnapshotToStatusResponse(snap))
	}
}

func listShotsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())

		jobID := r.URL.Query().Get("jobId")
		if jobID == "" {
			WriteError(w, http.StatusBadRequest, "job id is required", "BAD_REQUEST")
			return
		}

		shots, err := cfg.Service.Shots(r.Context(), jobID, user.ID)
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

		resp := ShotsResponse{JobID: jobID, Shots: make([]ShotResponse, len(shots))}
		for i, shot := range shots {
			resp.Shots[i] = ShotToResponse(shot)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
