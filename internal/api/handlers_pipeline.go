package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom-server/internal/edl"
)

// Step callback handlers. The external pipeline reports stage transitions
// here; the state machine in edl.Service decides whether each transition is
// legal.

func stepStartHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, stepNumber, ok := stepParams(w, r)
		if !ok {
			return
		}

		err := cfg.Service.StartStep(r.Context(), jobID, stepNumber)
		if !writeStepError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func stepCompleteHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, stepNumber, ok := stepParams(w, r)
		if !ok {
			return
		}

		var req StepCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		var completion *edl.StepCompletion
		if stepNumber == edl.TotalSteps {
			if len(req.ShotList) == 0 {
				WriteError(w, http.StatusBadRequest, "final step requires a shot list", "BAD_REQUEST")
				return
			}
			completion = &edl.StepCompletion{
				Shots: req.ShotList,
				Summary: edl.ResultSummary{
					FinalDurationS:    req.FinalDuration,
					ScriptCoveragePct: req.ScriptCoverage,
					TotalChunks:       req.TotalChunks,
				},
			}
		}

		err := cfg.Service.CompleteStep(r.Context(), jobID, stepNumber, completion)
		if !writeStepError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func stepFailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, stepNumber, ok := stepParams(w, r)
		if !ok {
			return
		}

		var req StepCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		err := cfg.Service.FailStep(r.Context(), jobID, stepNumber, req.Message)
		if !writeStepError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func stepParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required", "BAD_REQUEST")
		return "", 0, false
	}

	stepNumber, err := strconv.Atoi(chi.URLParam(r, "stepNumber"))
	if err != nil || stepNumber < 1 || stepNumber > edl.TotalSteps {
		WriteError(w, http.StatusBadRequest, "step number must be 1-4", "BAD_REQUEST")
		return "", 0, false
	}

	return jobID, stepNumber, true
}

// writeStepError maps state machine errors onto HTTP responses. Returns
// true when the caller may proceed (no error).
func writeStepError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, edl.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
	case errors.Is(err, edl.ErrTerminalState):
		WriteError(w, http.StatusConflict, err.Error(), "TERMINAL_STATE")
	case errors.Is(err, edl.ErrStepOrder), errors.Is(err, edl.ErrStepState):
		WriteError(w, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
	default:
		WriteError(w, http.StatusInternalServerError, "failed to record step transition", "INTERNAL_ERROR")
	}
	return false
}
