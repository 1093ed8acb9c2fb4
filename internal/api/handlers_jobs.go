package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamarc/streamarc/internal/httputil"
	"github.com/streamarc/streamarc/internal/jobs"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

// handleListJobs merges the configured definitions with their run records.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	type jobView struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Schedule    string   `json:"schedule,omitempty"`
		IntervalMs  int64    `json:"interval_ms,omitempty"`
		SkipIf      []string `json:"skip_if_other_in_progress,omitempty"`
		PostExecute []string `json:"post_execute,omitempty"`

		Status         string `json:"status"`
		LastExecution  string `json:"last_execution,omitempty"`
		LastResult     string `json:"last_result,omitempty"`
		LastError      string `json:"last_error,omitempty"`
		ExecutionCount int    `json:"execution_count"`
	}

	out := make([]jobView, 0)
	for _, def := range s.scheduler.Definitions() {
		rec, err := s.records.Get(r.Context(), def.HistoryName())
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
			return
		}
		v := jobView{
			Name:           def.Name,
			Description:    def.Description,
			Schedule:       def.Schedule,
			IntervalMs:     def.Interval,
			SkipIf:         def.SkipIfOtherInProgress,
			PostExecute:    def.PostExecute,
			Status:         string(rec.Status),
			LastResult:     rec.LastResult,
			LastError:      rec.LastError,
			ExecutionCount: rec.ExecutionCount,
		}
		if !rec.LastExecution.IsZero() {
			v.LastExecution = rec.LastExecution.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, v)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// handleRunJob is the manual trigger. Admission denials come back as 409
// with the gate's reason.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.scheduler.Known(name) {
		httputil.WriteError(w, http.StatusNotFound, "unknown_job", "no such job: "+name)
		return
	}

	var data map[string]any
	if r.Body != nil && r.ContentLength > 0 {
		if err := httputil.ReadJSON(r, &data); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "bad_request", "malformed job parameters")
			return
		}
	}

	runID, err := s.scheduler.Dispatch(r.Context(), name, data)
	if err != nil {
		if denied, ok := jobs.IsAdmissionDenied(err); ok {
			httputil.WriteError(w, http.StatusConflict, "admission_denied", denied.Reason)
			return
		}
		s.log.WithError(err).WithField("job", name).Error("API: dispatch failed")
		httputil.WriteError(w, http.StatusInternalServerError, "dispatch_failed", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.progress.Snapshot(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "progress_unavailable", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}
