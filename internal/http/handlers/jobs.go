package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tkendall99/bedtime-solved/internal/pipeline"
)

type processNextRequest struct {
	JobID string `json:"job_id"`
}

// AdminProcessNext advances one job by one step: the oldest queued job, or
// the one named in the body.
func (a *App) AdminProcessNext(w http.ResponseWriter, r *http.Request) {
	var req processNextRequest
	if err := decode(w, r, &req, true); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	clearWriteDeadline(w)
	res, err := a.process(r.Context(), strings.TrimSpace(req.JobID))
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", req.JobID).Msg("http: process-next failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process job")
		return
	}
	a.respondResult(w, res)
}

// hookPayload accepts a database webhook row event or a bare job id.
type hookPayload struct {
	Type   string `json:"type"`
	Record struct {
		ID string `json:"id"`
	} `json:"record"`
	JobID string `json:"job_id"`
}

// BookJobsHook runs one step of the job named by a webhook, then hands the
// continuation to the queue so the next step runs outside this request.
func (a *App) BookJobsHook(w http.ResponseWriter, r *http.Request) {
	var p hookPayload
	if err := decode(w, r, &p, false); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID := strings.TrimSpace(p.JobID)
	if jobID == "" {
		if p.Type != "" && !strings.EqualFold(p.Type, "INSERT") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jobID = strings.TrimSpace(p.Record.ID)
	}
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return
	}

	clearWriteDeadline(w)
	res, err := a.process(r.Context(), jobID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("http: hook processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process job")
		return
	}
	if res.HasMore && a.Notifier != nil {
		if err := a.Notifier.Notify(r.Context(), res.JobID); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", res.JobID).Msg("http: continuation notify failed")
		}
	}
	a.respondResult(w, res)
}

func (a *App) process(ctx context.Context, jobID string) (pipeline.ProcessResult, error) {
	if jobID != "" {
		return a.Jobs.ProcessJob(ctx, jobID)
	}
	return a.Jobs.ProcessNext(ctx)
}

func (a *App) respondResult(w http.ResponseWriter, res pipeline.ProcessResult) {
	if !res.Processed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.json(w, http.StatusOK, res)
}

// clearWriteDeadline lets a step outlive the server's write timeout; the
// step has its own timeout.
func clearWriteDeadline(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}
