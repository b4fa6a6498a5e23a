package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"syncstudio/services/studio/internal/artifacts"
	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/studio"
)

// startPlanning kicks the import-then-generate loop off in the background.
// The loop runs on the handler's base context so it outlives the request.
func (h *Handler) startPlanning(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	runtime := h.runtimeFor(ownerID)

	snapshot := runtime.sess.Snapshot()
	if len(snapshot.Selection) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "select at least one product before planning"})
		return
	}
	if snapshot.PlanningStatus == session.PlanningImporting || snapshot.PlanningStatus == session.PlanningGenerating {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "planning already in progress"})
		return
	}

	h.metrics.planningRunsTotal.Add(1)
	go func() {
		if err := runtime.planner.Run(h.baseCtx, runtime.sess); err != nil {
			h.metrics.planningFailuresTotal.Add(1)
			log.Printf("planning run failed owner=%s err=%v", ownerID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"planningStatus": session.PlanningImporting})
}

func (h *Handler) approvePlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if err := runtime.review.Approve(r.Context(), runtime.sess, planID); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) approveAllPlans(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if err := runtime.review.ApproveAll(r.Context(), runtime.sess); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

type shotRequest struct {
	Shot session.Shot `json:"shot"`
}

func (h *Handler) addShot(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	payload := shotRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	if err := runtime.review.AddShot(r.Context(), runtime.sess, planID, payload.Shot); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) updateShot(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	shotNumber, err := strconv.Atoi(chi.URLParam(r, "shotNumber"))
	if err != nil || shotNumber < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shot number"})
		return
	}

	payload := shotRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	if err := runtime.review.UpdateShot(r.Context(), runtime.sess, planID, shotNumber, payload.Shot); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) removeShot(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	shotNumber, err := strconv.Atoi(chi.URLParam(r, "shotNumber"))
	if err != nil || shotNumber < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shot number"})
		return
	}

	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	if err := runtime.review.RemoveShot(r.Context(), runtime.sess, planID, shotNumber); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) resetPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if err := runtime.review.ResetPlan(r.Context(), runtime.sess, planID); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) rejectPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	sourceRef := ""
	for _, plan := range runtime.sess.Snapshot().Plans {
		if plan.PlanID == planID {
			sourceRef = plan.SourceRef
			break
		}
	}
	if sourceRef == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "plan not found"})
		return
	}

	if err := runtime.review.Reject(r.Context(), runtime.sess, planID, sourceRef); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) startExecution(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	err := runtime.scheduler.Start(h.baseCtx, runtime.sess)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, studio.ErrNoApprovedPlans) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	h.metrics.executionJobsStartedTotal.Add(1)
	writeJSON(w, http.StatusAccepted, map[string]any{"job": runtime.sess.Snapshot().Job})
}

// cancelExecution always reports the locally cancelled job; a failed remote
// cancel rides along as cancelError.
func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if runtime.sess.Snapshot().Job == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no execution job to cancel"})
		return
	}

	cancelError := ""
	if err := runtime.scheduler.Cancel(r.Context(), runtime.sess); err != nil {
		cancelError = err.Error()
	}

	h.metrics.executionJobsCancelledTotal.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"job":         runtime.sess.Snapshot().Job,
		"cancelError": cancelError,
	})
}

func (h *Handler) loadResults(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if err := runtime.results.Load(r.Context(), runtime.sess, jobID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	snapshot := runtime.sess.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"results": snapshot.Results,
		"groups":  studio.GroupBySource(snapshot.Results),
	})
}

type rateResultRequest struct {
	Rating *int `json:"rating"`
}

func (h *Handler) rateResult(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")
	payload := rateResultRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if payload.Rating != nil && (*payload.Rating < 1 || *payload.Rating > 5) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating must be between 1 and 5"})
		return
	}

	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	if err := runtime.results.Rate(r.Context(), runtime.sess, artifactID, payload.Rating); err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": runtime.sess.Snapshot().Results})
}

func (h *Handler) removeResult(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if err := runtime.results.Remove(r.Context(), runtime.sess, artifactID); err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": runtime.sess.Snapshot().Results})
}

func (h *Handler) regenerateResult(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	if err := runtime.results.Regenerate(r.Context(), runtime.sess, artifactID); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": runtime.sess.Snapshot().Results})
}

func (h *Handler) exportResults(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))

	objectKey, err := runtime.results.Export(r.Context(), runtime.sess, jobID)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "artifact storage is not configured"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"objectKey": objectKey})
}
