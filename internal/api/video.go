package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"syncstudio/services/studio/internal/video"
)

type createStoryboardRequest struct {
	Brief video.Brief `json:"brief"`
}

func (h *Handler) createStoryboard(w http.ResponseWriter, r *http.Request) {
	payload := createStoryboardRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(payload.Brief.ProductName) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "productName is required"})
		return
	}

	ownerID := h.ownerIDFromContext(r.Context())
	project, err := h.pipeline.Storyboard(r.Context(), ownerID, payload.Brief)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	shots, err := h.pipeline.Shots(r.Context(), ownerID, project.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"project": project,
		"shots":   shots,
	})
}

func (h *Handler) listVideoShots(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	shots, err := h.pipeline.Shots(r.Context(), ownerID, projectID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shots": shots})
}

// generateVideoShots runs the fan-out in the background; one shot can poll
// for minutes. Callers follow along via GET shots.
func (h *Handler) generateVideoShots(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	shots, err := h.pipeline.Shots(r.Context(), ownerID, projectID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if h.pipeline.Running(projectID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "generation already in progress"})
		return
	}

	go func() {
		outcomes, err := h.pipeline.GenerateAll(h.baseCtx, ownerID, projectID)
		if err != nil {
			log.Printf("video generation run failed project=%s err=%v", projectID, err)
			return
		}
		for _, outcome := range outcomes {
			if outcome.Status == video.UnitCompleted {
				h.metrics.videoShotsGeneratedTotal.Add(1)
			} else {
				h.metrics.videoShotsFailedTotal.Add(1)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"shots": shots})
}

func (h *Handler) retryVideoShot(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")
	shotID := chi.URLParam(r, "shotID")

	shots, err := h.pipeline.Shots(r.Context(), ownerID, projectID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	known := false
	for _, shot := range shots {
		if shot.ShotID == shotID {
			known = true
			break
		}
	}
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "shot not found"})
		return
	}

	go func() {
		outcome, err := h.pipeline.Retry(h.baseCtx, ownerID, projectID, shotID)
		if err != nil {
			log.Printf("video shot retry failed project=%s shot=%s err=%v", projectID, shotID, err)
			return
		}
		if outcome.Status == video.UnitCompleted {
			h.metrics.videoShotsGeneratedTotal.Add(1)
		} else {
			h.metrics.videoShotsFailedTotal.Add(1)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"shotId": shotID})
}

func (h *Handler) removeVideoShot(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")
	shotID := chi.URLParam(r, "shotID")

	if err := h.pipeline.RemoveShot(r.Context(), ownerID, projectID, shotID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	shots, err := h.pipeline.Shots(r.Context(), ownerID, projectID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shots": shots})
}

func (h *Handler) assembleVideo(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	mediaRef, err := h.pipeline.Assemble(r.Context(), ownerID, projectID)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mediaRef": mediaRef})
}
