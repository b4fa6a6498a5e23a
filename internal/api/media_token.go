package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"syncstudio/services/studio/internal/artifacts"
)

var errInvalidMediaToken = errors.New("invalid media token")

// mediaTokenClaims carries the object key so redemption needs no store read.
type mediaTokenClaims struct {
	OwnerID    string `json:"ownerId"`
	ArtifactID string `json:"artifactId"`
	ObjectKey  string `json:"objectKey"`
	ExpiresAt  int64  `json:"exp"`
}

func (h *Handler) hasMediaTokenSecret() bool {
	return strings.TrimSpace(h.mediaTokenSecret) != ""
}

func (h *Handler) signMediaToken(ownerID, artifactID, objectKey string, expiresAt time.Time) (string, error) {
	if !h.hasMediaTokenSecret() {
		return "", errInvalidMediaToken
	}

	claims := mediaTokenClaims{
		OwnerID:    strings.TrimSpace(ownerID),
		ArtifactID: strings.TrimSpace(artifactID),
		ObjectKey:  strings.TrimSpace(objectKey),
		ExpiresAt:  expiresAt.UTC().Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	signature := h.signMediaPayload(encodedPayload)
	return encodedPayload + "." + signature, nil
}

func (h *Handler) verifyMediaToken(rawToken string) (mediaTokenClaims, error) {
	if !h.hasMediaTokenSecret() {
		return mediaTokenClaims{}, errInvalidMediaToken
	}

	parts := strings.Split(strings.TrimSpace(rawToken), ".")
	if len(parts) != 2 {
		return mediaTokenClaims{}, errInvalidMediaToken
	}

	encodedPayload := parts[0]
	signature := parts[1]
	expected := h.signMediaPayload(encodedPayload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return mediaTokenClaims{}, errInvalidMediaToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return mediaTokenClaims{}, errInvalidMediaToken
	}

	claims := mediaTokenClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return mediaTokenClaims{}, errInvalidMediaToken
	}

	if claims.OwnerID == "" || claims.ArtifactID == "" || claims.ObjectKey == "" {
		return mediaTokenClaims{}, errInvalidMediaToken
	}
	if claims.ExpiresAt < time.Now().UTC().Unix() {
		return mediaTokenClaims{}, errInvalidMediaToken
	}

	return claims, nil
}

func (h *Handler) signMediaPayload(encodedPayload string) string {
	mac := hmac.New(sha256.New, []byte(h.mediaTokenSecret))
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) createMediaToken(w http.ResponseWriter, r *http.Request) {
	if !h.hasMediaTokenSecret() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "media tokens are not configured"})
		return
	}

	artifactID := chi.URLParam(r, "artifactID")
	ownerID := h.ownerIDFromContext(r.Context())

	records, err := h.records.ListArtifacts(r.Context(), ownerID, "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "artifact lookup failed"})
		return
	}

	objectKey := ""
	for _, record := range records {
		if record.ID == artifactID {
			objectKey = record.ObjectKey
			break
		}
	}
	if objectKey == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact has no stored media"})
		return
	}

	expiresAt := time.Now().UTC().Add(h.mediaTokenTTL)
	token, err := h.signMediaToken(ownerID, artifactID, objectKey, expiresAt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token signing failed"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
}

// getMedia redeems a signed token for the artifact bytes. The token alone
// authorizes the read, so media URLs can be handed to a player untouched.
func (h *Handler) getMedia(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")

	claims, err := h.verifyMediaToken(r.URL.Query().Get("token"))
	if err != nil || claims.ArtifactID != artifactID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	payload, contentType, err := h.objects.LoadObject(r.Context(), claims.ObjectKey)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "artifact storage is not configured"})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "media not found"})
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
