package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"syncstudio/services/studio/internal/artifacts"
	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/feed"
	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
	"syncstudio/services/studio/internal/studio"
	"syncstudio/services/studio/internal/video"
)

// Records is the slice of the persistent store the API layer depends on.
// *store.Postgres satisfies it; tests use fakes.
type Records interface {
	Health(ctx context.Context) error
	ResolveOwnerIDByAPIKey(ctx context.Context, rawKey string) (string, error)
	ListOwners(ctx context.Context) ([]store.Owner, error)
	CreateOwnerWithAPIKey(ctx context.Context, name, label, rawKey string) (store.Owner, error)
	CreateAPIKeyForOwner(ctx context.Context, ownerID, label, rawKey string) (store.APIKey, error)
	ListCatalog(ctx context.Context, search, category string) ([]store.CatalogProduct, error)
	ActiveJob(ctx context.Context, ownerID string) (*store.JobRecord, error)
	ListPlans(ctx context.Context, ownerID string) ([]store.PlanRecord, error)
	ListSourceItems(ctx context.Context, ownerID string) ([]store.SourceItem, error)
	DeletePlan(ctx context.Context, ownerID, planID string) error
	DeleteSourceItem(ctx context.Context, ownerID, ref string) error
	ListArtifacts(ctx context.Context, ownerID, jobID string) ([]store.ArtifactRecord, error)
	UpdateArtifactRating(ctx context.Context, ownerID, artifactID string, rating *int) error
	DeleteArtifact(ctx context.Context, ownerID, artifactID string) (store.ArtifactRecord, error)
	CreateVideoProject(ctx context.Context, ownerID, title string, storyboard json.RawMessage) (store.VideoProject, error)
	GetVideoProject(ctx context.Context, ownerID, projectID string) (store.VideoProject, error)
	UpdateVideoProjectStatus(ctx context.Context, ownerID, projectID, status, mediaRef string) error
	CleanupExpiredData(ctx context.Context, ownerID string, retentionDays int) (store.CleanupResult, error)
}

type Deps struct {
	Records             Records
	Invoker             exec.Invoker
	Events              feed.Producer
	Objects             artifacts.Store
	Notifier            *studio.WebhookNotifier
	CORSAllowedOrigins  []string
	AdminAPIKey         string
	StudioAPIKey        string
	MediaTokenSecret    string
	MediaTokenTTL       time.Duration
	PlanContinueDelay   time.Duration
	ExecPollInterval    time.Duration
	UnitPollDelay       time.Duration
	UnitPollMaxAttempts int
	RateLimitPerSec     float64
	RateLimitBurst      int
	ResultRetentionDays int
	BaseContext         context.Context
}

type Handler struct {
	records             Records
	invoker             exec.Invoker
	events              feed.Producer
	objects             artifacts.Store
	notifier            *studio.WebhookNotifier
	pipeline            *video.Pipeline
	corsAllowedOrigins  []string
	adminAPIKey         string
	studioAPIKey        string
	mediaTokenSecret    string
	mediaTokenTTL       time.Duration
	planContinueDelay   time.Duration
	execPollInterval    time.Duration
	rateLimiter         *apiRateLimiter
	metrics             *apiMetrics
	resultRetentionDays int
	baseCtx             context.Context

	mu       sync.Mutex
	sessions map[string]*ownerRuntime
}

// ownerRuntime bundles one owner's session with its stage controllers.
type ownerRuntime struct {
	sess      *session.Session
	planner   *studio.Planner
	review    *studio.Review
	scheduler *studio.Scheduler
	results   *studio.Results
	resume    sync.Once
}

type requestContextKey string

const (
	defaultOwnerID          = "owner_default"
	ownerIDContextKey       = requestContextKey("owner_id")
	keyAuthenticatedContext = requestContextKey("key_authenticated")
)

func NewHandler(deps Deps) *Handler {
	events := deps.Events
	if events == nil {
		events = feed.NewNoopProducer()
	}
	objects := deps.Objects
	if objects == nil {
		objects = artifacts.NewNoopStore()
	}
	baseCtx := deps.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	mediaTokenTTL := deps.MediaTokenTTL
	if mediaTokenTTL <= 0 {
		mediaTokenTTL = 5 * time.Minute
	}

	metrics := newAPIMetrics()
	generator := video.NewGenerator(deps.Invoker, deps.UnitPollDelay, deps.UnitPollMaxAttempts)

	return &Handler{
		records:             deps.Records,
		invoker:             deps.Invoker,
		events:              events,
		objects:             objects,
		notifier:            deps.Notifier,
		pipeline:            video.NewPipeline(generator, deps.Invoker, deps.Records),
		corsAllowedOrigins:  deps.CORSAllowedOrigins,
		adminAPIKey:         deps.AdminAPIKey,
		studioAPIKey:        deps.StudioAPIKey,
		mediaTokenSecret:    deps.MediaTokenSecret,
		mediaTokenTTL:       mediaTokenTTL,
		planContinueDelay:   deps.PlanContinueDelay,
		execPollInterval:    deps.ExecPollInterval,
		rateLimiter:         newAPIRateLimiter(deps.RateLimitPerSec, deps.RateLimitBurst, metrics),
		metrics:             metrics,
		resultRetentionDays: deps.ResultRetentionDays,
		baseCtx:             baseCtx,
		sessions:            map[string]*ownerRuntime{},
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	if h.rateLimiter != nil {
		r.Use(h.rateLimiter.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Studio-Key", "X-Studio-Admin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/metrics", h.metrics.handleMetrics)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.With(h.requireAdminAccess).Post("/owners", h.createOwner)
			r.With(h.requireAdminAccess).Post("/owners/{ownerID}/keys", h.createOwnerAPIKey)
		})

		r.Get("/media/{artifactID}", h.getMedia)

		r.Group(func(r chi.Router) {
			r.Use(h.withOwnerContext)

			r.Get("/session", h.getSession)
			r.With(h.requireWriteAccess).Post("/session/reset", h.resetSession)
			r.With(h.requireWriteAccess).Post("/session/clear-error", h.clearSessionError)
			r.Get("/catalog", h.listCatalog)

			r.With(h.requireWriteAccess).Post("/selection/toggle", h.toggleSelection)
			r.With(h.requireWriteAccess).Post("/selection/page", h.selectPage)
			r.With(h.requireWriteAccess).Post("/selection/clear", h.clearSelection)
			r.With(h.requireWriteAccess).Delete("/selection/{productID}", h.removeSelection)

			r.With(h.requireWriteAccess).Post("/planning/start", h.startPlanning)

			r.With(h.requireWriteAccess).Post("/plans/approve-all", h.approveAllPlans)
			r.With(h.requireWriteAccess).Post("/plans/{planID}/approve", h.approvePlan)
			r.With(h.requireWriteAccess).Post("/plans/{planID}/shots", h.addShot)
			r.With(h.requireWriteAccess).Post("/plans/{planID}/shots/{shotNumber}", h.updateShot)
			r.With(h.requireWriteAccess).Delete("/plans/{planID}/shots/{shotNumber}", h.removeShot)
			r.With(h.requireWriteAccess).Post("/plans/{planID}/reset", h.resetPlan)
			r.With(h.requireWriteAccess).Delete("/plans/{planID}", h.rejectPlan)

			r.With(h.requireWriteAccess).Post("/execution/start", h.startExecution)
			r.With(h.requireWriteAccess).Post("/execution/cancel", h.cancelExecution)

			r.Get("/results", h.loadResults)
			r.With(h.requireWriteAccess).Post("/results/export", h.exportResults)
			r.With(h.requireWriteAccess).Post("/results/{artifactID}/rating", h.rateResult)
			r.With(h.requireWriteAccess).Post("/results/{artifactID}/regenerate", h.regenerateResult)
			r.With(h.requireWriteAccess).Post("/results/{artifactID}/media-token", h.createMediaToken)
			r.With(h.requireWriteAccess).Delete("/results/{artifactID}", h.removeResult)

			r.With(h.requireWriteAccess).Post("/video/projects", h.createStoryboard)
			r.Get("/video/projects/{projectID}/shots", h.listVideoShots)
			r.With(h.requireWriteAccess).Post("/video/projects/{projectID}/generate", h.generateVideoShots)
			r.With(h.requireWriteAccess).Post("/video/projects/{projectID}/shots/{shotID}/retry", h.retryVideoShot)
			r.With(h.requireWriteAccess).Delete("/video/projects/{projectID}/shots/{shotID}", h.removeVideoShot)
			r.With(h.requireWriteAccess).Post("/video/projects/{projectID}/assemble", h.assembleVideo)

			r.With(h.requireWriteAccess).Post("/maintenance/cleanup", h.cleanupExpiredData)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.records.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runtimeFor lazily builds one owner's session and resumes it from the store
// on first access. Resume failures are logged; the session stays usable at
// the Select stage.
func (h *Handler) runtimeFor(ownerID string) *ownerRuntime {
	h.mu.Lock()
	runtime, ok := h.sessions[ownerID]
	if !ok {
		sess := session.New(ownerID)
		scheduler := studio.NewScheduler(h.invoker, h.events, h.notifier, h.execPollInterval)
		runtime = &ownerRuntime{
			sess:      sess,
			planner:   studio.NewPlanner(h.invoker, h.records, h.events, h.planContinueDelay),
			review:    studio.NewReview(h.invoker, h.records),
			scheduler: scheduler,
			results:   studio.NewResults(h.invoker, h.records, h.objects),
		}
		h.sessions[ownerID] = runtime
	}
	h.mu.Unlock()

	runtime.resume.Do(func() {
		controller := studio.NewResumeController(h.records, runtime.scheduler)
		if err := controller.Resume(h.baseCtx, runtime.sess); err != nil {
			log.Printf("session resume failed owner=%s err=%v", ownerID, err)
		}
	})
	return runtime
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

// resetSession discards the owner's session and starts over at product
// selection. A running poll loop is stopped first.
func (h *Handler) resetSession(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	if runtime.scheduler.Running() {
		runtime.scheduler.Stop()
	}
	runtime.sess.Dispatch(session.ResetSession{})
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) clearSessionError(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	runtime.sess.Dispatch(session.ClearError{})
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	products, err := h.records.ListCatalog(r.Context(), search, category)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "catalog lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

type toggleSelectionRequest struct {
	Product session.SelectionItem `json:"product"`
}

func (h *Handler) toggleSelection(w http.ResponseWriter, r *http.Request) {
	payload := toggleSelectionRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(payload.Product.ID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product id is required"})
		return
	}

	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	runtime.sess.Dispatch(session.ToggleSelection{Item: payload.Product})
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

type selectPageRequest struct {
	Products []session.SelectionItem `json:"products"`
}

func (h *Handler) selectPage(w http.ResponseWriter, r *http.Request) {
	payload := selectPageRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	runtime.sess.Dispatch(session.SelectPage{Items: payload.Products})
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) clearSelection(w http.ResponseWriter, r *http.Request) {
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	runtime.sess.Dispatch(session.ClearSelection{})
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

func (h *Handler) removeSelection(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	runtime := h.runtimeFor(h.ownerIDFromContext(r.Context()))
	runtime.sess.Dispatch(session.RemoveSelection{ID: productID})
	writeJSON(w, http.StatusOK, map[string]any{"session": runtime.sess.Snapshot()})
}

type createOwnerRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (h *Handler) createOwner(w http.ResponseWriter, r *http.Request) {
	payload := createOwnerRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	label := strings.TrimSpace(payload.Label)
	if label == "" {
		label = "default-key"
	}

	rawKey := generateRawAPIKey()
	owner, err := h.records.CreateOwnerWithAPIKey(r.Context(), name, label, rawKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "owner creation failed"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"owner":  owner,
		"apiKey": rawKey,
	})
}

type createOwnerAPIKeyRequest struct {
	Label string `json:"label"`
}

func (h *Handler) createOwnerAPIKey(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	payload := createOwnerAPIKeyRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	label := strings.TrimSpace(payload.Label)
	if label == "" {
		label = "owner-key"
	}

	rawKey := generateRawAPIKey()
	stored, err := h.records.CreateAPIKeyForOwner(r.Context(), ownerID, label, rawKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "api key creation failed"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"apiKeyId": stored.ID,
		"ownerId":  stored.OwnerID,
		"label":    stored.Label,
		"apiKey":   rawKey,
	})
}

func (h *Handler) cleanupExpiredData(w http.ResponseWriter, r *http.Request) {
	ownerID := h.ownerIDFromContext(r.Context())
	result, err := h.records.CleanupExpiredData(r.Context(), ownerID, h.resultRetentionDays)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	for _, objectKey := range result.DeletedObjectKeys {
		err := h.objects.DeleteObject(r.Context(), objectKey)
		if err != nil && !errors.Is(err, artifacts.ErrNotConfigured) {
			log.Printf("failed to delete artifact object key=%s err=%v", objectKey, err)
		}
	}

	h.metrics.cleanupRunsTotal.Add(1)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
}

func (h *Handler) withOwnerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := strings.TrimSpace(r.Header.Get("X-Studio-Key"))
		ownerID := defaultOwnerID
		authenticated := false

		switch {
		case provided == "":
			// anonymous read access falls back to the default owner.
		case strings.TrimSpace(h.studioAPIKey) != "" && provided == h.studioAPIKey:
			authenticated = true
		default:
			resolvedOwnerID, err := h.records.ResolveOwnerIDByAPIKey(r.Context(), provided)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			ownerID = resolvedOwnerID
			authenticated = true
		}

		ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
		ctx = context.WithValue(ctx, keyAuthenticatedContext, authenticated)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireWriteAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(h.studioAPIKey) == "" {
			next.ServeHTTP(w, r)
			return
		}

		if h.keyAuthenticatedFromContext(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
}

func (h *Handler) requireAdminAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(h.adminAPIKey) == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin endpoints disabled"})
			return
		}

		provided := strings.TrimSpace(r.Header.Get("X-Studio-Admin"))
		if provided == h.adminAPIKey {
			next.ServeHTTP(w, r)
			return
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
}

func (h *Handler) ownerIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(ownerIDContextKey).(string)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultOwnerID
	}
	return value
}

func (h *Handler) keyAuthenticatedFromContext(ctx context.Context) bool {
	value, ok := ctx.Value(keyAuthenticatedContext).(bool)
	return ok && value
}

func generateRawAPIKey() string {
	return "ssk_" + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}
