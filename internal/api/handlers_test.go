package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

// fakeStore is an in-memory Records implementation for handler tests.
type fakeStore struct {
	mu        sync.Mutex
	apiKeys   map[string]string
	catalog   []store.CatalogProduct
	plans     []store.PlanRecord
	items     []store.SourceItem
	artifacts []store.ArtifactRecord
	activeJob *store.JobRecord
	cleanups  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{apiKeys: map[string]string{}}
}

func (f *fakeStore) Health(context.Context) error { return nil }

func (f *fakeStore) ResolveOwnerIDByAPIKey(_ context.Context, rawKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ownerID, ok := f.apiKeys[rawKey]
	if !ok {
		return "", errors.New("unknown api key")
	}
	return ownerID, nil
}

func (f *fakeStore) ListOwners(context.Context) ([]store.Owner, error) { return nil, nil }

func (f *fakeStore) CreateOwnerWithAPIKey(_ context.Context, name, _, rawKey string) (store.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := store.Owner{ID: "own_" + name, Name: name, CreatedAt: time.Now()}
	f.apiKeys[rawKey] = owner.ID
	return owner, nil
}

func (f *fakeStore) CreateAPIKeyForOwner(_ context.Context, ownerID, label, rawKey string) (store.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys[rawKey] = ownerID
	return store.APIKey{ID: "key-1", OwnerID: ownerID, Label: label}, nil
}

func (f *fakeStore) ListCatalog(_ context.Context, search, category string) ([]store.CatalogProduct, error) {
	return f.catalog, nil
}

func (f *fakeStore) ActiveJob(context.Context, string) (*store.JobRecord, error) {
	return f.activeJob, nil
}

func (f *fakeStore) ListPlans(context.Context, string) ([]store.PlanRecord, error) {
	return f.plans, nil
}

func (f *fakeStore) ListSourceItems(context.Context, string) ([]store.SourceItem, error) {
	return f.items, nil
}

func (f *fakeStore) DeletePlan(context.Context, string, string) error       { return nil }
func (f *fakeStore) DeleteSourceItem(context.Context, string, string) error { return nil }

func (f *fakeStore) ListArtifacts(context.Context, string, string) ([]store.ArtifactRecord, error) {
	return f.artifacts, nil
}

func (f *fakeStore) UpdateArtifactRating(context.Context, string, string, *int) error { return nil }

func (f *fakeStore) DeleteArtifact(context.Context, string, string) (store.ArtifactRecord, error) {
	return store.ArtifactRecord{}, nil
}

func (f *fakeStore) CreateVideoProject(_ context.Context, ownerID, title string, storyboard json.RawMessage) (store.VideoProject, error) {
	return store.VideoProject{ID: "vp-1", OwnerID: ownerID, Title: title, Storyboard: storyboard}, nil
}

func (f *fakeStore) GetVideoProject(context.Context, string, string) (store.VideoProject, error) {
	return store.VideoProject{}, errors.New("not found")
}

func (f *fakeStore) UpdateVideoProjectStatus(context.Context, string, string, string, string) error {
	return nil
}

func (f *fakeStore) CleanupExpiredData(_ context.Context, _ string, retentionDays int) (store.CleanupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return store.CleanupResult{RetentionDays: retentionDays}, nil
}

type noopInvoker struct{}

func (noopInvoker) Invoke(_ context.Context, operation string, _ any) (json.RawMessage, error) {
	return nil, fmt.Errorf("no remote configured for %s", operation)
}

func testHandler(t *testing.T, records Records, configure func(*Deps)) *Handler {
	t.Helper()
	deps := Deps{
		Records:     records,
		Invoker:     noopInvoker{},
		BaseContext: context.Background(),
	}
	if configure != nil {
		configure(&deps)
	}
	return NewHandler(deps)
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthz(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodGet, "/healthz", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestSelectionToggleFlow(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	router := handler.Router()

	recorder := doJSON(t, router, http.MethodPost, "/v1/selection/toggle", map[string]any{
		"product": map[string]any{"id": "p1", "name": "Widget"},
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", recorder.Code, recorder.Body.String())
	}

	response := struct {
		Session session.State `json:"session"`
	}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Session.Selection) != 1 {
		t.Fatalf("expected 1 selected item, got %d", len(response.Session.Selection))
	}

	recorder = doJSON(t, router, http.MethodPost, "/v1/selection/toggle", map[string]any{
		"product": map[string]any{"id": "p1", "name": "Widget"},
	}, nil)
	response.Session = session.State{}
	_ = json.Unmarshal(recorder.Body.Bytes(), &response)
	if len(response.Session.Selection) != 0 {
		t.Fatalf("expected toggle to deselect, got %d items", len(response.Session.Selection))
	}
}

func TestSessionResetReturnsToSelection(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	router := handler.Router()

	recorder := doJSON(t, router, http.MethodPost, "/v1/selection/toggle", map[string]any{
		"product": map[string]any{"id": "p1", "name": "Widget"},
	}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("toggle failed: %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/v1/session/reset", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	response := struct {
		Session session.State `json:"session"`
	}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Session.Stage != session.StageSelect {
		t.Fatalf("expected select stage after reset, got %s", response.Session.Stage)
	}
	if len(response.Session.Selection) != 0 {
		t.Fatalf("expected an empty selection after reset, got %d items", len(response.Session.Selection))
	}
}

func TestClearSessionError(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	router := handler.Router()

	handler.runtimeFor(defaultOwnerID).sess.Dispatch(session.SetError{Message: "render farm offline"})

	recorder := doJSON(t, router, http.MethodPost, "/v1/session/clear-error", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	response := struct {
		Session session.State `json:"session"`
	}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Session.Err != "" {
		t.Fatalf("expected error cleared, got %q", response.Session.Err)
	}
}

func TestToggleRequiresProductID(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodPost, "/v1/selection/toggle", map[string]any{
		"product": map[string]any{"name": "Widget"},
	}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestWriteAccessRequiresKeyWhenConfigured(t *testing.T) {
	records := newFakeStore()
	records.apiKeys["owner-key"] = "owner-42"

	handler := testHandler(t, records, func(deps *Deps) {
		deps.StudioAPIKey = "service-key"
	})
	router := handler.Router()

	payload := map[string]any{"product": map[string]any{"id": "p1", "name": "Widget"}}

	recorder := doJSON(t, router, http.MethodPost, "/v1/selection/toggle", payload, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a key, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/v1/selection/toggle", payload, map[string]string{
		"X-Studio-Key": "bogus",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with an unknown key, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/v1/selection/toggle", payload, map[string]string{
		"X-Studio-Key": "service-key",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with the service key, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/v1/selection/toggle", payload, map[string]string{
		"X-Studio-Key": "owner-key",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with a stored owner key, got %d", recorder.Code)
	}

	// Anonymous reads stay open.
	recorder = doJSON(t, router, http.MethodGet, "/v1/session", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected anonymous session read to succeed, got %d", recorder.Code)
	}
}

func TestOwnerKeysIsolateSessions(t *testing.T) {
	records := newFakeStore()
	records.apiKeys["key-a"] = "owner-a"
	records.apiKeys["key-b"] = "owner-b"

	handler := testHandler(t, records, func(deps *Deps) {
		deps.StudioAPIKey = "service-key"
	})
	router := handler.Router()

	recorder := doJSON(t, router, http.MethodPost, "/v1/selection/toggle", map[string]any{
		"product": map[string]any{"id": "p1", "name": "Widget"},
	}, map[string]string{"X-Studio-Key": "key-a"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("owner-a toggle failed: %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodGet, "/v1/session", nil, map[string]string{"X-Studio-Key": "key-b"})
	response := struct {
		Session session.State `json:"session"`
	}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Session.Selection) != 0 {
		t.Fatalf("owner-b sees owner-a's selection")
	}
}

func TestSessionResumesFromStoredPlans(t *testing.T) {
	records := newFakeStore()
	records.plans = []store.PlanRecord{{ID: "plan-1", SourceRef: "src-1", Status: "pending"}}
	records.items = []store.SourceItem{{Ref: "src-1", Name: "Widget"}}

	handler := testHandler(t, records, nil)
	recorder := doJSON(t, handler.Router(), http.MethodGet, "/v1/session", nil, nil)

	response := struct {
		Session session.State `json:"session"`
	}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Session.Stage != session.StagePlan {
		t.Fatalf("expected resumed plan stage, got %s", response.Session.Stage)
	}
	if len(response.Session.Plans) != 1 {
		t.Fatalf("expected 1 resumed plan, got %d", len(response.Session.Plans))
	}
}

func TestPlanningStartRejectsEmptySelection(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodPost, "/v1/planning/start", nil, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestExecutionStartWithoutApprovedPlans(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodPost, "/v1/execution/start", nil, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestExecutionCancelWithoutJob(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodPost, "/v1/execution/cancel", nil, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestAdminEndpointsRequireAdminKey(t *testing.T) {
	records := newFakeStore()

	handler := testHandler(t, records, func(deps *Deps) {
		deps.AdminAPIKey = "admin-key"
	})
	router := handler.Router()

	body := map[string]any{"name": "acme"}

	recorder := doJSON(t, router, http.MethodPost, "/v1/admin/owners", body, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, http.MethodPost, "/v1/admin/owners", body, map[string]string{
		"X-Studio-Admin": "admin-key",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", recorder.Code, recorder.Body.String())
	}

	response := struct {
		Owner  store.Owner `json:"owner"`
		APIKey string      `json:"apiKey"`
	}{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.APIKey == "" {
		t.Fatalf("expected a generated api key")
	}

	// The returned key resolves to the new owner.
	ownerID, err := records.ResolveOwnerIDByAPIKey(context.Background(), response.APIKey)
	if err != nil || ownerID != response.Owner.ID {
		t.Fatalf("generated key does not resolve: %v", err)
	}
}

func TestAdminEndpointsDisabledWithoutConfiguredKey(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodPost, "/v1/admin/owners", map[string]any{"name": "acme"}, map[string]string{
		"X-Studio-Admin": "whatever",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestCleanupEndpointReportsResult(t *testing.T) {
	records := newFakeStore()
	handler := testHandler(t, records, func(deps *Deps) {
		deps.ResultRetentionDays = 14
	})

	recorder := doJSON(t, handler.Router(), http.MethodPost, "/v1/maintenance/cleanup", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	result := store.CleanupResult{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.RetentionDays != 14 {
		t.Fatalf("expected configured retention days, got %d", result.RetentionDays)
	}
	if records.cleanups != 1 {
		t.Fatalf("expected one cleanup run, got %d", records.cleanups)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := testHandler(t, newFakeStore(), nil)
	recorder := doJSON(t, handler.Router(), http.MethodGet, "/metrics", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !bytes.Contains(recorder.Body.Bytes(), []byte("studio_uptime_seconds")) {
		t.Fatalf("metrics output missing uptime gauge")
	}
}
