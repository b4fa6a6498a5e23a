package studio

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

type fakeObjects struct {
	stored  map[string]json.RawMessage
	deleted []string
	err     error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{stored: map[string]json.RawMessage{}}
}

func (f *fakeObjects) StoreJSON(_ context.Context, objectKey string, payload json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.stored[objectKey] = payload
	return nil
}

func (f *fakeObjects) LoadObject(_ context.Context, objectKey string) ([]byte, string, error) {
	payload, ok := f.stored[objectKey]
	if !ok {
		return nil, "", errors.New("object not found")
	}
	return payload, "application/json", nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, objectKey string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func (f *fakeObjects) Close() error { return nil }

func resultsFixture() *fakeRecords {
	return &fakeRecords{artifacts: []store.ArtifactRecord{
		{ID: "a1", JobID: "job-1", SourceRef: "src-1", ShotNumber: 1, MediaRef: "media-1", ObjectKey: "result-media/a1"},
		{ID: "a2", JobID: "job-1", SourceRef: "src-2", ShotNumber: 1, MediaRef: "media-2"},
		{ID: "a3", JobID: "job-1", SourceRef: "src-1", ShotNumber: 2, MediaRef: "media-3"},
	}}
}

func TestLoadMovesSessionToResults(t *testing.T) {
	results := NewResults(&fakeInvoker{}, resultsFixture(), nil)
	sess := session.New("owner-1")

	if err := results.Load(context.Background(), sess, "job-1"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	snapshot := sess.Snapshot()
	if snapshot.Stage != session.StageResults {
		t.Fatalf("expected results stage, got %s", snapshot.Stage)
	}
	if len(snapshot.Results) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(snapshot.Results))
	}
}

func TestGroupBySourcePreservesFirstSeenOrder(t *testing.T) {
	groups := GroupBySource([]session.ResultArtifact{
		{ID: "a1", SourceRef: "src-1"},
		{ID: "a2", SourceRef: "src-2"},
		{ID: "a3", SourceRef: "src-1"},
	})

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].SourceRef != "src-1" || groups[1].SourceRef != "src-2" {
		t.Fatalf("unexpected group order %v", groups)
	}
	if len(groups[0].Artifacts) != 2 || groups[0].Artifacts[1].ID != "a3" {
		t.Fatalf("expected in-group record order to hold")
	}
}

func TestRateWritesStoreBeforeState(t *testing.T) {
	records := resultsFixture()
	records.failNext = errors.New("db down")
	results := NewResults(&fakeInvoker{}, records, nil)

	sess := session.New("owner-1")
	sess.Dispatch(session.ResultsLoaded{Results: []session.ResultArtifact{{ID: "a1", SourceRef: "src-1"}}})

	rating := 5
	if err := results.Rate(context.Background(), sess, "a1", &rating); err == nil {
		t.Fatalf("expected store failure to propagate")
	}
	if sess.Snapshot().Results[0].Rating != nil {
		t.Fatalf("state updated despite failed store write")
	}

	if err := results.Rate(context.Background(), sess, "a1", &rating); err != nil {
		t.Fatalf("rate failed: %v", err)
	}
	if got := sess.Snapshot().Results[0].Rating; got == nil || *got != 5 {
		t.Fatalf("expected rating applied after successful write")
	}
}

func TestRemoveDeletesStoredObject(t *testing.T) {
	records := resultsFixture()
	objects := newFakeObjects()
	results := NewResults(&fakeInvoker{}, records, objects)

	sess := session.New("owner-1")
	if err := results.Load(context.Background(), sess, "job-1"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := results.Remove(context.Background(), sess, "a1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if len(objects.deleted) != 1 || objects.deleted[0] != "result-media/a1" {
		t.Fatalf("expected the stored object deleted, got %v", objects.deleted)
	}
	for _, result := range sess.Snapshot().Results {
		if result.ID == "a1" {
			t.Fatalf("expected a1 removed from state")
		}
	}
}

func TestRemoveWithoutObjectKeySkipsObjectStore(t *testing.T) {
	records := resultsFixture()
	objects := newFakeObjects()
	results := NewResults(&fakeInvoker{}, records, objects)

	sess := session.New("owner-1")
	if err := results.Load(context.Background(), sess, "job-1"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := results.Remove(context.Background(), sess, "a2"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(objects.deleted) != 0 {
		t.Fatalf("expected no object deletions, got %v", objects.deleted)
	}
}

func TestRegenerateReloadsArtifacts(t *testing.T) {
	records := resultsFixture()
	invoker := &fakeInvoker{}
	invoker.handler = func(_ string, payload map[string]any) (json.RawMessage, error) {
		if payload["action"] != "regenerate" {
			t.Fatalf("expected regenerate action, got %v", payload["action"])
		}
		return mustJSON(map[string]any{}), nil
	}

	results := NewResults(invoker, records, nil)
	sess := session.New("owner-1")

	if err := results.Regenerate(context.Background(), sess, "a1"); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if len(sess.Snapshot().Results) != 3 {
		t.Fatalf("expected artifacts reloaded after regenerate")
	}
}

func TestExportWritesGroupedManifest(t *testing.T) {
	objects := newFakeObjects()
	results := NewResults(&fakeInvoker{}, resultsFixture(), objects)

	sess := session.New("owner-1")
	if err := results.Load(context.Background(), sess, "job-1"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	objectKey, err := results.Export(context.Background(), sess, "job-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	payload, ok := objects.stored[objectKey]
	if !ok {
		t.Fatalf("manifest not stored at %s", objectKey)
	}

	manifest := struct {
		OwnerID string        `json:"ownerId"`
		Groups  []ResultGroup `json:"groups"`
	}{}
	if err := json.Unmarshal(payload, &manifest); err != nil {
		t.Fatalf("manifest not valid json: %v", err)
	}
	if manifest.OwnerID != "owner-1" {
		t.Fatalf("unexpected manifest owner %s", manifest.OwnerID)
	}
	if len(manifest.Groups) != 2 {
		t.Fatalf("expected 2 source groups in manifest, got %d", len(manifest.Groups))
	}
}
