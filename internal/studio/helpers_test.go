package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"syncstudio/services/studio/internal/store"
)

// fakeInvoker records every call and answers through a scripted handler.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []invocation
	handler func(operation string, payload map[string]any) (json.RawMessage, error)
}

type invocation struct {
	operation string
	payload   map[string]any
}

func (f *fakeInvoker) Invoke(_ context.Context, operation string, payload any) (json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, invocation{operation: operation, payload: decoded})
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return nil, fmt.Errorf("unexpected invocation of %s", operation)
	}
	return handler(operation, decoded)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInvoker) callsFor(operation string) []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]invocation, 0, len(f.calls))
	for _, call := range f.calls {
		if call.operation == operation {
			matched = append(matched, call)
		}
	}
	return matched
}

func action(call invocation) string {
	value, _ := call.payload["action"].(string)
	return value
}

// fakeRecords is an in-memory stand-in for the pieces of the store the stage
// controllers read and write.
type fakeRecords struct {
	mu                 sync.Mutex
	plans              []store.PlanRecord
	sourceItems        []store.SourceItem
	artifacts          []store.ArtifactRecord
	activeJob          *store.JobRecord
	deletedPlans       []string
	deletedSourceItems []string
	failNext           error
}

func (f *fakeRecords) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeRecords) ListPlans(_ context.Context, _ string) ([]store.PlanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return append([]store.PlanRecord(nil), f.plans...), nil
}

func (f *fakeRecords) ListSourceItems(_ context.Context, _ string) ([]store.SourceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.SourceItem(nil), f.sourceItems...), nil
}

func (f *fakeRecords) ActiveJob(_ context.Context, _ string) (*store.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if f.activeJob == nil {
		return nil, nil
	}
	job := *f.activeJob
	return &job, nil
}

func (f *fakeRecords) DeletePlan(_ context.Context, _ string, planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.deletedPlans = append(f.deletedPlans, planID)
	return nil
}

func (f *fakeRecords) DeleteSourceItem(_ context.Context, _ string, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedSourceItems = append(f.deletedSourceItems, ref)
	return nil
}

func (f *fakeRecords) ListArtifacts(_ context.Context, _ string, jobID string) ([]store.ArtifactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if jobID == "" {
		return append([]store.ArtifactRecord(nil), f.artifacts...), nil
	}
	matched := make([]store.ArtifactRecord, 0, len(f.artifacts))
	for _, artifact := range f.artifacts {
		if artifact.JobID == jobID {
			matched = append(matched, artifact)
		}
	}
	return matched, nil
}

func (f *fakeRecords) UpdateArtifactRating(_ context.Context, _ string, artifactID string, rating *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	for i := range f.artifacts {
		if f.artifacts[i].ID == artifactID {
			f.artifacts[i].Rating = rating
			return nil
		}
	}
	return fmt.Errorf("artifact %s not found", artifactID)
}

func (f *fakeRecords) DeleteArtifact(_ context.Context, _ string, artifactID string) (store.ArtifactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return store.ArtifactRecord{}, err
	}
	for i, artifact := range f.artifacts {
		if artifact.ID == artifactID {
			f.artifacts = append(f.artifacts[:i], f.artifacts[i+1:]...)
			return artifact, nil
		}
	}
	return store.ArtifactRecord{}, fmt.Errorf("artifact %s not found", artifactID)
}

func mustJSON(payload any) json.RawMessage {
	encoded, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return encoded
}
