package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/store"
)

type fakeProjects struct {
	mu       sync.Mutex
	projects map[string]store.VideoProject
	statuses map[string]string
	nextID   int
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{
		projects: map[string]store.VideoProject{},
		statuses: map[string]string{},
	}
}

func (f *fakeProjects) CreateVideoProject(_ context.Context, ownerID, title string, storyboard json.RawMessage) (store.VideoProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	project := store.VideoProject{
		ID:         fmt.Sprintf("vp-%d", f.nextID),
		OwnerID:    ownerID,
		Title:      title,
		Status:     "storyboarded",
		Storyboard: storyboard,
	}
	f.projects[project.ID] = project
	return project, nil
}

func (f *fakeProjects) GetVideoProject(_ context.Context, _ string, projectID string) (store.VideoProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.VideoProject{}, errors.New("project not found")
	}
	return project, nil
}

func (f *fakeProjects) UpdateVideoProjectStatus(_ context.Context, _ string, projectID, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[projectID] = status
	return nil
}

func storyboardResponse(shotCount int) json.RawMessage {
	shots := make([]map[string]any, 0, shotCount)
	for i := 1; i <= shotCount; i++ {
		shots = append(shots, map[string]any{
			"shotNumber":      i,
			"prompt":          fmt.Sprintf("shot %d", i),
			"durationSeconds": 4,
		})
	}
	payload, _ := json.Marshal(map[string]any{"title": "Launch teaser", "shots": shots})
	return payload
}

// pipelineFixture wires a pipeline whose video-shot poll outcome is decided
// per prompt: prompts containing "fail" report FAILED, the rest complete.
func pipelineFixture(t *testing.T, shotCount int) (*Pipeline, *fakeProjects, *scriptedInvoker) {
	t.Helper()
	records := newFakeProjects()

	var submitSeq sync.Map
	invoker := &scriptedInvoker{}
	invoker.handler = func(operation string, payload map[string]any) (json.RawMessage, error) {
		switch operation {
		case exec.OpStoryboard:
			return storyboardResponse(shotCount), nil
		case exec.OpVideoShot:
			switch payload["action"] {
			case "submit":
				requestID := fmt.Sprintf("req-%v", payload["unitId"])
				submitSeq.Store(requestID, payload["prompt"])
				encoded, _ := json.Marshal(map[string]any{
					"requestId":   requestID,
					"statusRef":   "status/" + requestID,
					"responseRef": "response/" + requestID,
				})
				return encoded, nil
			case "poll":
				requestID, _ := payload["requestId"].(string)
				prompt, _ := submitSeq.Load(requestID)
				promptText, _ := prompt.(string)
				if strings.Contains(promptText, "fail") {
					return pollResponse("FAILED", "", "flagged prompt"), nil
				}
				return pollResponse("COMPLETED", "media/"+requestID+".mp4", ""), nil
			}
		case exec.OpAssembleVideo:
			encoded, _ := json.Marshal(map[string]any{"mediaRef": "media/final-cut.mp4"})
			return encoded, nil
		}
		return nil, fmt.Errorf("unexpected operation %s", operation)
	}

	gen := NewGenerator(invoker, 0, 5)
	return NewPipeline(gen, invoker, records), records, invoker
}

func TestStoryboardCreatesTrackedShots(t *testing.T) {
	pipeline, records, _ := pipelineFixture(t, 3)

	project, err := pipeline.Storyboard(context.Background(), "owner-1", Brief{Title: "Teaser", ProductName: "Widget"})
	if err != nil {
		t.Fatalf("storyboard failed: %v", err)
	}
	if project.Title != "Launch teaser" {
		t.Fatalf("expected the generated title to win, got %s", project.Title)
	}
	if _, ok := records.projects[project.ID]; !ok {
		t.Fatalf("project not persisted")
	}

	shots, err := pipeline.Shots(context.Background(), "owner-1", project.ID)
	if err != nil {
		t.Fatalf("shots failed: %v", err)
	}
	if len(shots) != 3 {
		t.Fatalf("expected 3 shots, got %d", len(shots))
	}
	for i, shot := range shots {
		if shot.Status != UnitPending {
			t.Fatalf("shot %d not pending: %s", i, shot.Status)
		}
		if shot.ShotID == "" {
			t.Fatalf("shot %d has no id", i)
		}
	}
}

func TestGenerateAllSettlesIndependently(t *testing.T) {
	pipeline, _, _ := pipelineFixture(t, 2)

	project, err := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})
	if err != nil {
		t.Fatalf("storyboard failed: %v", err)
	}

	// Mark shot 2 as one that fails generation.
	shots, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)
	pipeline.mu.Lock()
	pipeline.shots[project.ID][1].Prompt = "fail this shot"
	pipeline.mu.Unlock()

	outcomes, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID)
	if err != nil {
		t.Fatalf("generate all must not fail on per-shot errors: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	byID := map[string]ShotOutcome{}
	for _, outcome := range outcomes {
		byID[outcome.ShotID] = outcome
	}
	if byID[shots[0].ShotID].Status != UnitCompleted {
		t.Fatalf("expected shot 1 completed")
	}
	failedOutcome := byID[shots[1].ShotID]
	if failedOutcome.Status != UnitFailed {
		t.Fatalf("expected shot 2 failed")
	}
	generationErr := &GenerationFailedError{}
	if !errors.As(failedOutcome.Err, &generationErr) {
		t.Fatalf("expected a typed generation failure, got %v", failedOutcome.Err)
	}

	current, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)
	if current[0].Status != UnitCompleted || current[0].MediaRef == "" {
		t.Fatalf("completed shot state not recorded")
	}
	if current[1].Status != UnitFailed || current[1].ErrorMessage == "" {
		t.Fatalf("failed shot state not recorded")
	}
}

func TestRetryRerunsOnlyTheFailedShot(t *testing.T) {
	pipeline, _, _ := pipelineFixture(t, 2)

	project, _ := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})
	pipeline.mu.Lock()
	pipeline.shots[project.ID][1].Prompt = "fail this shot"
	pipeline.mu.Unlock()

	if _, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID); err != nil {
		t.Fatalf("generate all failed: %v", err)
	}

	shots, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)

	// Fix the prompt and retry the failed shot.
	pipeline.mu.Lock()
	pipeline.shots[project.ID][1].Prompt = "retake"
	pipeline.mu.Unlock()

	outcome, err := pipeline.Retry(context.Background(), "owner-1", project.ID, shots[1].ShotID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if outcome.Status != UnitCompleted {
		t.Fatalf("expected retried shot to complete, got %s", outcome.Status)
	}

	// Retrying a completed shot is a local no-op.
	before, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)
	outcome, err = pipeline.Retry(context.Background(), "owner-1", project.ID, shots[0].ShotID)
	if err != nil {
		t.Fatalf("retry of completed shot failed: %v", err)
	}
	if outcome.MediaRef != before[0].MediaRef {
		t.Fatalf("expected completed shot left untouched")
	}
}

func TestGenerateAllPersistsProjectStatus(t *testing.T) {
	pipeline, records, _ := pipelineFixture(t, 2)

	project, _ := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})
	pipeline.mu.Lock()
	pipeline.shots[project.ID][1].Prompt = "fail this shot"
	pipeline.mu.Unlock()

	if _, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID); err != nil {
		t.Fatalf("generate all failed: %v", err)
	}
	if records.statuses[project.ID] != "partial" {
		t.Fatalf("expected partial status after a failed shot, got %q", records.statuses[project.ID])
	}

	shots, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)
	pipeline.mu.Lock()
	pipeline.shots[project.ID][1].Prompt = "retake"
	pipeline.mu.Unlock()

	if _, err := pipeline.Retry(context.Background(), "owner-1", project.ID, shots[1].ShotID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if records.statuses[project.ID] != "generated" {
		t.Fatalf("expected generated status once every shot completed, got %q", records.statuses[project.ID])
	}
}

func TestGenerateAllRejectsConcurrentRun(t *testing.T) {
	records := newFakeProjects()
	release := make(chan struct{})

	invoker := &scriptedInvoker{}
	invoker.handler = func(operation string, payload map[string]any) (json.RawMessage, error) {
		switch operation {
		case exec.OpStoryboard:
			return storyboardResponse(1), nil
		case exec.OpVideoShot:
			switch payload["action"] {
			case "submit":
				return submitResponse(), nil
			case "poll":
				<-release
				return pollResponse("COMPLETED", "media/req-1.mp4", ""), nil
			}
		}
		return nil, fmt.Errorf("unexpected operation %s", operation)
	}

	pipeline := NewPipeline(NewGenerator(invoker, 0, 5), invoker, records)
	project, _ := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})

	done := make(chan error, 1)
	go func() {
		_, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID)
		done <- err
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		pipeline.mu.Lock()
		inFlight := pipeline.running[project.ID]
		pipeline.mu.Unlock()
		if inFlight {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected ErrGenerationInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The guard clears once the run settles.
	if _, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID); err != nil {
		t.Fatalf("expected a later run to be accepted: %v", err)
	}
}

func TestRemoveShotRenumbersRemainder(t *testing.T) {
	pipeline, _, _ := pipelineFixture(t, 3)

	project, _ := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})
	shots, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)

	if err := pipeline.RemoveShot(context.Background(), "owner-1", project.ID, shots[1].ShotID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	remaining, _ := pipeline.Shots(context.Background(), "owner-1", project.ID)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 shots, got %d", len(remaining))
	}
	for i, shot := range remaining {
		if shot.ShotNumber != i+1 {
			t.Fatalf("expected contiguous numbering, shot %d has number %d", i, shot.ShotNumber)
		}
	}

	if err := pipeline.RemoveShot(context.Background(), "owner-1", project.ID, "missing"); err == nil {
		t.Fatalf("expected an error for an unknown shot")
	}
}

func TestAssembleRequiresEveryShotCompleted(t *testing.T) {
	pipeline, records, _ := pipelineFixture(t, 2)

	project, _ := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})

	if _, err := pipeline.Assemble(context.Background(), "owner-1", project.ID); err == nil {
		t.Fatalf("expected assembly of pending shots to be rejected")
	}

	if _, err := pipeline.GenerateAll(context.Background(), "owner-1", project.ID); err != nil {
		t.Fatalf("generate all failed: %v", err)
	}

	mediaRef, err := pipeline.Assemble(context.Background(), "owner-1", project.ID)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if mediaRef != "media/final-cut.mp4" {
		t.Fatalf("unexpected media ref %s", mediaRef)
	}
	if records.statuses[project.ID] != "assembled" {
		t.Fatalf("expected project marked assembled, got %s", records.statuses[project.ID])
	}
}

func TestTrackedShotsRebuildFromStoredStoryboard(t *testing.T) {
	pipeline, records, invoker := pipelineFixture(t, 2)

	project, _ := pipeline.Storyboard(context.Background(), "owner-1", Brief{ProductName: "Widget"})

	// A fresh pipeline simulates a restarted process sharing the same store.
	restarted := NewPipeline(NewGenerator(invoker, 0, 5), invoker, records)
	shots, err := restarted.Shots(context.Background(), "owner-1", project.ID)
	if err != nil {
		t.Fatalf("shots after restart failed: %v", err)
	}
	if len(shots) != 2 {
		t.Fatalf("expected storyboard rebuilt with 2 shots, got %d", len(shots))
	}
	for _, shot := range shots {
		if shot.Status != UnitPending {
			t.Fatalf("rebuilt shot not pending: %s", shot.Status)
		}
	}
}
