package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/store"
)

type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitGenerating UnitStatus = "generating"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
)

type ShotState struct {
	ShotID          string     `json:"shotId"`
	ShotNumber      int        `json:"shotNumber"`
	Prompt          string     `json:"prompt"`
	DurationSeconds int        `json:"durationSeconds"`
	Status          UnitStatus `json:"status"`
	MediaRef        string     `json:"mediaRef,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
}

// ErrGenerationInFlight is returned when a project's shot generation is
// started while a previous run is still settling.
var ErrGenerationInFlight = errors.New("video generation already running for this project")

type ShotOutcome struct {
	ShotID   string
	Status   UnitStatus
	MediaRef string
	Err      error
}

type ProjectRecords interface {
	CreateVideoProject(ctx context.Context, ownerID, title string, storyboard json.RawMessage) (store.VideoProject, error)
	GetVideoProject(ctx context.Context, ownerID, projectID string) (store.VideoProject, error)
	UpdateVideoProjectStatus(ctx context.Context, ownerID, projectID, status, mediaRef string) error
}

// Pipeline runs the per-shot video flow: storyboard, independent parallel
// shot generation, per-shot retry, assembly. Shot runtime state lives in
// memory per project; the storyboard itself is persisted so a restarted
// process can rebuild the shot list.
type Pipeline struct {
	gen     *Generator
	invoker exec.Invoker
	records ProjectRecords

	mu      sync.Mutex
	shots   map[string][]*ShotState
	running map[string]bool
}

func NewPipeline(gen *Generator, invoker exec.Invoker, records ProjectRecords) *Pipeline {
	return &Pipeline{
		gen:     gen,
		invoker: invoker,
		records: records,
		shots:   map[string][]*ShotState{},
		running: map[string]bool{},
	}
}

type Brief struct {
	Title       string `json:"title"`
	ProductName string `json:"productName"`
	Description string `json:"description"`
	Vibe        string `json:"vibe,omitempty"`
}

type storyboardPayload struct {
	Title string `json:"title"`
	Shots []struct {
		ShotNumber      int    `json:"shotNumber"`
		Prompt          string `json:"prompt"`
		DurationSeconds int    `json:"durationSeconds"`
	} `json:"shots"`
}

func (p *Pipeline) Storyboard(ctx context.Context, ownerID string, brief Brief) (store.VideoProject, error) {
	raw, err := p.invoker.Invoke(ctx, exec.OpStoryboard, map[string]any{
		"action":      "start",
		"ownerId":     ownerID,
		"title":       brief.Title,
		"productName": brief.ProductName,
		"description": brief.Description,
		"vibe":        brief.Vibe,
	})
	if err != nil {
		return store.VideoProject{}, fmt.Errorf("generate storyboard: %w", err)
	}

	board := storyboardPayload{}
	if err := json.Unmarshal(raw, &board); err != nil {
		return store.VideoProject{}, fmt.Errorf("decode storyboard: %w", err)
	}
	if len(board.Shots) == 0 {
		return store.VideoProject{}, errors.New("storyboard returned no shots")
	}

	title := board.Title
	if title == "" {
		title = brief.Title
	}

	project, err := p.records.CreateVideoProject(ctx, ownerID, title, raw)
	if err != nil {
		return store.VideoProject{}, fmt.Errorf("store video project: %w", err)
	}

	p.mu.Lock()
	p.shots[project.ID] = shotsFromStoryboard(board)
	p.mu.Unlock()

	return project, nil
}

// Shots returns a copy of the project's shot states, newest status included.
func (p *Pipeline) Shots(ctx context.Context, ownerID, projectID string) ([]ShotState, error) {
	tracked, err := p.trackedShots(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	states := make([]ShotState, 0, len(tracked))
	for _, shot := range tracked {
		states = append(states, *shot)
	}
	return states, nil
}

// GenerateAll submits every non-completed shot concurrently and waits for
// all of them to settle. One shot's failure never cancels its siblings, and
// the aggregate call itself does not fail on per-shot failures.
func (p *Pipeline) GenerateAll(ctx context.Context, ownerID, projectID string) ([]ShotOutcome, error) {
	tracked, err := p.trackedShots(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.running[projectID] {
		p.mu.Unlock()
		return nil, ErrGenerationInFlight
	}
	p.running[projectID] = true
	pending := make([]*ShotState, 0, len(tracked))
	for _, shot := range tracked {
		if shot.Status == UnitCompleted {
			continue
		}
		shot.Status = UnitGenerating
		shot.ErrorMessage = ""
		pending = append(pending, shot)
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, projectID)
		p.mu.Unlock()
	}()

	outcomes := make([]ShotOutcome, len(pending))
	var wg sync.WaitGroup
	for index, shot := range pending {
		wg.Add(1)
		go func(slot int, st *ShotState) {
			defer wg.Done()
			outcomes[slot] = p.runShot(ctx, st)
		}(index, shot)
	}
	wg.Wait()

	p.updateProjectStatus(ctx, ownerID, projectID, tracked)
	return outcomes, nil
}

// Retry re-runs the submit/poll sequence for one shot, leaving completed
// siblings untouched.
func (p *Pipeline) Retry(ctx context.Context, ownerID, projectID, shotID string) (ShotOutcome, error) {
	tracked, err := p.trackedShots(ctx, ownerID, projectID)
	if err != nil {
		return ShotOutcome{}, err
	}

	p.mu.Lock()
	var target *ShotState
	for _, shot := range tracked {
		if shot.ShotID == shotID {
			target = shot
			break
		}
	}
	if target == nil {
		p.mu.Unlock()
		return ShotOutcome{}, fmt.Errorf("shot %s not found", shotID)
	}
	if target.Status == UnitCompleted {
		outcome := ShotOutcome{ShotID: target.ShotID, Status: UnitCompleted, MediaRef: target.MediaRef}
		p.mu.Unlock()
		return outcome, nil
	}
	target.Status = UnitGenerating
	target.ErrorMessage = ""
	p.mu.Unlock()

	outcome := p.runShot(ctx, target)
	p.updateProjectStatus(ctx, ownerID, projectID, tracked)
	return outcome, nil
}

// RemoveShot drops one shot and renumbers the remainder contiguously.
func (p *Pipeline) RemoveShot(ctx context.Context, ownerID, projectID, shotID string) error {
	tracked, err := p.trackedShots(ctx, ownerID, projectID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := make([]*ShotState, 0, len(tracked))
	found := false
	for _, shot := range tracked {
		if shot.ShotID == shotID {
			found = true
			continue
		}
		remaining = append(remaining, shot)
	}
	if !found {
		return fmt.Errorf("shot %s not found", shotID)
	}

	for index, shot := range remaining {
		shot.ShotNumber = index + 1
	}
	p.shots[projectID] = remaining
	return nil
}

// Assemble stitches the completed shots into the final video. Every shot
// must be completed first.
func (p *Pipeline) Assemble(ctx context.Context, ownerID, projectID string) (string, error) {
	tracked, err := p.trackedShots(ctx, ownerID, projectID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	clips := make([]map[string]any, 0, len(tracked))
	for _, shot := range tracked {
		if shot.Status != UnitCompleted {
			p.mu.Unlock()
			return "", fmt.Errorf("shot %d is %s; every shot must be completed before assembly", shot.ShotNumber, shot.Status)
		}
		clips = append(clips, map[string]any{
			"shotNumber":      shot.ShotNumber,
			"mediaRef":        shot.MediaRef,
			"durationSeconds": shot.DurationSeconds,
		})
	}
	p.mu.Unlock()

	raw, err := p.invoker.Invoke(ctx, exec.OpAssembleVideo, map[string]any{
		"action":    "start",
		"ownerId":   ownerID,
		"projectId": projectID,
		"clips":     clips,
	})
	if err != nil {
		return "", fmt.Errorf("assemble video: %w", err)
	}

	assembled := struct {
		MediaRef string `json:"mediaRef"`
	}{}
	if err := json.Unmarshal(raw, &assembled); err != nil {
		return "", fmt.Errorf("decode assemble response: %w", err)
	}
	if assembled.MediaRef == "" {
		return "", errors.New("assembly returned no media ref")
	}

	if err := p.records.UpdateVideoProjectStatus(ctx, ownerID, projectID, "assembled", assembled.MediaRef); err != nil {
		log.Printf("video project status update failed project=%s err=%v", projectID, err)
	}
	return assembled.MediaRef, nil
}

// Running reports whether a generation run is in flight for the project.
func (p *Pipeline) Running(projectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[projectID]
}

// updateProjectStatus persists a coarse project status derived from the shot
// states. Failures are logged; the shot outcomes already carry the result.
func (p *Pipeline) updateProjectStatus(ctx context.Context, ownerID, projectID string, tracked []*ShotState) {
	p.mu.Lock()
	status := "generated"
	for _, shot := range tracked {
		switch shot.Status {
		case UnitFailed:
			status = "partial"
		case UnitPending, UnitGenerating:
			if status == "generated" {
				status = "generating"
			}
		}
	}
	p.mu.Unlock()

	if err := p.records.UpdateVideoProjectStatus(ctx, ownerID, projectID, status, ""); err != nil {
		log.Printf("video project status update failed project=%s err=%v", projectID, err)
	}
}

func (p *Pipeline) runShot(ctx context.Context, shot *ShotState) ShotOutcome {
	result, err := p.gen.Generate(ctx, UnitParams{
		UnitID:          shot.ShotID,
		Prompt:          shot.Prompt,
		DurationSeconds: shot.DurationSeconds,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		shot.Status = UnitFailed
		shot.ErrorMessage = err.Error()
		return ShotOutcome{ShotID: shot.ShotID, Status: UnitFailed, Err: err}
	}

	shot.Status = UnitCompleted
	shot.MediaRef = result.MediaRef
	return ShotOutcome{ShotID: shot.ShotID, Status: UnitCompleted, MediaRef: result.MediaRef}
}

// trackedShots returns the in-memory shot list, rebuilding it from the
// persisted storyboard after a process restart.
func (p *Pipeline) trackedShots(ctx context.Context, ownerID, projectID string) ([]*ShotState, error) {
	p.mu.Lock()
	tracked, ok := p.shots[projectID]
	p.mu.Unlock()
	if ok {
		return tracked, nil
	}

	project, err := p.records.GetVideoProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, fmt.Errorf("load video project: %w", err)
	}

	board := storyboardPayload{}
	if err := json.Unmarshal(project.Storyboard, &board); err != nil {
		return nil, fmt.Errorf("decode stored storyboard: %w", err)
	}

	rebuilt := shotsFromStoryboard(board)
	p.mu.Lock()
	if existing, ok := p.shots[projectID]; ok {
		rebuilt = existing
	} else {
		p.shots[projectID] = rebuilt
	}
	p.mu.Unlock()
	return rebuilt, nil
}

func shotsFromStoryboard(board storyboardPayload) []*ShotState {
	shots := make([]*ShotState, 0, len(board.Shots))
	for index, shot := range board.Shots {
		number := shot.ShotNumber
		if number == 0 {
			number = index + 1
		}
		shots = append(shots, &ShotState{
			ShotID:          uuid.NewString(),
			ShotNumber:      number,
			Prompt:          shot.Prompt,
			DurationSeconds: shot.DurationSeconds,
			Status:          UnitPending,
		})
	}
	return shots
}
