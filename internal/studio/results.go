package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"syncstudio/services/studio/internal/artifacts"
	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

type ResultRecords interface {
	ListArtifacts(ctx context.Context, ownerID, jobID string) ([]store.ArtifactRecord, error)
	UpdateArtifactRating(ctx context.Context, ownerID, artifactID string, rating *int) error
	DeleteArtifact(ctx context.Context, ownerID, artifactID string) (store.ArtifactRecord, error)
}

// Results loads and mutates finished artifacts. Mutations write the store
// first and update session state only after the write succeeds.
type Results struct {
	invoker exec.Invoker
	records ResultRecords
	objects artifacts.Store
}

func NewResults(invoker exec.Invoker, records ResultRecords, objects artifacts.Store) *Results {
	if objects == nil {
		objects = artifacts.NewNoopStore()
	}
	return &Results{invoker: invoker, records: records, objects: objects}
}

type ResultGroup struct {
	SourceRef string                   `json:"sourceRef"`
	Artifacts []session.ResultArtifact `json:"artifacts"`
}

func (r *Results) Load(ctx context.Context, sess *session.Session, jobID string) error {
	sess.Dispatch(session.SetLoading{Loading: true})

	records, err := r.records.ListArtifacts(ctx, sess.OwnerID(), jobID)
	if err != nil {
		return r.fail(sess, fmt.Errorf("load results: %w", err))
	}

	sess.Dispatch(session.ResultsLoaded{Results: artifactsFromRecords(records)})
	return nil
}

// GroupBySource groups artifacts by source ref, preserving record order both
// across groups (first appearance) and within each group.
func GroupBySource(results []session.ResultArtifact) []ResultGroup {
	order := make([]string, 0)
	byRef := map[string][]session.ResultArtifact{}
	for _, artifact := range results {
		if _, ok := byRef[artifact.SourceRef]; !ok {
			order = append(order, artifact.SourceRef)
		}
		byRef[artifact.SourceRef] = append(byRef[artifact.SourceRef], artifact)
	}

	groups := make([]ResultGroup, 0, len(order))
	for _, ref := range order {
		groups = append(groups, ResultGroup{SourceRef: ref, Artifacts: byRef[ref]})
	}
	return groups
}

// Rate sets or clears (nil) an artifact's rating.
func (r *Results) Rate(ctx context.Context, sess *session.Session, artifactID string, rating *int) error {
	if err := r.records.UpdateArtifactRating(ctx, sess.OwnerID(), artifactID, rating); err != nil {
		return r.fail(sess, fmt.Errorf("update rating: %w", err))
	}

	sess.Dispatch(session.ResultRated{ID: artifactID, Rating: rating})
	return nil
}

func (r *Results) Remove(ctx context.Context, sess *session.Session, artifactID string) error {
	record, err := r.records.DeleteArtifact(ctx, sess.OwnerID(), artifactID)
	if err != nil {
		return r.fail(sess, fmt.Errorf("delete artifact: %w", err))
	}

	if record.ObjectKey != "" {
		err := r.objects.DeleteObject(ctx, record.ObjectKey)
		if err != nil && !errors.Is(err, artifacts.ErrNotConfigured) {
			log.Printf("failed to delete artifact object key=%s err=%v", record.ObjectKey, err)
		}
	}

	sess.Dispatch(session.ResultRemoved{ID: artifactID})
	return nil
}

// Regenerate re-runs generation for one artifact's shot, then reloads the
// owner's artifacts from the store.
func (r *Results) Regenerate(ctx context.Context, sess *session.Session, artifactID string) error {
	_, err := r.invoker.Invoke(ctx, exec.OpExecuteShoot, map[string]any{
		"action":     "regenerate",
		"ownerId":    sess.OwnerID(),
		"artifactId": artifactID,
	})
	if err != nil {
		return r.fail(sess, fmt.Errorf("regenerate artifact: %w", err))
	}

	return r.Load(ctx, sess, "")
}

// Export writes a JSON manifest of the current results to the artifact store
// and returns its object key.
func (r *Results) Export(ctx context.Context, sess *session.Session, jobID string) (string, error) {
	snapshot := sess.Snapshot()
	manifest := map[string]any{
		"ownerId":    sess.OwnerID(),
		"jobId":      jobID,
		"exportedAt": time.Now().UTC().Format(time.RFC3339),
		"groups":     GroupBySource(snapshot.Results),
	}

	payload, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	objectKey := "result-manifests/" + sess.OwnerID() + "/" +
		time.Now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + ".json"
	if err := r.objects.StoreJSON(ctx, objectKey, payload); err != nil {
		return "", err
	}
	return objectKey, nil
}

func (r *Results) fail(sess *session.Session, err error) error {
	sess.Dispatch(session.SetError{Message: err.Error()})
	return err
}
