package feed

import "context"

// ProgressEvent reports planning or execution progress for downstream
// consumers (dashboards, notifiers). Phase is "planning" or "execution".
type ProgressEvent struct {
	OwnerID   string `json:"ownerId"`
	JobID     string `json:"jobId,omitempty"`
	Phase     string `json:"phase"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

// ArtifactEvent announces one freshly generated artifact.
type ArtifactEvent struct {
	OwnerID    string `json:"ownerId"`
	JobID      string `json:"jobId"`
	SourceRef  string `json:"sourceRef"`
	ShotNumber int    `json:"shotNumber"`
	MediaRef   string `json:"mediaRef"`
}

type Producer interface {
	PublishProgress(ctx context.Context, event ProgressEvent) error
	PublishArtifact(ctx context.Context, event ArtifactEvent) error
	Close() error
}

type NoopProducer struct{}

func NewNoopProducer() *NoopProducer {
	return &NoopProducer{}
}

func (p *NoopProducer) PublishProgress(_ context.Context, _ ProgressEvent) error {
	return nil
}

func (p *NoopProducer) PublishArtifact(_ context.Context, _ ArtifactEvent) error {
	return nil
}

func (p *NoopProducer) Close() error {
	return nil
}
