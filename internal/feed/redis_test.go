package feed

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisProducerPublishesToStreams(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	progressStream := "studio-progress"
	artifactStream := "studio-artifacts"

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	producer, err := NewRedisProducer(mr.Addr(), progressStream, artifactStream)
	if err != nil {
		t.Fatalf("new producer failed: %v", err)
	}
	t.Cleanup(func() {
		_ = producer.Close()
	})

	if err := producer.PublishProgress(ctx, ProgressEvent{
		OwnerID:   "owner-1",
		JobID:     "job-1",
		Phase:     "execution",
		Completed: 3,
		Failed:    1,
		Total:     8,
	}); err != nil {
		t.Fatalf("publish progress failed: %v", err)
	}

	if err := producer.PublishArtifact(ctx, ArtifactEvent{
		OwnerID:    "owner-1",
		JobID:      "job-1",
		SourceRef:  "src-1",
		ShotNumber: 2,
		MediaRef:   "media/shot-2.png",
	}); err != nil {
		t.Fatalf("publish artifact failed: %v", err)
	}

	progressRows, err := client.XRange(ctx, progressStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange progress failed: %v", err)
	}
	if len(progressRows) != 1 {
		t.Fatalf("expected 1 progress row, got %d", len(progressRows))
	}
	progressPayload, ok := progressRows[0].Values["payload"].(string)
	if !ok {
		t.Fatalf("expected string payload, got %T", progressRows[0].Values["payload"])
	}
	if !strings.Contains(progressPayload, `"jobId":"job-1"`) || !strings.Contains(progressPayload, `"completed":3`) {
		t.Fatalf("unexpected progress payload %s", progressPayload)
	}

	artifactRows, err := client.XRange(ctx, artifactStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange artifacts failed: %v", err)
	}
	if len(artifactRows) != 1 {
		t.Fatalf("expected 1 artifact row, got %d", len(artifactRows))
	}
	artifactPayload, _ := artifactRows[0].Values["payload"].(string)
	if !strings.Contains(artifactPayload, `"mediaRef":"media/shot-2.png"`) {
		t.Fatalf("unexpected artifact payload %s", artifactPayload)
	}
}

func TestRedisProducerRejectsNonStreamKey(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	if err := client.Set(ctx, "studio-progress", "not-a-stream", 0).Err(); err != nil {
		t.Fatalf("seed key failed: %v", err)
	}

	producer, err := NewRedisProducer(mr.Addr(), "studio-progress", "studio-artifacts")
	if err != nil {
		t.Fatalf("new producer failed: %v", err)
	}
	t.Cleanup(func() {
		_ = producer.Close()
	})

	err = producer.PublishProgress(ctx, ProgressEvent{OwnerID: "owner-1"})
	if err == nil {
		t.Fatalf("expected publish against a string key to fail")
	}
	if !strings.Contains(err.Error(), "unsupported redis key type") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNoopProducerAcceptsEvents(t *testing.T) {
	producer := NewNoopProducer()
	if err := producer.PublishProgress(context.Background(), ProgressEvent{}); err != nil {
		t.Fatalf("noop publish progress failed: %v", err)
	}
	if err := producer.PublishArtifact(context.Background(), ArtifactEvent{}); err != nil {
		t.Fatalf("noop publish artifact failed: %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("noop close failed: %v", err)
	}
}
