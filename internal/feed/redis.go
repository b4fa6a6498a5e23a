package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisProducer struct {
	client             *redis.Client
	progressStreamName string
	artifactStreamName string
	ensureMu           sync.Mutex
	streamsEnsured     bool
}

func NewRedisProducer(addr, progressStreamName, artifactStreamName string) (*RedisProducer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisProducer{
		client:             client,
		progressStreamName: progressStreamName,
		artifactStreamName: artifactStreamName,
	}, nil
}

func (p *RedisProducer) PublishProgress(ctx context.Context, event ProgressEvent) error {
	if err := p.ensureStreams(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.progressStreamName,
		MaxLen: 1024,
		Approx: true,
		Values: map[string]any{
			"payload": string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

func (p *RedisProducer) PublishArtifact(ctx context.Context, event ArtifactEvent) error {
	if err := p.ensureStreams(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.artifactStreamName,
		MaxLen: 1024,
		Approx: true,
		Values: map[string]any{
			"payload": string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("publish artifact event: %w", err)
	}
	return nil
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}

func (p *RedisProducer) ensureStreams(ctx context.Context) error {
	p.ensureMu.Lock()
	if p.streamsEnsured {
		p.ensureMu.Unlock()
		return nil
	}
	p.ensureMu.Unlock()

	if err := p.ensureStream(ctx, p.progressStreamName); err != nil {
		return fmt.Errorf("ensure progress stream: %w", err)
	}
	if err := p.ensureStream(ctx, p.artifactStreamName); err != nil {
		return fmt.Errorf("ensure artifact stream: %w", err)
	}

	p.ensureMu.Lock()
	p.streamsEnsured = true
	p.ensureMu.Unlock()
	return nil
}

func (p *RedisProducer) ensureStream(ctx context.Context, streamName string) error {
	keyType, err := p.client.Type(ctx, streamName).Result()
	if err != nil {
		return err
	}

	switch keyType {
	case "none", "stream":
		return nil
	default:
		return fmt.Errorf("unsupported redis key type=%s for stream=%s", keyType, streamName)
	}
}
