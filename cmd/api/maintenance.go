package main

import (
	"context"
	"errors"
	"log"
	"time"

	"syncstudio/services/studio/internal/artifacts"
	"syncstudio/services/studio/internal/store"
)

func startMaintenanceLoops(
	ctx context.Context,
	db *store.Postgres,
	artifactStore artifacts.Store,
	cleanupInterval time.Duration,
	retentionDays int,
) {
	if cleanupInterval > 0 {
		go runCleanupLoop(ctx, db, artifactStore, cleanupInterval, retentionDays)
	}
}

func runCleanupLoop(
	ctx context.Context,
	db *store.Postgres,
	artifactStore artifacts.Store,
	interval time.Duration,
	retentionDays int,
) {
	runCleanupCycle(ctx, db, artifactStore, retentionDays)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCleanupCycle(ctx, db, artifactStore, retentionDays)
		}
	}
}

func runCleanupCycle(
	ctx context.Context,
	db *store.Postgres,
	artifactStore artifacts.Store,
	retentionDays int,
) {
	cycleCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	owners, err := db.ListOwners(cycleCtx)
	if err != nil {
		log.Printf("auto-cleanup failed loading owners: %v", err)
		return
	}

	totalJobs := 0
	totalArtifacts := 0
	totalObjects := 0
	totalFailures := 0

	for _, owner := range owners {
		result, err := db.CleanupExpiredData(cycleCtx, owner.ID, retentionDays)
		if err != nil {
			log.Printf("auto-cleanup failed owner=%s err=%v", owner.ID, err)
			totalFailures++
			continue
		}

		for _, objectKey := range result.DeletedObjectKeys {
			err := artifactStore.DeleteObject(cycleCtx, objectKey)
			if err != nil && !errors.Is(err, artifacts.ErrNotConfigured) {
				totalFailures++
				log.Printf("auto-cleanup failed deleting object key=%s err=%v", objectKey, err)
				continue
			}
			totalObjects++
		}

		totalJobs += result.DeletedJobs
		totalArtifacts += result.DeletedArtifacts
	}

	log.Printf(
		"auto-cleanup completed jobs=%d artifacts=%d objects=%d failures=%d",
		totalJobs,
		totalArtifacts,
		totalObjects,
		totalFailures,
	)
}
