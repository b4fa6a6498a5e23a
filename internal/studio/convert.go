package studio

import (
	"context"
	"time"

	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

func plansFromRecords(records []store.PlanRecord) []session.Plan {
	plans := make([]session.Plan, 0, len(records))
	for _, record := range records {
		plans = append(plans, planFromRecord(record))
	}
	return plans
}

func planFromRecord(record store.PlanRecord) session.Plan {
	shots := make([]session.Shot, 0, len(record.Shots))
	for _, shot := range record.Shots {
		shots = append(shots, session.Shot{
			ShotNumber:  shot.ShotNumber,
			Type:        shot.Type,
			Description: shot.Description,
			Background:  shot.Background,
			Mood:        shot.Mood,
			Focus:       shot.Focus,
		})
	}

	return session.Plan{
		PlanID:     record.ID,
		SourceRef:  record.SourceRef,
		Shots:      shots,
		Status:     planStatusFromRecord(record.Status),
		ApprovedAt: record.ApprovedAt,
		Reasoning:  record.Reasoning,
	}
}

func planStatusFromRecord(status string) session.PlanStatus {
	switch status {
	case string(session.PlanApproved):
		return session.PlanApproved
	case string(session.PlanModified):
		return session.PlanModified
	default:
		return session.PlanPending
	}
}

func sourceItemsFromRecords(records []store.SourceItem) []session.SourceItem {
	items := make([]session.SourceItem, 0, len(records))
	for _, record := range records {
		items = append(items, session.SourceItem{
			Ref:          record.Ref,
			Name:         record.Name,
			Category:     record.Category,
			ThumbnailRef: record.ThumbnailRef,
		})
	}
	return items
}

func artifactsFromRecords(records []store.ArtifactRecord) []session.ResultArtifact {
	artifacts := make([]session.ResultArtifact, 0, len(records))
	for _, record := range records {
		artifacts = append(artifacts, session.ResultArtifact{
			ID:           record.ID,
			SourceRef:    record.SourceRef,
			ShotNumber:   record.ShotNumber,
			Status:       record.Status,
			MediaRef:     record.MediaRef,
			ObjectKey:    record.ObjectKey,
			Rating:       record.Rating,
			ErrorMessage: record.ErrorMessage,
		})
	}
	return artifacts
}

func jobFromRecord(record store.JobRecord) session.ExecutionJob {
	startTime := record.StartedAt
	if startTime.IsZero() {
		startTime = record.CreatedAt
	}

	return session.ExecutionJob{
		JobID:  record.ID,
		Status: session.JobRunning,
		Progress: session.Progress{
			Total:     record.TotalUnits,
			Completed: record.CompletedUnits,
			Failed:    record.FailedUnits,
		},
		StartTime:       startTime,
		RecentArtifacts: []session.ArtifactPreview{},
	}
}

func waitFor(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
