package studio

import (
	"context"
	"fmt"

	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

type ResumeRecords interface {
	ActiveJob(ctx context.Context, ownerID string) (*store.JobRecord, error)
	ListPlans(ctx context.Context, ownerID string) ([]store.PlanRecord, error)
	ListSourceItems(ctx context.Context, ownerID string) ([]store.SourceItem, error)
}

// ResumeController reconstructs session state from the store when a session
// is opened. An in-flight job represents spend already committed server-side
// and always wins over stored plans; stored plans win over a fresh start.
type ResumeController struct {
	records   ResumeRecords
	scheduler *Scheduler
}

func NewResumeController(records ResumeRecords, scheduler *Scheduler) *ResumeController {
	return &ResumeController{records: records, scheduler: scheduler}
}

func (c *ResumeController) Resume(ctx context.Context, sess *session.Session) error {
	ownerID := sess.OwnerID()

	job, err := c.records.ActiveJob(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load active job: %w", err)
	}
	if job != nil {
		c.scheduler.ResumeJob(ctx, sess, *job)
		return nil
	}

	plans, err := c.records.ListPlans(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	if len(plans) > 0 {
		items, err := c.records.ListSourceItems(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("load source items: %w", err)
		}
		sess.Dispatch(session.PlansLoaded{
			Plans:       plansFromRecords(plans),
			SourceItems: sourceItemsFromRecords(items),
		})
		return nil
	}

	// Nothing stored: the session stays at the initial Select stage.
	return nil
}
