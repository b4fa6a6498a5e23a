package studio

import (
	"context"
	"encoding/json"
	"fmt"

	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/session"
)

// PlanDeleter covers the store writes rejection needs.
type PlanDeleter interface {
	DeletePlan(ctx context.Context, ownerID, planID string) error
	DeleteSourceItem(ctx context.Context, ownerID, ref string) error
}

// Review mutates plans through server round-trips. The server's returned
// plan always replaces the local copy; the client never predicts the result
// of an edit.
type Review struct {
	invoker exec.Invoker
	records PlanDeleter
}

func NewReview(invoker exec.Invoker, records PlanDeleter) *Review {
	return &Review{invoker: invoker, records: records}
}

func (r *Review) Approve(ctx context.Context, sess *session.Session, planID string) error {
	return r.roundTrip(ctx, sess, map[string]any{
		"action":  "approve",
		"ownerId": sess.OwnerID(),
		"planId":  planID,
	})
}

// ApproveAll approves every plan not yet approved. When nothing is pending it
// returns without a network call, which makes repeated invocations no-ops.
func (r *Review) ApproveAll(ctx context.Context, sess *session.Session) error {
	snapshot := sess.Snapshot()
	pending := make([]string, 0, len(snapshot.Plans))
	for _, plan := range snapshot.Plans {
		if plan.Status != session.PlanApproved {
			pending = append(pending, plan.PlanID)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	raw, err := r.invoker.Invoke(ctx, exec.OpManagePlans, map[string]any{
		"action":  "approve_all",
		"ownerId": sess.OwnerID(),
		"planIds": pending,
	})
	if err != nil {
		return r.fail(sess, fmt.Errorf("approve all plans: %w", err))
	}

	envelope := struct {
		Plans []session.Plan `json:"plans"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return r.fail(sess, fmt.Errorf("decode approve all response: %w", err))
	}

	sess.Dispatch(session.PlansReplaced{Plans: envelope.Plans})
	return nil
}

func (r *Review) UpdateShot(ctx context.Context, sess *session.Session, planID string, shotNumber int, shot session.Shot) error {
	return r.roundTrip(ctx, sess, map[string]any{
		"action":     "update_shot",
		"ownerId":    sess.OwnerID(),
		"planId":     planID,
		"shotNumber": shotNumber,
		"shot":       shot,
	})
}

func (r *Review) AddShot(ctx context.Context, sess *session.Session, planID string, shot session.Shot) error {
	return r.roundTrip(ctx, sess, map[string]any{
		"action":  "add_shot",
		"ownerId": sess.OwnerID(),
		"planId":  planID,
		"shot":    shot,
	})
}

// RemoveShot asks the server to drop one shot; the returned plan comes back
// with shot numbers renumbered contiguously.
func (r *Review) RemoveShot(ctx context.Context, sess *session.Session, planID string, shotNumber int) error {
	return r.roundTrip(ctx, sess, map[string]any{
		"action":     "remove_shot",
		"ownerId":    sess.OwnerID(),
		"planId":     planID,
		"shotNumber": shotNumber,
	})
}

func (r *Review) ResetPlan(ctx context.Context, sess *session.Session, planID string) error {
	return r.roundTrip(ctx, sess, map[string]any{
		"action":  "reset_plan",
		"ownerId": sess.OwnerID(),
		"planId":  planID,
	})
}

// Reject deletes the plan and its source record, then drops both from state.
func (r *Review) Reject(ctx context.Context, sess *session.Session, planID, sourceRef string) error {
	ownerID := sess.OwnerID()
	if err := r.records.DeletePlan(ctx, ownerID, planID); err != nil {
		return r.fail(sess, fmt.Errorf("delete plan: %w", err))
	}
	if sourceRef != "" {
		if err := r.records.DeleteSourceItem(ctx, ownerID, sourceRef); err != nil {
			return r.fail(sess, fmt.Errorf("delete source item: %w", err))
		}
	}

	sess.Dispatch(session.PlanRejected{PlanID: planID, SourceRef: sourceRef})
	return nil
}

func (r *Review) roundTrip(ctx context.Context, sess *session.Session, payload map[string]any) error {
	raw, err := r.invoker.Invoke(ctx, exec.OpManagePlans, payload)
	if err != nil {
		return r.fail(sess, err)
	}

	envelope := struct {
		Plan session.Plan `json:"plan"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return r.fail(sess, fmt.Errorf("decode plan response: %w", err))
	}
	if envelope.Plan.PlanID == "" {
		return r.fail(sess, fmt.Errorf("plan mutation returned no plan"))
	}

	sess.Dispatch(session.PlanReplaced{Plan: envelope.Plan})
	return nil
}

func (r *Review) fail(sess *session.Session, err error) error {
	sess.Dispatch(session.SetError{Message: err.Error()})
	return err
}
