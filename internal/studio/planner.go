package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/feed"
	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

var ErrEmptySelection = errors.New("no products selected")

// PlanReader provides the canonical post-generation reads. The store, not
// the last continuation response, is the source of truth for plans.
type PlanReader interface {
	ListPlans(ctx context.Context, ownerID string) ([]store.PlanRecord, error)
	ListSourceItems(ctx context.Context, ownerID string) ([]store.SourceItem, error)
}

// Planner drives the import call and the plan-generation continuation loop.
// The generation step runs inside a budget-limited server invocation, so the
// client keeps asking for one more increment until the server reports done.
type Planner struct {
	invoker       exec.Invoker
	records       PlanReader
	events        feed.Producer
	continueDelay time.Duration
}

func NewPlanner(invoker exec.Invoker, records PlanReader, events feed.Producer, continueDelay time.Duration) *Planner {
	if continueDelay <= 0 {
		continueDelay = 2 * time.Second
	}
	if events == nil {
		events = feed.NewNoopProducer()
	}
	return &Planner{
		invoker:       invoker,
		records:       records,
		events:        events,
		continueDelay: continueDelay,
	}
}

type planningPage struct {
	Status       string `json:"status"`
	Planned      int    `json:"planned"`
	TotalPlanned int    `json:"totalPlanned"`
	TotalShots   int    `json:"totalShots"`
	HasMore      bool   `json:"hasMore"`
	NextPage     int    `json:"nextPage"`
}

func (p *Planner) Run(ctx context.Context, sess *session.Session) error {
	snapshot := sess.Snapshot()
	if len(snapshot.Selection) == 0 {
		sess.Dispatch(session.SetError{Message: "select at least one product before planning"})
		return ErrEmptySelection
	}

	productIDs := make([]string, 0, len(snapshot.Selection))
	for id := range snapshot.Selection {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	ownerID := sess.OwnerID()
	sess.Dispatch(session.PlanningStarted{Status: session.PlanningImporting})

	raw, err := p.invoker.Invoke(ctx, exec.OpImportCatalog, map[string]any{
		"action":     "start",
		"ownerId":    ownerID,
		"productIds": productIDs,
	})
	if err != nil {
		return p.fail(sess, fmt.Errorf("import catalog: %w", err))
	}

	importResult := struct {
		ImportJobID string `json:"importJobId"`
	}{}
	if err := json.Unmarshal(raw, &importResult); err != nil {
		return p.fail(sess, fmt.Errorf("decode import response: %w", err))
	}
	if importResult.ImportJobID == "" {
		return p.fail(sess, errors.New("import did not return a job id"))
	}

	sess.Dispatch(session.PlanningStarted{Status: session.PlanningGenerating})

	page, err := p.generate(ctx, map[string]any{
		"action":      "start",
		"ownerId":     ownerID,
		"importJobId": importResult.ImportJobID,
	})
	if err != nil {
		return p.fail(sess, err)
	}

	for isPlanningActive(page.Status) {
		sess.Dispatch(session.PlanningProgressed{Planned: page.Planned, Total: page.TotalPlanned})
		p.publishProgress(ctx, ownerID, page)

		if err := waitFor(ctx, p.continueDelay); err != nil {
			return p.fail(sess, err)
		}

		page, err = p.generate(ctx, map[string]any{
			"action":      "continue",
			"ownerId":     ownerID,
			"importJobId": importResult.ImportJobID,
			"page":        page.NextPage,
		})
		if err != nil {
			return p.fail(sess, err)
		}
	}

	sess.Dispatch(session.PlanningProgressed{Planned: page.Planned, Total: page.TotalPlanned})
	p.publishProgress(ctx, ownerID, page)

	planRecords, err := p.records.ListPlans(ctx, ownerID)
	if err != nil {
		return p.fail(sess, fmt.Errorf("load plans: %w", err))
	}
	itemRecords, err := p.records.ListSourceItems(ctx, ownerID)
	if err != nil {
		return p.fail(sess, fmt.Errorf("load source items: %w", err))
	}

	sess.Dispatch(session.PlansLoaded{
		Plans:       plansFromRecords(planRecords),
		SourceItems: sourceItemsFromRecords(itemRecords),
	})
	return nil
}

func (p *Planner) generate(ctx context.Context, payload map[string]any) (planningPage, error) {
	raw, err := p.invoker.Invoke(ctx, exec.OpGeneratePlans, payload)
	if err != nil {
		return planningPage{}, fmt.Errorf("generate plans: %w", err)
	}

	page := planningPage{}
	if err := json.Unmarshal(raw, &page); err != nil {
		return planningPage{}, fmt.Errorf("decode planning response: %w", err)
	}
	return page, nil
}

func (p *Planner) publishProgress(ctx context.Context, ownerID string, page planningPage) {
	err := p.events.PublishProgress(ctx, feed.ProgressEvent{
		OwnerID:   ownerID,
		Phase:     "planning",
		Completed: page.Planned,
		Total:     page.TotalPlanned,
	})
	if err != nil {
		log.Printf("planning progress publish failed owner=%s err=%v", ownerID, err)
	}
}

func (p *Planner) fail(sess *session.Session, err error) error {
	sess.Dispatch(session.SetError{Message: err.Error()})
	return err
}

func isPlanningActive(status string) bool {
	return status == "processing" || status == "planning"
}
