package session

// Reduce is the session transition function. It never performs I/O and never
// mutates its input; collections touched by an action are copied first.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case ToggleSelection:
		return reduceToggle(state, a.Item)
	case SelectPage:
		return reduceSelectPage(state, a.Items)
	case RemoveSelection:
		if _, ok := state.Selection[a.ID]; !ok {
			return state
		}
		selection := copySelection(state.Selection)
		delete(selection, a.ID)
		state.Selection = selection
		return state
	case ClearSelection:
		state.Selection = map[string]SelectionItem{}
		return state
	case PlanningStarted:
		state.PlanningStatus = a.Status
		state.Err = ""
		if a.Status == PlanningImporting {
			state.PlanningProgress = PlanningProgress{}
		}
		return state
	case PlanningProgressed:
		state.PlanningProgress = PlanningProgress{Planned: a.Planned, Total: a.Total}
		return state
	case PlansLoaded:
		state.Plans = copyPlans(a.Plans)
		state.SourceItems = append([]SourceItem(nil), a.SourceItems...)
		state.Stage = StagePlan
		state.PlanningStatus = PlanningReview
		return state
	case PlanReplaced:
		state.Plans = replacePlans(state.Plans, []Plan{a.Plan})
		return state
	case PlansReplaced:
		state.Plans = replacePlans(state.Plans, a.Plans)
		return state
	case PlanRejected:
		return reducePlanRejected(state, a)
	case SetEditingPlan:
		state.EditingPlanID = a.PlanID
		return state
	case ExecutionStarted:
		job := a.Job
		if job.RecentArtifacts == nil {
			job.RecentArtifacts = []ArtifactPreview{}
		}
		state.Job = &job
		state.Stage = StageShoot
		state.Err = ""
		return state
	case ExecutionProgressed:
		return reduceExecutionProgress(state, a)
	case ExecutionCompleted:
		return reduceJobStatus(state, JobComplete)
	case ExecutionCancelling:
		return reduceJobStatus(state, JobCancelling)
	case ExecutionCancelled:
		return reduceJobStatus(state, JobCancelled)
	case ExecutionFailed:
		state = reduceJobStatus(state, JobFailed)
		state.Err = a.Message
		return state
	case ResultsLoaded:
		state.Results = append([]ResultArtifact(nil), a.Results...)
		state.Stage = StageResults
		state.Loading = false
		return state
	case ResultRated:
		results := append([]ResultArtifact(nil), state.Results...)
		for i := range results {
			if results[i].ID == a.ID {
				results[i].Rating = a.Rating
			}
		}
		state.Results = results
		return state
	case ResultRemoved:
		results := make([]ResultArtifact, 0, len(state.Results))
		for _, result := range state.Results {
			if result.ID != a.ID {
				results = append(results, result)
			}
		}
		state.Results = results
		return state
	case SetError:
		state.Err = a.Message
		state.Loading = false
		return state
	case ClearError:
		state.Err = ""
		return state
	case SetLoading:
		state.Loading = a.Loading
		return state
	case ResetSession:
		return initialState()
	default:
		return state
	}
}

// reduceToggle removes an already-selected item regardless of capacity;
// adding past MaxSelection is silently absorbed.
func reduceToggle(state State, item SelectionItem) State {
	selection := copySelection(state.Selection)
	if _, ok := selection[item.ID]; ok {
		delete(selection, item.ID)
		state.Selection = selection
		return state
	}
	if len(selection) >= MaxSelection {
		return state
	}
	selection[item.ID] = item
	state.Selection = selection
	return state
}

func reduceSelectPage(state State, items []SelectionItem) State {
	selection := copySelection(state.Selection)
	for _, item := range items {
		if _, ok := selection[item.ID]; ok {
			continue
		}
		if len(selection) >= MaxSelection {
			break
		}
		selection[item.ID] = item
	}
	state.Selection = selection
	return state
}

func reducePlanRejected(state State, a PlanRejected) State {
	plans := make([]Plan, 0, len(state.Plans))
	for _, plan := range state.Plans {
		if plan.PlanID != a.PlanID {
			plans = append(plans, plan)
		}
	}
	state.Plans = plans

	if a.SourceRef != "" {
		items := make([]SourceItem, 0, len(state.SourceItems))
		for _, item := range state.SourceItems {
			if item.Ref != a.SourceRef {
				items = append(items, item)
			}
		}
		state.SourceItems = items
	}

	if state.EditingPlanID == a.PlanID {
		state.EditingPlanID = ""
	}
	return state
}

func reduceExecutionProgress(state State, a ExecutionProgressed) State {
	if state.Job == nil || isTerminalJobStatus(state.Job.Status) {
		return state
	}

	job := *state.Job
	job.Progress = clampProgress(job.Progress, a.Progress)
	job.RecentArtifacts = mergeRecentArtifacts(job.RecentArtifacts, a.Recent)
	state.Job = &job
	return state
}

func reduceJobStatus(state State, next JobStatus) State {
	if state.Job == nil || isTerminalJobStatus(state.Job.Status) {
		return state
	}
	job := *state.Job
	job.Status = next
	state.Job = &job
	return state
}

func isTerminalJobStatus(status JobStatus) bool {
	return status == JobComplete || status == JobCancelled || status == JobFailed
}

// clampProgress takes the latest server counters but never lets a late
// observation regress what has already been reported.
func clampProgress(current, reported Progress) Progress {
	next := current
	if reported.Total > 0 {
		next.Total = reported.Total
	}
	if reported.Completed > next.Completed {
		next.Completed = reported.Completed
	}
	if reported.Failed > next.Failed {
		next.Failed = reported.Failed
	}
	return next
}

// mergeRecentArtifacts keeps the feed newest-first, deduped by media ref,
// capped at RecentArtifactCap.
func mergeRecentArtifacts(existing, incoming []ArtifactPreview) []ArtifactPreview {
	merged := make([]ArtifactPreview, 0, RecentArtifactCap)
	seen := map[string]struct{}{}

	for _, preview := range incoming {
		if preview.MediaRef == "" {
			continue
		}
		if _, ok := seen[preview.MediaRef]; ok {
			continue
		}
		seen[preview.MediaRef] = struct{}{}
		merged = append(merged, preview)
		if len(merged) == RecentArtifactCap {
			return merged
		}
	}
	for _, preview := range existing {
		if _, ok := seen[preview.MediaRef]; ok {
			continue
		}
		seen[preview.MediaRef] = struct{}{}
		merged = append(merged, preview)
		if len(merged) == RecentArtifactCap {
			return merged
		}
	}
	return merged
}

func replacePlans(existing []Plan, updates []Plan) []Plan {
	byID := make(map[string]Plan, len(updates))
	for _, update := range updates {
		byID[update.PlanID] = update
	}

	plans := make([]Plan, 0, len(existing))
	for _, plan := range existing {
		update, ok := byID[plan.PlanID]
		if !ok {
			plans = append(plans, plan)
			continue
		}
		// approvedAt is set once; a server copy without it keeps the original.
		if update.ApprovedAt == nil && plan.ApprovedAt != nil {
			update.ApprovedAt = plan.ApprovedAt
		}
		if update.Shots == nil {
			update.Shots = []Shot{}
		}
		plans = append(plans, update)
	}
	return plans
}

func copySelection(selection map[string]SelectionItem) map[string]SelectionItem {
	copied := make(map[string]SelectionItem, len(selection))
	for id, item := range selection {
		copied[id] = item
	}
	return copied
}

func copyPlans(plans []Plan) []Plan {
	copied := make([]Plan, 0, len(plans))
	for _, plan := range plans {
		if plan.Shots == nil {
			plan.Shots = []Shot{}
		}
		copied = append(copied, plan)
	}
	return copied
}
