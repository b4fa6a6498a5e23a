package session

import "time"

// Action is the closed set of session transitions. Reducers never do I/O;
// stage controllers perform remote calls first and dispatch the result.
type Action interface {
	isAction()
}

type ToggleSelection struct {
	Item SelectionItem
}

type SelectPage struct {
	Items []SelectionItem
}

type RemoveSelection struct {
	ID string
}

type ClearSelection struct{}

type PlanningStarted struct {
	Status PlanningStatus
}

type PlanningProgressed struct {
	Planned int
	Total   int
}

// PlansLoaded carries canonical store reads and moves the session into the
// Plan stage at the review sub-phase.
type PlansLoaded struct {
	Plans       []Plan
	SourceItems []SourceItem
}

// PlanReplaced swaps in the server-returned copy of one plan wholesale.
type PlanReplaced struct {
	Plan Plan
}

// PlansReplaced swaps in server-returned copies for several plans at once.
type PlansReplaced struct {
	Plans []Plan
}

type PlanRejected struct {
	PlanID    string
	SourceRef string
}

type SetEditingPlan struct {
	PlanID string
}

type ExecutionStarted struct {
	Job ExecutionJob
}

type ExecutionProgressed struct {
	Progress Progress
	Recent   []ArtifactPreview
}

type ExecutionCompleted struct {
	At time.Time
}

type ExecutionCancelling struct{}

type ExecutionCancelled struct{}

type ExecutionFailed struct {
	Message string
}

type ResultsLoaded struct {
	Results []ResultArtifact
}

type ResultRated struct {
	ID     string
	Rating *int
}

type ResultRemoved struct {
	ID string
}

type SetError struct {
	Message string
}

type ClearError struct{}

type SetLoading struct {
	Loading bool
}

type ResetSession struct{}

func (ToggleSelection) isAction()     {}
func (SelectPage) isAction()          {}
func (RemoveSelection) isAction()     {}
func (ClearSelection) isAction()      {}
func (PlanningStarted) isAction()     {}
func (PlanningProgressed) isAction()  {}
func (PlansLoaded) isAction()         {}
func (PlanReplaced) isAction()        {}
func (PlansReplaced) isAction()       {}
func (PlanRejected) isAction()        {}
func (SetEditingPlan) isAction()      {}
func (ExecutionStarted) isAction()    {}
func (ExecutionProgressed) isAction() {}
func (ExecutionCompleted) isAction()  {}
func (ExecutionCancelling) isAction() {}
func (ExecutionCancelled) isAction()  {}
func (ExecutionFailed) isAction()     {}
func (ResultsLoaded) isAction()       {}
func (ResultRated) isAction()         {}
func (ResultRemoved) isAction()       {}
func (SetError) isAction()            {}
func (ClearError) isAction()          {}
func (SetLoading) isAction()          {}
func (ResetSession) isAction()        {}
