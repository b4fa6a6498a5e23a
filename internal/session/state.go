package session

import "time"

// MaxSelection bounds how many catalog products one session may select.
const MaxSelection = 30

// RecentArtifactCap bounds the live artifact feed kept on a running job.
const RecentArtifactCap = 10

type Stage string

const (
	StageSelect  Stage = "select"
	StagePlan    Stage = "plan"
	StageShoot   Stage = "shoot"
	StageResults Stage = "results"
)

type PlanningStatus string

const (
	PlanningIdle       PlanningStatus = "idle"
	PlanningImporting  PlanningStatus = "importing"
	PlanningGenerating PlanningStatus = "generating"
	PlanningReview     PlanningStatus = "review"
)

type PlanStatus string

const (
	PlanPending  PlanStatus = "pending"
	PlanModified PlanStatus = "modified"
	PlanApproved PlanStatus = "approved"
)

type JobStatus string

const (
	JobRunning    JobStatus = "running"
	JobCancelling JobStatus = "cancelling"
	JobComplete   JobStatus = "complete"
	JobCancelled  JobStatus = "cancelled"
	JobFailed     JobStatus = "failed"
)

// SelectionItem is a snapshot of a catalog product taken at selection time.
// Selections survive later catalog edits.
type SelectionItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ThumbnailRef string  `json:"thumbnailRef"`
	Category     string  `json:"category"`
	Barcode      string  `json:"barcode"`
	Price        float64 `json:"price"`
}

type Shot struct {
	ShotNumber  int    `json:"shotNumber"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Background  string `json:"background,omitempty"`
	Mood        string `json:"mood,omitempty"`
	Focus       string `json:"focus,omitempty"`
}

type Plan struct {
	PlanID     string     `json:"planId"`
	SourceRef  string     `json:"sourceRef"`
	Shots      []Shot     `json:"shots"`
	Status     PlanStatus `json:"status"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// SourceItem is the canonical imported product record a plan references.
type SourceItem struct {
	Ref          string `json:"ref"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	ThumbnailRef string `json:"thumbnailRef"`
}

type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type PlanningProgress struct {
	Planned int `json:"planned"`
	Total   int `json:"total"`
}

// ArtifactPreview is one entry of the bounded live feed shown while a job runs.
type ArtifactPreview struct {
	MediaRef   string `json:"mediaRef"`
	SourceRef  string `json:"sourceRef"`
	ShotNumber int    `json:"shotNumber"`
}

type ExecutionJob struct {
	JobID           string            `json:"jobId"`
	Status          JobStatus         `json:"status"`
	Progress        Progress          `json:"progress"`
	StartTime       time.Time         `json:"startTime"`
	RecentArtifacts []ArtifactPreview `json:"recentArtifacts"`
}

type ResultArtifact struct {
	ID           string `json:"id"`
	SourceRef    string `json:"sourceRef"`
	ShotNumber   int    `json:"shotNumber"`
	Status       string `json:"status"`
	MediaRef     string `json:"mediaRef"`
	ObjectKey    string `json:"objectKey,omitempty"`
	Rating       *int   `json:"rating,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// State is the whole session snapshot. It is only ever mutated by Reduce;
// stage controllers do their I/O first and dispatch the outcome as an action.
type State struct {
	Stage            Stage                    `json:"stage"`
	Selection        map[string]SelectionItem `json:"selection"`
	PlanningStatus   PlanningStatus           `json:"planningStatus"`
	PlanningProgress PlanningProgress         `json:"planningProgress"`
	Plans            []Plan                   `json:"plans"`
	SourceItems      []SourceItem             `json:"sourceItems"`
	EditingPlanID    string                   `json:"editingPlanId,omitempty"`
	Job              *ExecutionJob            `json:"job,omitempty"`
	Results          []ResultArtifact         `json:"results"`
	Err              string                   `json:"error,omitempty"`
	Loading          bool                     `json:"loading"`
}

func initialState() State {
	return State{
		Stage:          StageSelect,
		Selection:      map[string]SelectionItem{},
		PlanningStatus: PlanningIdle,
		Plans:          []Plan{},
		SourceItems:    []SourceItem{},
		Results:        []ResultArtifact{},
	}
}
