package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"syncstudio/services/studio/internal/exec"
	"syncstudio/services/studio/internal/feed"
	"syncstudio/services/studio/internal/session"
	"syncstudio/services/studio/internal/store"
)

var ErrNoApprovedPlans = errors.New("no approved plans to execute")

// Scheduler drives one owner's execution job: a start call, then a polling
// loop that pairs every status read with a continuation nudge while the
// server still reports processing. The server executes in budget-limited
// increments, so the nudge is what keeps the batch moving; the status poll
// only observes.
type Scheduler struct {
	invoker      exec.Invoker
	events       feed.Producer
	notifier     *WebhookNotifier
	pollInterval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewScheduler(invoker exec.Invoker, events feed.Producer, notifier *WebhookNotifier, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 2500 * time.Millisecond
	}
	if events == nil {
		events = feed.NewNoopProducer()
	}
	return &Scheduler{
		invoker:      invoker,
		events:       events,
		notifier:     notifier,
		pollInterval: pollInterval,
	}
}

type jobStatusPayload struct {
	Status          string `json:"status"`
	Completed       int    `json:"completed"`
	Failed          int    `json:"failed"`
	Total           int    `json:"total"`
	Error           string `json:"error"`
	RecentArtifacts []struct {
		MediaRef   string `json:"mediaRef"`
		SourceRef  string `json:"sourceRef"`
		ShotNumber int    `json:"shotNumber"`
	} `json:"recentArtifacts"`
}

func (s *Scheduler) Start(ctx context.Context, sess *session.Session) error {
	if s.Running() {
		return errors.New("execution already running")
	}

	snapshot := sess.Snapshot()
	approved := 0
	for _, plan := range snapshot.Plans {
		if plan.Status == session.PlanApproved {
			approved++
		}
	}
	if approved == 0 {
		sess.Dispatch(session.SetError{Message: "approve at least one plan before starting the shoot"})
		return ErrNoApprovedPlans
	}

	raw, err := s.invoker.Invoke(ctx, exec.OpExecuteShoot, map[string]any{
		"action":  "start",
		"ownerId": sess.OwnerID(),
	})
	if err != nil {
		sess.Dispatch(session.SetError{Message: err.Error()})
		return err
	}

	started := struct {
		JobID      string `json:"jobId"`
		TotalUnits int    `json:"totalUnits"`
	}{}
	if err := json.Unmarshal(raw, &started); err != nil {
		decodeErr := fmt.Errorf("decode execution start response: %w", err)
		sess.Dispatch(session.SetError{Message: decodeErr.Error()})
		return decodeErr
	}
	if started.JobID == "" {
		startErr := errors.New("execution start returned no job id")
		sess.Dispatch(session.SetError{Message: startErr.Error()})
		return startErr
	}

	sess.Dispatch(session.ExecutionStarted{Job: session.ExecutionJob{
		JobID:           started.JobID,
		Status:          session.JobRunning,
		Progress:        session.Progress{Total: started.TotalUnits},
		StartTime:       time.Now().UTC(),
		RecentArtifacts: []session.ArtifactPreview{},
	}})

	s.launch(ctx, sess, started.JobID)
	return nil
}

// ResumeJob re-enters the polling loop for a job found in the store at
// session start. It does not wait for a user action.
func (s *Scheduler) ResumeJob(ctx context.Context, sess *session.Session, record store.JobRecord) {
	sess.Dispatch(session.ExecutionStarted{Job: jobFromRecord(record)})
	s.launch(ctx, sess, record.ID)
}

// Cancel stops the local timer before the network call so no further tick
// can race the cancellation. The job is marked cancelled locally even when
// the cancel call fails; the failure is surfaced on the session.
func (s *Scheduler) Cancel(ctx context.Context, sess *session.Session) error {
	snapshot := sess.Snapshot()
	if snapshot.Job == nil {
		return errors.New("no execution job to cancel")
	}

	s.Stop()
	sess.Dispatch(session.ExecutionCancelling{})

	_, err := s.invoker.Invoke(ctx, exec.OpExecuteShoot, map[string]any{
		"action":  "cancel",
		"ownerId": sess.OwnerID(),
		"jobId":   snapshot.Job.JobID,
	})
	if err != nil {
		sess.Dispatch(session.SetError{Message: fmt.Sprintf("cancel request failed: %v", err)})
	}

	sess.Dispatch(session.ExecutionCancelled{})
	return err
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// Stop tears the polling loop down deterministically and waits for the
// in-flight tick, if any, to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	if doneCh != nil {
		<-doneCh
	}
}

func (s *Scheduler) launch(ctx context.Context, sess *session.Session, jobID string) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	s.mu.Unlock()

	go s.loop(ctx, sess, jobID, stopCh, doneCh)
}

func (s *Scheduler) loop(ctx context.Context, sess *session.Session, jobID string, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer s.clear(stopCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	seenRefs := map[string]struct{}{}
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks run one at a time on this goroutine; a slow tick delays
			// the next one instead of overlapping it.
			if s.tick(ctx, sess, jobID, seenRefs) {
				return
			}
		}
	}
}

func (s *Scheduler) clear(stopCh chan struct{}) {
	s.mu.Lock()
	if s.stopCh == stopCh {
		s.stopCh = nil
	}
	s.mu.Unlock()
}

// tick returns true when the job reached a terminal status.
func (s *Scheduler) tick(ctx context.Context, sess *session.Session, jobID string, seenRefs map[string]struct{}) bool {
	ownerID := sess.OwnerID()
	raw, err := s.invoker.Invoke(ctx, exec.OpExecuteShoot, map[string]any{
		"action":  "status",
		"ownerId": ownerID,
		"jobId":   jobID,
	})
	if err != nil {
		log.Printf("job status poll failed job=%s err=%v", jobID, err)
		return false
	}

	status := jobStatusPayload{}
	if err := json.Unmarshal(raw, &status); err != nil {
		log.Printf("job status decode failed job=%s err=%v", jobID, err)
		return false
	}

	previews := make([]session.ArtifactPreview, 0, len(status.RecentArtifacts))
	for _, artifact := range status.RecentArtifacts {
		previews = append(previews, session.ArtifactPreview{
			MediaRef:   artifact.MediaRef,
			SourceRef:  artifact.SourceRef,
			ShotNumber: artifact.ShotNumber,
		})
	}

	sess.Dispatch(session.ExecutionProgressed{
		Progress: session.Progress{
			Total:     status.Total,
			Completed: status.Completed,
			Failed:    status.Failed,
		},
		Recent: previews,
	})
	s.publishEvents(ctx, ownerID, jobID, status, seenRefs)

	switch status.Status {
	case "completed":
		sess.Dispatch(session.ExecutionCompleted{At: time.Now().UTC()})
		s.notifyFinished(ctx, sess, jobID)
		return true
	case "cancelled":
		sess.Dispatch(session.ExecutionCancelled{})
		return true
	case "failed":
		message := status.Error
		if message == "" {
			message = "execution job failed"
		}
		sess.Dispatch(session.ExecutionFailed{Message: message})
		s.notifyFinished(ctx, sess, jobID)
		return true
	case "processing":
		// Nudge the server to run the next increment. A missed nudge only
		// delays progress, so its error is swallowed.
		if _, err := s.invoker.Invoke(ctx, exec.OpExecuteShoot, map[string]any{
			"action":  "continue",
			"ownerId": ownerID,
			"jobId":   jobID,
		}); err != nil {
			log.Printf("continuation nudge failed job=%s err=%v", jobID, err)
		}
		return false
	default:
		log.Printf("unrecognized job status job=%s status=%q", jobID, status.Status)
		return false
	}
}

func (s *Scheduler) publishEvents(ctx context.Context, ownerID, jobID string, status jobStatusPayload, seenRefs map[string]struct{}) {
	err := s.events.PublishProgress(ctx, feed.ProgressEvent{
		OwnerID:   ownerID,
		JobID:     jobID,
		Phase:     "execution",
		Completed: status.Completed,
		Failed:    status.Failed,
		Total:     status.Total,
	})
	if err != nil {
		log.Printf("execution progress publish failed job=%s err=%v", jobID, err)
	}

	for _, artifact := range status.RecentArtifacts {
		if artifact.MediaRef == "" {
			continue
		}
		if _, ok := seenRefs[artifact.MediaRef]; ok {
			continue
		}
		seenRefs[artifact.MediaRef] = struct{}{}

		err := s.events.PublishArtifact(ctx, feed.ArtifactEvent{
			OwnerID:    ownerID,
			JobID:      jobID,
			SourceRef:  artifact.SourceRef,
			ShotNumber: artifact.ShotNumber,
			MediaRef:   artifact.MediaRef,
		})
		if err != nil {
			log.Printf("artifact event publish failed job=%s err=%v", jobID, err)
		}
	}
}

func (s *Scheduler) notifyFinished(ctx context.Context, sess *session.Session, jobID string) {
	if !s.notifier.enabled() {
		return
	}

	snapshot := sess.Snapshot()
	if snapshot.Job == nil {
		return
	}
	if err := s.notifier.NotifyJobFinished(ctx, sess.OwnerID(), jobID, snapshot.Job.Status, snapshot.Job.Progress); err != nil {
		log.Printf("job webhook notify failed job=%s err=%v", jobID, err)
	}
}
