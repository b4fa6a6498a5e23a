package session

import "sync"

// Session owns one owner's state and serializes transitions through Reduce.
type Session struct {
	mu      sync.RWMutex
	ownerID string
	state   State
}

func New(ownerID string) *Session {
	return &Session{
		ownerID: ownerID,
		state:   initialState(),
	}
}

func (s *Session) OwnerID() string {
	return s.ownerID
}

func (s *Session) Dispatch(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, action)
}

// Snapshot returns a copy safe to read while controllers keep dispatching.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.state
	state.Selection = copySelection(s.state.Selection)
	state.Plans = append([]Plan(nil), s.state.Plans...)
	state.SourceItems = append([]SourceItem(nil), s.state.SourceItems...)
	state.Results = append([]ResultArtifact(nil), s.state.Results...)
	if s.state.Job != nil {
		job := *s.state.Job
		job.RecentArtifacts = append([]ArtifactPreview(nil), s.state.Job.RecentArtifacts...)
		state.Job = &job
	}
	return state
}
