package testutils

import (
	"sync"

	"github.com/srg/blescope/internal/status"
)

// StatusRecorder is a status.Sink that keeps every published status
type StatusRecorder struct {
	mu       sync.Mutex
	statuses []status.Status
}

func (r *StatusRecorder) Publish(st status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

// Texts returns the published texts in order
func (r *StatusRecorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	for i, st := range r.statuses {
		out[i] = st.Text
	}
	return out
}

// Last returns the most recent status
func (r *StatusRecorder) Last() (status.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return status.Status{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

// Contains reports whether text was published
func (r *StatusRecorder) Contains(text string) bool {
	for _, t := range r.Texts() {
		if t == text {
			return true
		}
	}
	return false
}
