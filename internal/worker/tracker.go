package worker

import (
	"sync"

	"github.com/scriptreel/api/internal/model"
)

// progressTracker counts completed pipeline units for one job. A job is
// scenes*3+2 units: parsing, then visual, voice and composite per
// scene, then assembly. Progress is the completed share of that.
type progressTracker struct {
	mu       sync.Mutex
	done     int
	total    int
	attempts []model.StageAttempt
}

func newProgressTracker(sceneCount int) *progressTracker {
	return &progressTracker{total: sceneCount*3 + 2}
}

// completeUnit marks one unit done and returns the new progress.
func (t *progressTracker) completeUnit() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done < t.total {
		t.done++
	}
	return t.progressLocked()
}

func (t *progressTracker) progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progressLocked()
}

func (t *progressTracker) progressLocked() float64 {
	if t.total == 0 {
		return 0
	}
	return 100 * float64(t.done) / float64(t.total)
}

// record appends one stage attempt to the job's audit trail.
func (t *progressTracker) record(a model.StageAttempt) {
	t.mu.Lock()
	t.attempts = append(t.attempts, a)
	t.mu.Unlock()
}

func (t *progressTracker) attemptLog() []model.StageAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.StageAttempt, len(t.attempts))
	copy(out, t.attempts)
	return out
}
