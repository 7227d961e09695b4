package service

import (
	"sync"
	"time"

	"github.com/scriptreel/api/internal/model"
)

// PipelineStats aggregates process-wide pipeline counters. Counters
// reset on restart; durable history lives in the job records.
type PipelineStats struct {
	mu sync.Mutex

	jobsStarted      int64
	jobsCompleted    int64
	jobsFailed       int64
	jobsCancelled    int64
	scenesRendered   int64
	retriesAttempted int64
	mockFallbacks    int64
	renderSeconds    float64
}

func NewPipelineStats() *PipelineStats {
	return &PipelineStats{}
}

func (p *PipelineStats) MarkStarted() {
	p.mu.Lock()
	p.jobsStarted++
	p.mu.Unlock()
}

func (p *PipelineStats) MarkCompleted() {
	p.mu.Lock()
	p.jobsCompleted++
	p.mu.Unlock()
}

func (p *PipelineStats) MarkFailed() {
	p.mu.Lock()
	p.jobsFailed++
	p.mu.Unlock()
}

func (p *PipelineStats) MarkCancelled() {
	p.mu.Lock()
	p.jobsCancelled++
	p.mu.Unlock()
}

func (p *PipelineStats) AddScene() {
	p.mu.Lock()
	p.scenesRendered++
	p.mu.Unlock()
}

func (p *PipelineStats) AddRetry() {
	p.mu.Lock()
	p.retriesAttempted++
	p.mu.Unlock()
}

func (p *PipelineStats) AddMockFallback() {
	p.mu.Lock()
	p.mockFallbacks++
	p.mu.Unlock()
}

func (p *PipelineStats) AddRenderTime(d time.Duration) {
	p.mu.Lock()
	p.renderSeconds += d.Seconds()
	p.mu.Unlock()
}

// Snapshot returns a point-in-time copy of every counter.
func (p *PipelineStats) Snapshot() model.PipelineStatsResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PipelineStatsResponse{
		JobsStarted:      p.jobsStarted,
		JobsCompleted:    p.jobsCompleted,
		JobsFailed:       p.jobsFailed,
		JobsCancelled:    p.jobsCancelled,
		ScenesRendered:   p.scenesRendered,
		RetriesAttempted: p.retriesAttempted,
		MockFallbacks:    p.mockFallbacks,
		RenderSeconds:    p.renderSeconds,
	}
}
