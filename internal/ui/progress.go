package ui

import (
	"sync"
	"time"
)

// ProgressTracker manages progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	topic      string
	startTime  time.Time
	stageStart time.Time
	errors     []ErrorEvent
	warnings   []ErrorEvent

	// ETA smoothing to prevent wild fluctuations.
	lastETA time.Duration

	// Throughput over the current stage.
	lastCurrent   int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
}

// ProgressStats is a snapshot of current progress.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Topic      string
	ErrorCount int
	WarnCount  int
	Speed      float64 // items/sec, smoothed
	Elapsed    time.Duration
}

// NewProgressTracker creates a progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:         StageSearch,
		startTime:     now,
		stageStart:    now,
		lastSpeedCalc: now,
	}
}

// SetStage transitions to a new stage.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.stageStart = time.Now()
	p.lastETA = 0

	p.lastCurrent = 0
	p.lastSpeedCalc = time.Now()
	p.currentSpeed = 0
	p.avgSpeed = 0
}

// Update updates progress within the current stage.
func (p *ProgressTracker) Update(current int, topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if topic != "" {
		p.topic = topic
	}

	// Sample speed every 500ms to avoid noise.
	now := time.Now()
	elapsed := now.Sub(p.lastSpeedCalc)
	if elapsed >= 500*time.Millisecond {
		if delta := current - p.lastCurrent; delta > 0 {
			speed := float64(delta) / elapsed.Seconds()
			p.currentSpeed = speed
			if p.avgSpeed == 0 {
				p.avgSpeed = speed
			} else {
				// Smoothing factor 0.2: responsive but stable.
				p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
			}
		}
		p.lastCurrent = current
		p.lastSpeedCalc = now
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Stats returns a snapshot of current progress.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Topic:      p.topic,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
		Speed:      p.avgSpeed,
		Elapsed:    time.Since(p.startTime),
	}
	if p.total > 0 {
		stats.Progress = float64(p.current) / float64(p.total)
		stats.ETA = p.estimateETA()
	}
	return stats
}

// estimateETA projects the remaining time for the stage with exponential
// smoothing. Caller holds the lock.
func (p *ProgressTracker) estimateETA() time.Duration {
	if p.current <= 0 || p.total <= 0 || p.current >= p.total {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	perItem := elapsed / time.Duration(p.current)
	raw := perItem * time.Duration(p.total-p.current)

	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	// Blend 30% new estimate into the previous one.
	smoothed := time.Duration(0.3*float64(raw) + 0.7*float64(p.lastETA))
	p.lastETA = smoothed
	return smoothed
}
