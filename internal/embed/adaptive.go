package embed

import (
	"log/slog"
	"sync"
	"time"
)

// rateLimitHalveAfter is how many consecutive rate-limit hits trigger a
// parallelism cut.
const rateLimitHalveAfter = 2

// recoveryWindow is how long the embedder must run clean before parallelism
// steps back up.
const recoveryWindow = time.Minute

// adaptiveState tracks per-instance parallelism for an embedder. Rate limits
// halve it (floor 1); a clean minute raises it one step toward the max.
type adaptiveState struct {
	mu sync.Mutex

	max      int
	current  int
	rlStreak int

	lastRateLimit time.Time
	lastRaise     time.Time
}

func (s *adaptiveState) init(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = max
	s.current = max
	s.lastRaise = time.Now()
}

func (s *adaptiveState) parallelism() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 1 {
		return 1
	}
	return s.current
}

func (s *adaptiveState) noteRateLimit(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rlStreak++
	s.lastRateLimit = time.Now()
	if s.rlStreak < rateLimitHalveAfter || s.current <= 1 {
		return
	}

	s.current /= 2
	if s.current < 1 {
		s.current = 1
	}
	s.rlStreak = 0
	logger.Info("reducing embedding parallelism after repeated rate limits",
		"parallelism", s.current)
}

func (s *adaptiveState) noteSuccess(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rlStreak = 0
	if s.current >= s.max {
		return
	}

	now := time.Now()
	cleanSince := s.lastRateLimit
	if s.lastRaise.After(cleanSince) {
		cleanSince = s.lastRaise
	}
	if now.Sub(cleanSince) < recoveryWindow {
		return
	}

	s.current++
	s.lastRaise = now
	logger.Info("restoring embedding parallelism after a clean interval",
		"parallelism", s.current)
}
