package progress

import (
	"strings"
	"sync"
)

// Sampler suppresses repetitive progress logs while preserving signal when
// the stage changes or the percentage crosses a bucket boundary. It is safe
// for concurrent use.
type Sampler struct {
	mu         sync.Mutex
	bucketSize int
	lastStage  string
	lastBucket int
}

// NewSampler constructs a sampler with the given bucket size in percent
// points. Non-positive sizes default to 10.
func NewSampler(bucketSize int) *Sampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &Sampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event for stage at percent should be
// logged.
func (s *Sampler) ShouldLog(stage string, percent int) bool {
	if s == nil {
		return true
	}
	stage = strings.TrimSpace(stage)

	s.mu.Lock()
	defer s.mu.Unlock()
	emit := false
	if stage != s.lastStage {
		s.lastStage = stage
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := percent / s.bucketSize
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state, e.g. when a new file is selected.
func (s *Sampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStage = ""
	s.lastBucket = -1
}
