package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/xIceArcher/go-livewatch/stream"
)

// Scheduler owns one independent Poller per platform.
type Scheduler struct {
	mu      sync.RWMutex
	pollers map[stream.Platform]*Poller
}

func New() *Scheduler {
	return &Scheduler{
		pollers: make(map[stream.Platform]*Poller),
	}
}

func (s *Scheduler) Add(p *Poller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pollers[p.Platform()] = p
}

func (s *Scheduler) Poller(platform stream.Platform) (*Poller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pollers[platform]
	return p, ok
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.pollers {
		p.Start(ctx)
	}
}

func (s *Scheduler) Stop() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range s.pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
}

// LastCheck returns the start time of the most recent cycle on any platform.
func (s *Scheduler) LastCheck() time.Time {
	var latest time.Time
	for _, t := range s.LastChecks() {
		if t.After(latest) {
			latest = t
		}
	}

	return latest
}

func (s *Scheduler) LastChecks() map[stream.Platform]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make(map[stream.Platform]time.Time, len(s.pollers))
	for platform, p := range s.pollers {
		ret[platform] = p.LastCheck()
	}

	return ret
}
