package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type trackerEntry struct {
	tracker     *Tracker
	unsubscribe func()
	lastUsed    time.Time
}

// TrackerRegistry keeps one listening Tracker per identity. Entries live
// until Close, or until EvictIdle finds them unused for too long.
type TrackerRegistry struct {
	profiles *ProfileService
	clock    Clock
	logger   *zap.Logger

	mu       sync.Mutex
	trackers map[string]*trackerEntry
	group    singleflight.Group
}

func NewTrackerRegistry(profiles *ProfileService, clock Clock, logger *zap.Logger) *TrackerRegistry {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackerRegistry{
		profiles: profiles,
		clock:    clock,
		logger:   logger.Named("trackers"),
		trackers: make(map[string]*trackerEntry),
	}
}

// Get returns the user's tracker, creating it and attaching its listener on
// first use. The listener's initial delivery has been applied by the time
// Get returns. A failed attach is not remembered.
func (r *TrackerRegistry) Get(ctx context.Context, userID string) (*Tracker, error) {
	if tracker, ok := r.touch(userID); ok {
		return tracker, nil
	}

	v, err, _ := r.group.Do(userID, func() (interface{}, error) {
		r.mu.Lock()
		entry, ok := r.trackers[userID]
		r.mu.Unlock()
		if ok {
			return entry.tracker, nil
		}

		tracker := NewTracker(userID, r.profiles, r.clock, r.logger)
		unsubscribe, err := tracker.InitProfileListener(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.trackers[userID] = &trackerEntry{tracker: tracker, unsubscribe: unsubscribe, lastUsed: r.clock.Now()}
		r.mu.Unlock()
		r.logger.Info("tracker attached", zap.String("user", userID))
		return tracker, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tracker), nil
}

func (r *TrackerRegistry) touch(userID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.trackers[userID]
	if !ok {
		return nil, false
	}
	entry.lastUsed = r.clock.Now()
	return entry.tracker, true
}

// EvictIdle detaches trackers not returned by Get for longer than maxIdle
// and reports how many were dropped. A later Get attaches a fresh tracker.
func (r *TrackerRegistry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.clock.Now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*trackerEntry
	for userID, e := range r.trackers {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e)
			delete(r.trackers, userID)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		e.unsubscribe()
	}
	if len(idle) > 0 {
		r.logger.Info("idle trackers detached", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// RunEvictor calls EvictIdle every interval until ctx is done. A
// non-positive maxIdle disables eviction.
func (r *TrackerRegistry) RunEvictor(ctx context.Context, maxIdle, interval time.Duration) {
	if maxIdle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle(maxIdle)
		}
	}
}

// Len reports how many trackers are attached.
func (r *TrackerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Close detaches every listener. Trackers handed out earlier keep working
// on their last known state.
func (r *TrackerRegistry) Close() {
	r.mu.Lock()
	entries := r.trackers
	r.trackers = make(map[string]*trackerEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.unsubscribe()
	}
	r.logger.Info("trackers detached", zap.Int("count", len(entries)))
}
