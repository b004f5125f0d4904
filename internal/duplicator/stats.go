package duplicator

import (
	"sync"
	"time"
)

// Stats tracks capture loop counters for one engine. Read them through
// Snapshot.
type Stats struct {
	mu sync.RWMutex

	framesPublished uint64
	waitTimeouts    uint64
	transientErrors uint64
	abortedCycles   uint64

	lastDuplicate time.Duration
	lastSleep     time.Duration
	startTime     time.Time
}

func newStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) recordPublish() {
	s.mu.Lock()
	s.framesPublished++
	s.mu.Unlock()
}

func (s *Stats) recordTimeout() {
	s.mu.Lock()
	s.waitTimeouts++
	s.mu.Unlock()
}

func (s *Stats) recordTransient() {
	s.mu.Lock()
	s.transientErrors++
	s.mu.Unlock()
}

func (s *Stats) recordAbort() {
	s.mu.Lock()
	s.abortedCycles++
	s.mu.Unlock()
}

func (s *Stats) recordCycle(duplicate, sleep time.Duration) {
	s.mu.Lock()
	s.lastDuplicate = duplicate
	s.lastSleep = sleep
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time copy of Stats for logging.
type StatsSnapshot struct {
	FramesPublished uint64
	WaitTimeouts    uint64
	TransientErrors uint64
	AbortedCycles   uint64
	DuplicateMs     float64
	SleepMs         float64
	FPS             float64
	Uptime          time.Duration
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := time.Since(s.startTime)
	fps := float64(0)
	if uptime.Seconds() > 0 {
		fps = float64(s.framesPublished) / uptime.Seconds()
	}

	return StatsSnapshot{
		FramesPublished: s.framesPublished,
		WaitTimeouts:    s.waitTimeouts,
		TransientErrors: s.transientErrors,
		AbortedCycles:   s.abortedCycles,
		DuplicateMs:     float64(s.lastDuplicate.Microseconds()) / 1000.0,
		SleepMs:         float64(s.lastSleep.Microseconds()) / 1000.0,
		FPS:             fps,
		Uptime:          uptime,
	}
}
