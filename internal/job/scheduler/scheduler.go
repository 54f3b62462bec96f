package scheduler

import (
	"context"
	"log"
	"time"

	jobUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/usecase"
)

// Scheduler drives the job runner in the background. HTTP callers can still
// trigger cycles on demand; this just guarantees queued work is picked up
// without one.
type Scheduler struct {
	runner   *jobUsecase.Runner
	interval time.Duration
	stopChan chan struct{}
}

func NewScheduler(runner *jobUsecase.Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the poll loop
func (s *Scheduler) Start() {
	log.Printf("[Scheduler] Starting job poll loop (interval: %s)", s.interval)

	go func() {
		// Run immediately on start
		s.runCycle()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runCycle()
			case <-s.stopChan:
				log.Println("[Scheduler] Poll loop stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runCycle() {
	summary, err := s.runner.RunOnce(context.Background())
	if err != nil {
		log.Printf("[Scheduler] Poll cycle error: %v", err)
		return
	}
	if summary.Processed > 0 || summary.Reclaimed > 0 {
		log.Printf("[Scheduler] Cycle: %d processed (done=%d requeued=%d failed=%d), %d reclaimed",
			summary.Processed, summary.Done, summary.Requeued, summary.Failed, summary.Reclaimed)
	}
}
