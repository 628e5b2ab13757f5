package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultFlushInterval = 1 * time.Second

// FlushTarget is a service whose debounced snapshot writes the flusher
// drives to disk.
type FlushTarget interface {
	Name() string
	FlushPending()
}

// FlushService periodically flushes outstanding debounced snapshots so a
// crash loses at most one flush interval of mutations.
type FlushService struct {
	targets []FlushTarget
	logger  *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewFlushService(logger *zap.Logger, targets ...FlushTarget) *FlushService {
	return &FlushService{
		targets:  targets,
		logger:   logger,
		interval: defaultFlushInterval,
		stopCh:   make(chan struct{}),
	}
}

func (s *FlushService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the flusher on a periodic schedule in a background goroutine.
func (s *FlushService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("snapshot flusher started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				s.run()
			case <-s.stopCh:
				s.logger.Info("snapshot flusher stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the flusher after a final flush.
func (s *FlushService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.run()
}

func (s *FlushService) run() {
	for _, target := range s.targets {
		target.FlushPending()
	}
}
