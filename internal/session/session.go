// Package session provides the idle-session lifecycle service.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotInitialized is returned when Reset is called before Init.
var ErrNotInitialized = errors.New("session service not initialized")

// Service expires an idle session after a fixed timeout. It is injected
// rather than module-global so callers can run independent instances and
// tests can drive it directly.
type Service struct {
	logger   *slog.Logger
	onExpire func()

	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	active  bool
}

// New creates a session service invoking onExpire when the idle timeout
// elapses without a Reset.
func New(onExpire func()) *Service {
	return &Service{
		logger:   slog.Default().With("component", "session"),
		onExpire: onExpire,
	}
}

// Init arms the idle timer. Calling Init on an active service restarts it
// with the new timeout.
func (s *Service) Init(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.timeout = timeout
	s.active = true
	s.timer = time.AfterFunc(timeout, s.expire)
}

// Reset pushes the expiry out by the full timeout. Call on user activity.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrNotInitialized
	}
	s.timer.Stop()
	s.timer = time.AfterFunc(s.timeout, s.expire)
	return nil
}

// Teardown stops the timer. Safe to call repeatedly; after teardown the
// expiry callback will not fire.
func (s *Service) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Active reports whether the service is armed.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.active = false
}

func (s *Service) expire() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.timer = nil
	s.mu.Unlock()

	s.logger.Info("Idle session expired")
	if s.onExpire != nil {
		s.onExpire()
	}
}
