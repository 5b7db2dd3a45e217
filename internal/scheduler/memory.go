package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is a timer-backed scheduler for tests and single-process development
// runs. Deadlines do not survive a restart; the redis scheduler is the
// durable implementation.
type Memory struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	handler Handler
	logger  *slog.Logger
}

func NewMemory(handler Handler, logger *slog.Logger) *Memory {
	return &Memory{
		timers:  make(map[string]*time.Timer),
		handler: handler,
		logger:  logger,
	}
}

func (m *Memory) Schedule(ctx context.Context, name string, at time.Time) error {
	return m.ScheduleIn(ctx, name, time.Until(at))
}

func (m *Memory) ScheduleIn(_ context.Context, name string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.timers[name]; ok {
		prev.Stop()
	}
	m.timers[name] = time.AfterFunc(delay, func() { m.fire(name) })
	return nil
}

func (m *Memory) Cancel(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[name]; ok {
		timer.Stop()
		delete(m.timers, name)
	}
	return nil
}

func (m *Memory) fire(name string) {
	m.mu.Lock()
	delete(m.timers, name)
	m.mu.Unlock()

	kind, tokenID, err := ParseName(name)
	if err != nil {
		m.logger.Warn("dropping deadline with malformed name", "name", name, "error", err)
		return
	}
	markFired(kind)
	m.handler(context.Background(), kind, tokenID)
}
