package storage

import (
	"context"
	"sync"

	"consentry/internal/domain"
)

// In-memory stores back tests and single-process development runs. They
// intentionally favor clarity over performance.
type MemoryConsentStore struct {
	mu      sync.RWMutex
	records []domain.ConsentRecord
}

func NewMemoryConsentStore() *MemoryConsentStore {
	return &MemoryConsentStore{}
}

func (s *MemoryConsentStore) LoadConsents(_ context.Context) ([]domain.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConsentRecord{}, s.records...), nil
}

func (s *MemoryConsentStore) SaveConsents(_ context.Context, records []domain.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]domain.ConsentRecord{}, records...)
	return nil
}

type MemoryDetectionStore struct {
	mu     sync.RWMutex
	events []domain.DetectionEvent
}

func NewMemoryDetectionStore() *MemoryDetectionStore {
	return &MemoryDetectionStore{}
}

func (s *MemoryDetectionStore) AppendDetection(_ context.Context, event domain.DetectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryDetectionStore) ListDetections(_ context.Context, limit int) ([]domain.DetectionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	return append([]domain.DetectionEvent{}, s.events[start:]...), nil
}

type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings *domain.Settings
}

func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{}
}

func (s *MemorySettingsStore) LoadSettings(_ context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		defaults := domain.DefaultSettings()
		s.settings = &defaults
	}
	return *s.settings, nil
}

func (s *MemorySettingsStore) SaveSettings(_ context.Context, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

type MemoryTabMapStore struct {
	mu   sync.RWMutex
	tabs map[string]int
}

func NewMemoryTabMapStore() *MemoryTabMapStore {
	return &MemoryTabMapStore{tabs: make(map[string]int)}
}

func (s *MemoryTabMapStore) SetTab(_ context.Context, tokenID string, tabID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tokenID] = tabID
	return nil
}

func (s *MemoryTabMapStore) Tab(_ context.Context, tokenID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tab, ok := s.tabs[tokenID]; ok {
		return tab, nil
	}
	return 0, ErrNotFound
}

func (s *MemoryTabMapStore) DeleteTab(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, tokenID)
	return nil
}
