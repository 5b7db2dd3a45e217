package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"consentry/internal/domain"
)

// Store keys. These namespace the coordinator's durable state; a fresh redis
// instance behaves as a first run (empty collections, default settings).
const (
	keyConsentTokens = "consentTokens"
	keyDetections    = "detections"
	keySettings      = "settings"
	keyAbandonTabMap = "abandonTabMap"
)

// RedisConsentStore persists the full consent collection as one JSON value.
// Read-modify-write over the whole collection is the store discipline; there
// is no partial-update primitive.
type RedisConsentStore struct {
	client *redis.Client
}

func NewRedisConsentStore(client *redis.Client) *RedisConsentStore {
	return &RedisConsentStore{client: client}
}

func (s *RedisConsentStore) LoadConsents(ctx context.Context) ([]domain.ConsentRecord, error) {
	raw, err := s.client.Get(ctx, keyConsentTokens).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.ConsentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load consents: %w", err)
	}
	var records []domain.ConsentRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode consents: %w", err)
	}
	return records, nil
}

func (s *RedisConsentStore) SaveConsents(ctx context.Context, records []domain.ConsentRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode consents: %w", err)
	}
	if err := s.client.Set(ctx, keyConsentTokens, raw, 0).Err(); err != nil {
		return fmt.Errorf("save consents: %w", err)
	}
	return nil
}

// RedisDetectionStore appends detection events to a redis list. The list is
// never trimmed here; ListDetections reads only the most recent window.
type RedisDetectionStore struct {
	client *redis.Client
}

func NewRedisDetectionStore(client *redis.Client) *RedisDetectionStore {
	return &RedisDetectionStore{client: client}
}

func (s *RedisDetectionStore) AppendDetection(ctx context.Context, event domain.DetectionEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode detection: %w", err)
	}
	if err := s.client.RPush(ctx, keyDetections, raw).Err(); err != nil {
		return fmt.Errorf("append detection: %w", err)
	}
	return nil
}

func (s *RedisDetectionStore) ListDetections(ctx context.Context, limit int) ([]domain.DetectionEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.client.LRange(ctx, keyDetections, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	events := make([]domain.DetectionEvent, 0, len(raws))
	for _, raw := range raws {
		var event domain.DetectionEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("decode detection: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// RedisSettingsStore stores the settings record as JSON, creating defaults on
// first read so initialization stays idempotent.
type RedisSettingsStore struct {
	client *redis.Client
}

func NewRedisSettingsStore(client *redis.Client) *RedisSettingsStore {
	return &RedisSettingsStore{client: client}
}

func (s *RedisSettingsStore) LoadSettings(ctx context.Context) (domain.Settings, error) {
	raw, err := s.client.Get(ctx, keySettings).Bytes()
	if errors.Is(err, redis.Nil) {
		defaults := domain.DefaultSettings()
		if err := s.SaveSettings(ctx, defaults); err != nil {
			return domain.Settings{}, err
		}
		return defaults, nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var settings domain.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (s *RedisSettingsStore) SaveSettings(ctx context.Context, settings domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.client.Set(ctx, keySettings, raw, 0).Err(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RedisTabMapStore keeps the tokenId -> tab mapping in a hash.
type RedisTabMapStore struct {
	client *redis.Client
}

func NewRedisTabMapStore(client *redis.Client) *RedisTabMapStore {
	return &RedisTabMapStore{client: client}
}

func (s *RedisTabMapStore) SetTab(ctx context.Context, tokenID string, tabID int) error {
	if err := s.client.HSet(ctx, keyAbandonTabMap, tokenID, tabID).Err(); err != nil {
		return fmt.Errorf("set tab: %w", err)
	}
	return nil
}

func (s *RedisTabMapStore) Tab(ctx context.Context, tokenID string) (int, error) {
	raw, err := s.client.HGet(ctx, keyAbandonTabMap, tokenID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get tab: %w", err)
	}
	tab, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode tab: %w", err)
	}
	return tab, nil
}

func (s *RedisTabMapStore) DeleteTab(ctx context.Context, tokenID string) error {
	if err := s.client.HDel(ctx, keyAbandonTabMap, tokenID).Err(); err != nil {
		return fmt.Errorf("delete tab: %w", err)
	}
	return nil
}
