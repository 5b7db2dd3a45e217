package storage

import (
	"context"
	"errors"

	"consentry/internal/domain"
)

var (
	// ErrNotFound keeps storage-specific misses consistent across the
	// in-memory and redis implementations.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateToken guards the tokenId uniqueness invariant.
	ErrDuplicateToken = errors.New("token id already exists")
)

// Stores are interface-driven to keep the lifecycle logic testable and to
// allow swapping in-memory and redis persistence without rewiring business
// code.
//
// The consent collection deliberately exposes only whole-collection load and
// save: every mutation is a read-modify-write over the full collection, with
// last write winning. Records are expected to be touched by a single token's
// own lifecycle at a time; this is not structurally enforced.
type ConsentStore interface {
	LoadConsents(ctx context.Context) ([]domain.ConsentRecord, error)
	SaveConsents(ctx context.Context, records []domain.ConsentRecord) error
}

// DetectionStore is an append-only log. Listing returns at most limit of the
// most recent events; the log itself is never pruned here.
type DetectionStore interface {
	AppendDetection(ctx context.Context, event domain.DetectionEvent) error
	ListDetections(ctx context.Context, limit int) ([]domain.DetectionEvent, error)
}

// SettingsStore loads process-wide settings, creating defaults on first read.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error
}

// TabMapStore tracks which browsing context issued each token, so on-chain
// abandonment can be requested through the right tab. Entries are removed
// once the abandonment transition completes.
type TabMapStore interface {
	SetTab(ctx context.Context, tokenID string, tabID int) error
	Tab(ctx context.Context, tokenID string) (int, error)
	DeleteTab(ctx context.Context, tokenID string) error
}

// FindConsent returns the record with the given token id from a loaded
// collection, along with its index, or -1 when absent.
func FindConsent(records []domain.ConsentRecord, tokenID string) (domain.ConsentRecord, int) {
	for i, r := range records {
		if r.TokenID == tokenID {
			return r, i
		}
	}
	return domain.ConsentRecord{}, -1
}
