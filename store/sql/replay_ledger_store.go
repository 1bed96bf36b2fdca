package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/arka-hq/go-guard/core"
)

// ReplayLedgerStore keeps replay keys in guard_webhook_deliveries so every
// instance behind a load balancer shares one ledger.
type ReplayLedgerStore struct {
	db         *bun.DB
	repo       repository.Repository[*replayDeliveryRecord]
	defaultTTL time.Duration
	Now        func() time.Time
}

func NewReplayLedgerStore(db *bun.DB, defaultTTL time.Duration) (*ReplayLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*replayDeliveryRecord](db, replayDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid replay ledger repository wiring: %w", err)
		}
	}
	if defaultTTL <= 0 {
		defaultTTL = core.DefaultReplayTTL
	}
	return &ReplayLedgerStore{
		db:         db,
		repo:       repo,
		defaultTTL: defaultTTL,
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// IsReplay deletes rows older than ttl, then inserts the key. A unique
// violation on replay_key means the pair is still live.
func (s *ReplayLedgerStore) IsReplay(ctx context.Context, eventID string, signature string, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: replay ledger store is not configured")
	}
	if strings.TrimSpace(eventID) == "" {
		return false, fmt.Errorf("sqlstore: replay event id is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()

	if _, err := s.db.NewDelete().
		Model((*replayDeliveryRecord)(nil)).
		Where("received_at < ?", now.Add(-ttl)).
		Exec(ctx); err != nil {
		return false, err
	}

	record := &replayDeliveryRecord{
		ID:         uuid.NewString(),
		ReplayKey:  core.ReplayKey(eventID, signature),
		EventID:    eventID,
		Signature:  signature,
		ReceivedAt: now,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Lookup returns when the pair was first recorded, if it is stored.
func (s *ReplayLedgerStore) Lookup(ctx context.Context, eventID string, signature string) (time.Time, bool, error) {
	if s == nil || s.repo == nil {
		return time.Time{}, false, fmt.Errorf("sqlstore: replay ledger store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("replay_key", "=", core.ReplayKey(eventID, signature)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	return records[0].ReceivedAt.UTC(), true, nil
}

func (s *ReplayLedgerStore) Forget(ctx context.Context, eventID string, signature string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: replay ledger store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*replayDeliveryRecord)(nil)).
		Where("replay_key = ?", core.ReplayKey(eventID, signature)).
		Exec(ctx)
	return err
}

// PurgeExpired drops rows whose recorded ttl has elapsed.
func (s *ReplayLedgerStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: replay ledger store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*replayDeliveryRecord)(nil)).
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *ReplayLedgerStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var (
	_ core.ReplayLedger    = (*ReplayLedgerStore)(nil)
	_ core.ReplayForgetter = (*ReplayLedgerStore)(nil)
)
