package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/arka-hq/go-guard/githubevents"
)

// AgentEventStore writes normalized GitHub events together with their lot
// state and follow-up action in one transaction.
type AgentEventStore struct {
	db         *bun.DB
	eventRepo  repository.Repository[*agentEventRecord]
	actionRepo repository.Repository[*actionQueueRecord]
	Now        func() time.Time
}

func NewAgentEventStore(db *bun.DB) (*AgentEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	eventRepo := repository.NewRepository[*agentEventRecord](db, agentEventHandlers())
	if validator, ok := eventRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid agent event repository wiring: %w", err)
		}
	}
	actionRepo := repository.NewRepository[*actionQueueRecord](db, actionQueueHandlers())
	if validator, ok := actionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid action queue repository wiring: %w", err)
		}
	}
	return &AgentEventStore{
		db:         db,
		eventRepo:  eventRepo,
		actionRepo: actionRepo,
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *AgentEventStore) Record(ctx context.Context, recording githubevents.Recording) (githubevents.RecordResult, error) {
	if s == nil || s.db == nil {
		return githubevents.RecordResult{}, fmt.Errorf("sqlstore: agent event store is not configured")
	}
	if strings.TrimSpace(recording.Event.Hash) == "" {
		return githubevents.RecordResult{}, fmt.Errorf("sqlstore: agent event hash is required")
	}
	now := s.now()
	record := newAgentEventRecord(recording.Event, now)

	var result githubevents.RecordResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (hash) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			existing := &agentEventRecord{}
			if err := tx.NewSelect().
				Model(existing).
				Where("?TableAlias.hash = ?", record.Hash).
				Limit(1).
				Scan(ctx); err != nil {
				return err
			}
			result = githubevents.RecordResult{EventID: existing.ID, Duplicate: true}
			return nil
		}
		result = githubevents.RecordResult{EventID: record.ID}

		if lot := recording.Lot; lot != nil {
			if err := upsertLotTx(ctx, tx, *lot, record.ID, now); err != nil {
				return err
			}
		}
		if action := recording.Action; action != nil {
			if err := enqueueActionTx(ctx, tx, *action, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return githubevents.RecordResult{}, err
	}
	return result, nil
}

// RecentEvents lists the newest events for repo.
func (s *AgentEventStore) RecentEvents(ctx context.Context, repo string, limit int) ([]githubevents.AgentEvent, error) {
	if s == nil || s.eventRepo == nil {
		return nil, fmt.Errorf("sqlstore: agent event store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	records, _, err := s.eventRepo.List(ctx,
		repository.SelectBy("repo", "=", strings.TrimSpace(repo)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]githubevents.AgentEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *AgentEventStore) QueuedActions(ctx context.Context) ([]githubevents.FollowUpAction, error) {
	if s == nil || s.actionRepo == nil {
		return nil, fmt.Errorf("sqlstore: agent event store is not configured")
	}
	records, _, err := s.actionRepo.List(ctx,
		repository.SelectBy("status", "=", githubevents.ActionStatusQueue),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]githubevents.FollowUpAction, 0, len(records))
	for _, record := range records {
		out = append(out, githubevents.FollowUpAction{
			Kind:      record.Kind,
			DedupeKey: record.DedupeKey,
			Payload:   copyAnyMap(record.Payload),
		})
	}
	return out, nil
}

func (s *AgentEventStore) Lot(ctx context.Context, lotKey string) (githubevents.LotUpdate, string, error) {
	if s == nil || s.db == nil {
		return githubevents.LotUpdate{}, "", fmt.Errorf("sqlstore: agent event store is not configured")
	}
	record := &lotStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.lot_key = ?", strings.TrimSpace(lotKey)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return githubevents.LotUpdate{}, "", fmt.Errorf("sqlstore: lot %q not found", lotKey)
		}
		return githubevents.LotUpdate{}, "", err
	}
	return githubevents.LotUpdate{
		LotKey: record.LotKey,
		Status: record.Status,
		KPIs:   copyAnyMap(record.KPIs),
	}, record.LastEventID, nil
}

func (s *AgentEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func upsertLotTx(ctx context.Context, tx bun.Tx, lot githubevents.LotUpdate, eventID string, now time.Time) error {
	record := &lotStateRecord{
		ID:          uuid.NewString(),
		LotKey:      strings.TrimSpace(lot.LotKey),
		Status:      lot.Status,
		KPIs:        copyAnyMap(lot.KPIs),
		LastEventID: eventID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (lot_key) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("kpis = EXCLUDED.kpis").
		Set("last_event_id = EXCLUDED.last_event_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func enqueueActionTx(ctx context.Context, tx bun.Tx, action githubevents.FollowUpAction, now time.Time) error {
	record := &actionQueueRecord{
		ID:        uuid.NewString(),
		Kind:      action.Kind,
		Payload:   copyAnyMap(action.Payload),
		Status:    githubevents.ActionStatusQueue,
		DedupeKey: strings.TrimSpace(action.DedupeKey),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (dedupe_key) DO NOTHING").
		Exec(ctx)
	return err
}

func newAgentEventRecord(event githubevents.AgentEvent, now time.Time) *agentEventRecord {
	return &agentEventRecord{
		ID:          uuid.NewString(),
		Agent:       event.Agent,
		Kind:        event.Kind,
		GitHubEvent: event.Event,
		Action:      event.Action,
		Title:       event.Title,
		Summary:     event.Summary,
		Labels:      copyStrings(event.Labels),
		Links:       copyStrings(event.Links),
		KPIs:        copyAnyMap(event.KPIs),
		Author:      event.Author,
		Source:      event.Source,
		Repo:        event.Repo,
		IssueRef:    optionalString(event.IssueRef),
		PRRef:       optionalString(event.PRRef),
		DeliveryID:  event.DeliveryID,
		Hash:        strings.TrimSpace(event.Hash),
		CreatedAt:   now,
	}
}

func (r *agentEventRecord) toDomain() githubevents.AgentEvent {
	event := githubevents.AgentEvent{
		ID:         r.ID,
		Agent:      r.Agent,
		Kind:       r.Kind,
		Event:      r.GitHubEvent,
		Action:     r.Action,
		Title:      r.Title,
		Summary:    r.Summary,
		Labels:     copyStrings(r.Labels),
		Links:      copyStrings(r.Links),
		KPIs:       copyAnyMap(r.KPIs),
		Author:     r.Author,
		Source:     r.Source,
		Repo:       r.Repo,
		DeliveryID: r.DeliveryID,
		Hash:       r.Hash,
	}
	if r.IssueRef != nil {
		event.IssueRef = *r.IssueRef
	}
	if r.PRRef != nil {
		event.PRRef = *r.PRRef
	}
	return event
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ githubevents.Recorder = (*AgentEventStore)(nil)
