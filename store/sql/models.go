package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type replayDeliveryRecord struct {
	bun.BaseModel `bun:"table:guard_webhook_deliveries,alias:gwd"`

	ID         string    `bun:"id,pk"`
	ReplayKey  string    `bun:"replay_key,notnull"`
	EventID    string    `bun:"event_id,notnull"`
	Signature  string    `bun:"signature,notnull"`
	ReceivedAt time.Time `bun:"received_at,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type agentEventRecord struct {
	bun.BaseModel `bun:"table:guard_agent_events,alias:gae"`

	ID          string         `bun:"id,pk"`
	Agent       string         `bun:"agent,notnull"`
	Kind        string         `bun:"kind,notnull"`
	GitHubEvent string         `bun:"github_event,notnull"`
	Action      string         `bun:"action,notnull"`
	Title       string         `bun:"title,notnull"`
	Summary     string         `bun:"summary,notnull"`
	Labels      []string       `bun:"labels,type:jsonb,notnull"`
	Links       []string       `bun:"links,type:jsonb,notnull"`
	KPIs        map[string]any `bun:"kpis,type:jsonb,notnull"`
	Author      string         `bun:"author,notnull"`
	Source      string         `bun:"source,notnull"`
	Repo        string         `bun:"repo,notnull"`
	IssueRef    *string        `bun:"issue_ref"`
	PRRef       *string        `bun:"pr_ref"`
	DeliveryID  string         `bun:"delivery_id,notnull"`
	Hash        string         `bun:"hash,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type lotStateRecord struct {
	bun.BaseModel `bun:"table:guard_lots_state,alias:gls"`

	ID          string         `bun:"id,pk"`
	LotKey      string         `bun:"lot_key,notnull"`
	Status      string         `bun:"status,notnull"`
	KPIs        map[string]any `bun:"kpis,type:jsonb,notnull"`
	LastEventID string         `bun:"last_event_id,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type actionQueueRecord struct {
	bun.BaseModel `bun:"table:guard_action_queue,alias:gaq"`

	ID        string         `bun:"id,pk"`
	Kind      string         `bun:"kind,notnull"`
	Payload   map[string]any `bun:"payload,type:jsonb,notnull"`
	Status    string         `bun:"status,notnull"`
	Attempts  int            `bun:"attempts,notnull"`
	DedupeKey string         `bun:"dedupe_key,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
