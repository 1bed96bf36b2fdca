package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db        *bun.DB
	replayTTL time.Duration

	replayLedgerStore *ReplayLedgerStore
	agentEventStore   *AgentEventStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// WithReplayTTL sets the default ttl of the replay ledger built by
// BuildStores.
func (f *RepositoryFactory) WithReplayTTL(ttl time.Duration) *RepositoryFactory {
	if f != nil {
		f.replayTTL = ttl
	}
	return f
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.replayLedgerStore != nil && f.agentEventStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ReplayLedgerStore() *ReplayLedgerStore {
	if f == nil {
		return nil
	}
	return f.replayLedgerStore
}

func (f *RepositoryFactory) AgentEventStore() *AgentEventStore {
	if f == nil {
		return nil
	}
	return f.agentEventStore
}

func (f *RepositoryFactory) initStores() error {
	replayLedgerStore, err := NewReplayLedgerStore(f.db, f.replayTTL)
	if err != nil {
		return err
	}
	f.replayLedgerStore = replayLedgerStore

	agentEventStore, err := NewAgentEventStore(f.db)
	if err != nil {
		return err
	}
	f.agentEventStore = agentEventStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
