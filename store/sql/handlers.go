package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func replayDeliveryHandlers() repository.ModelHandlers[*replayDeliveryRecord] {
	return repository.ModelHandlers[*replayDeliveryRecord]{
		NewRecord: func() *replayDeliveryRecord {
			return &replayDeliveryRecord{}
		},
		GetID: func(record *replayDeliveryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *replayDeliveryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "replay_key"
		},
		GetIdentifierValue: func(record *replayDeliveryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ReplayKey)
		},
	}
}

func agentEventHandlers() repository.ModelHandlers[*agentEventRecord] {
	return repository.ModelHandlers[*agentEventRecord]{
		NewRecord: func() *agentEventRecord {
			return &agentEventRecord{}
		},
		GetID: func(record *agentEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *agentEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "hash"
		},
		GetIdentifierValue: func(record *agentEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.Hash)
		},
	}
}

func actionQueueHandlers() repository.ModelHandlers[*actionQueueRecord] {
	return repository.ModelHandlers[*actionQueueRecord]{
		NewRecord: func() *actionQueueRecord {
			return &actionQueueRecord{}
		},
		GetID: func(record *actionQueueRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *actionQueueRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "dedupe_key"
		},
		GetIdentifierValue: func(record *actionQueueRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.DedupeKey)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
