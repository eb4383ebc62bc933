package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func transactionHandlers() repository.ModelHandlers[*transactionRecord] {
	return recordHandlers("id", func() *transactionRecord {
		return &transactionRecord{}
	}, func(record *transactionRecord) *string {
		return &record.ID
	})
}

func transitionHandlers() repository.ModelHandlers[*transitionRecord] {
	return recordHandlers("id", func() *transitionRecord {
		return &transitionRecord{}
	}, func(record *transitionRecord) *string {
		return &record.ID
	})
}

func dispatchHandlers() repository.ModelHandlers[*dispatchRecord] {
	return recordHandlers("id", func() *dispatchRecord {
		return &dispatchRecord{}
	}, func(record *dispatchRecord) *string {
		return &record.ID
	})
}

func processDefinitionHandlers() repository.ModelHandlers[*processDefinitionRecord] {
	return recordHandlers("id", func() *processDefinitionRecord {
		return &processDefinitionRecord{}
	}, func(record *processDefinitionRecord) *string {
		return &record.ID
	})
}

func gatewaySettingsHandlers() repository.ModelHandlers[*gatewaySettingsRecord] {
	return recordHandlers("id", func() *gatewaySettingsRecord {
		return &gatewaySettingsRecord{}
	}, func(record *gatewaySettingsRecord) *string {
		return &record.ID
	})
}

func feedbackEligibilityHandlers() repository.ModelHandlers[*feedbackEligibilityRecord] {
	return recordHandlers("transaction_id", func() *feedbackEligibilityRecord {
		return &feedbackEligibilityRecord{}
	}, func(record *feedbackEligibilityRecord) *string {
		return &record.TransactionID
	})
}

// recordHandlers binds a model whose identifier is a string column. SetID
// never replaces an identifier the caller already assigned.
func recordHandlers[T any](
	column string,
	newRecord func() *T,
	identifier func(*T) *string,
) repository.ModelHandlers[*T] {
	return repository.ModelHandlers[*T]{
		NewRecord: newRecord,
		GetID: func(record *T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(*identifier(record))
		},
		SetID: func(record *T, id uuid.UUID) {
			if record == nil {
				return
			}
			target := identifier(record)
			if strings.TrimSpace(*target) != "" {
				return
			}
			*target = id.String()
		},
		GetIdentifier: func() string {
			return column
		},
		GetIdentifierValue: func(record *T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*identifier(record))
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
