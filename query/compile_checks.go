package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transactions/core"
)

var (
	_ gocmd.Querier[GetTransactionMessage, core.Transaction]              = (*GetTransactionQuery)(nil)
	_ gocmd.Querier[TransitionHistoryMessage, []core.TransitionRecord]    = (*TransitionHistoryQuery)(nil)
	_ gocmd.Querier[ListDispatchesMessage, []core.DispatchRecord]         = (*ListDispatchesQuery)(nil)
	_ gocmd.Querier[FeedbackEligibilityMessage, core.FeedbackEligibility] = (*FeedbackEligibilityQuery)(nil)

	_ TransactionReader = (*core.Service)(nil)
	_ DispatchReader    = (*core.Service)(nil)
	_ FeedbackReader    = (*core.Service)(nil)
)
