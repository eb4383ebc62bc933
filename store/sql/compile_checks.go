package sqlstore

import "github.com/goliatone/go-transactions/core"

var (
	_ core.TransactionStore         = (*TransactionStore)(nil)
	_ core.DispatchStore            = (*DispatchStore)(nil)
	_ core.ProcessDefinitionStore   = (*ProcessDefinitionStore)(nil)
	_ core.ProcessDefinitionStore   = (*CachedProcessDefinitionStore)(nil)
	_ core.GatewaySettingsStore     = (*GatewaySettingsStore)(nil)
	_ core.GatewaySettingsStore     = (*CachedGatewaySettingsStore)(nil)
	_ core.FeedbackEligibilityStore = (*FeedbackEligibilityStore)(nil)
	_ core.ErasureStore             = (*ErasureStore)(nil)
	_ core.ErasureUnit              = erasureUnit{}
	_ core.StoreProvider            = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory   = (*RepositoryFactory)(nil)
)
