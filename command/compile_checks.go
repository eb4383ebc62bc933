package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transactions/core"
)

var (
	_ gocmd.Commander[InitiateMessage]                 = (*InitiateCommand)(nil)
	_ gocmd.Commander[TransitionMessage]               = (*TransitionCommand)(nil)
	_ gocmd.Commander[RedispatchMessage]               = (*RedispatchCommand)(nil)
	_ gocmd.Commander[CancelDispatchMessage]           = (*CancelDispatchCommand)(nil)
	_ gocmd.Commander[EraseParticipantMessage]         = (*EraseParticipantCommand)(nil)
	_ gocmd.Commander[PublishProcessMessage]           = (*PublishProcessCommand)(nil)
	_ gocmd.Commander[ProvisionGatewaySettingsMessage] = (*ProvisionGatewaySettingsCommand)(nil)

	_ MutatingService       = (*core.Service)(nil)
	_ AdministrationService = (*core.Service)(nil)
)
