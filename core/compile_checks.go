package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ TransactionService   = (*Service)(nil)
	_ TransitionDispatcher = (*Dispatcher)(nil)
	_ JobScheduler         = (*JobRunner)(nil)
	_ DispatchExecutor     = (*Dispatcher)(nil)
	_ SideEffectExecutor   = NotificationExecutor{}
	_ SideEffectExecutor   = FeedbackExecutor{}
	_ AlertSink            = LogAlertSink{}
	_ AlertSink            = MultiAlertSink(nil)

	_ PaymentDetailsChecker = NoPaymentDetails{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
