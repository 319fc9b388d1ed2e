package app

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopShutCond   StopReason = "shut_cond"
	StopFatalError StopReason = "fatal_error"
	StopRestart    StopReason = "restart"
	StopAppStop    StopReason = "app_stop"
)

// ReasonFor classifies the error returned by Run.
func ReasonFor(runErr error, signaled bool) StopReason {
	switch {
	case signaled:
		return StopSignal
	case isRestart(runErr):
		return StopRestart
	case runErr != nil:
		return StopFatalError
	default:
		return StopShutCond
	}
}
