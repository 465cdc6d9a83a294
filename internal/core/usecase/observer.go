package usecase

import "time"

// Observer receives pipeline measurements. Implementations must be cheap and
// safe to call from the drain loop.
type Observer interface {
	StartMessage()
	FinishMessage(disposition string, duration time.Duration)
	SetQueueDepth(depth int)
	ObserveLLMCall(result string)
	ObserveCredentialRotation()
	ObserveDispatch(result string)
	ObserveEscalation(priority string)
	ObserveWatcherState(state string)
	ObserveReconnect()
}

type nopObserver struct{}

func (nopObserver) StartMessage()                       {}
func (nopObserver) FinishMessage(string, time.Duration) {}
func (nopObserver) SetQueueDepth(int)                   {}
func (nopObserver) ObserveLLMCall(string)               {}
func (nopObserver) ObserveCredentialRotation()          {}
func (nopObserver) ObserveDispatch(string)              {}
func (nopObserver) ObserveEscalation(string)            {}
func (nopObserver) ObserveWatcherState(string)          {}
func (nopObserver) ObserveReconnect()                   {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
