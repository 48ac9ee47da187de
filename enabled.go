//go:build !raikkonen_disabled

package raikkonen

import (
	"context"

	"github.com/ehrlich-b/raikkonen/internal/rkconfig"
)

// RegisterState assigns name the next dense state id and returns it.
// Call this for every instrumentation point before Start.
func RegisterState(name string) uint32 {
	return rkconfig.Get().RegisterState(name)
}

// RegisterCallback adds fn to the callback table a CALLBACK handler
// action can dispatch to, and returns its id for use in test schedules.
func RegisterCallback(fn Callback) uint32 {
	return rkconfig.Get().RegisterCallback(fn)
}

// Start begins listening on addr for a single controller connection
// and blocks until the scheduler has finished installing the first
// epoch's handlers (or failed trying to).
func Start(addr string) error {
	rkconfig.Get().Addr = addr
	s := getScheduler()
	s.Start(addr)
	return s.WaitReady(context.Background())
}

// EnterState is the synchronization point application goroutines call
// at every instrumented location.
func EnterState(stateID uint32) (uint32, error) {
	return enterState(stateID)
}
