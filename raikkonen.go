// Package raikkonen embeds deterministic thread-scheduling fault
// injection into a host process: register the states your goroutines
// pass through, call EnterState at each one, and start the scheduler
// listener so a controller process can drive execution with a
// bytecode schedule.
package raikkonen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/raikkonen/internal/bytecode"
	"github.com/ehrlich-b/raikkonen/internal/rkconfig"
	"github.com/ehrlich-b/raikkonen/internal/rklog"
	"github.com/ehrlich-b/raikkonen/internal/rksync"
	"github.com/ehrlich-b/raikkonen/internal/scheduler"
)

// Callback is a registered handler a CALLBACK action dispatches to,
// looked up by the index RegisterCallback returned.
type Callback = rkconfig.Callback

var (
	globalMetrics = NewMetrics()

	schedOnce sync.Once
	sched     *scheduler.Scheduler
)

func getScheduler() *scheduler.Scheduler {
	schedOnce.Do(func() {
		sched = scheduler.New(rkconfig.Get(), rksync.NewSemaphore(0))
		sched.SetObserver(NewMetricsObserver(globalMetrics))
	})
	return sched
}

// enterState implements the six-step dispatch algorithm: resolve the
// state, check a handler list is active, claim the next ordinal, apply
// the cap, find the matching handler and dispatch by its action, then
// return the claimed ordinal. It backs the exported EnterState in
// enabled.go.
func enterState(stateID uint32) (uint32, error) {
	cfg := rkconfig.Get()

	if stateID >= cfg.NumStates() {
		return 0, WrapError("enter_state", ErrUnknownState)
	}
	st := cfg.State(stateID)

	if !st.HasActiveHandlers() {
		return 0, NewStateError("enter_state", st.Name, ErrRuntime, ErrNoHandler)
	}

	td := st.NextOrdinal()

	capThread := st.CapThread()
	if capThread != rkconfig.DormantCap {
		threshold := capThread - 1
		if td >= threshold {
			st.SetCapThread(rkconfig.DormantCap)
			st.Waitstate.Post()
		}
	}

	handler := cfg.FindHandler(stateID, td)
	if handler == nil {
		globalMetrics.RecordNoHandlerError()
		return td, NewStateError("enter_state", st.Name, ErrRuntime, ErrNoHandler)
	}

	dispatch(stateID, st, handler)

	return td, nil
}

func dispatch(stateID uint32, st *rkconfig.StateRuntime, h *bytecode.Handler) {
	globalMetrics.RecordDispatch(h.Action.String())

	switch h.Action {
	case bytecode.ActionCallback:
		cb, ok := rkconfig.Get().Callback(h.CallbackID)
		if !ok {
			rklog.Default().WithState(st.Name, st.ID).Warn("enter_state: unknown callback id", "callback_id", h.CallbackID)
			return
		}
		cb(stateID, nil)

	case bytecode.ActionContinue:
		// fall through immediately

	case bytecode.ActionPanic:
		panic(fmt.Sprintf("raikkonen: PANIC handler fired for state %q", st.Name))

	case bytecode.ActionSleep:
		time.Sleep(h.Sleep.AsDuration())

	case bytecode.ActionWait:
		if h.Sema != nil {
			_ = h.Sema.Wait(context.Background())
		}
	}
}
