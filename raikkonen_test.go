package raikkonen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/raikkonen/internal/bytecode"
	"github.com/ehrlich-b/raikkonen/internal/rkconfig"
	"github.com/ehrlich-b/raikkonen/internal/rksync"
)

func TestEnterStateRejectsUnknownID(t *testing.T) {
	rkconfig.ResetForTest()

	_, err := EnterState(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestEnterStateRejectsNoActiveHandlers(t *testing.T) {
	cfg := rkconfig.ResetForTest()
	id := cfg.RegisterState("writer")

	_, err := EnterState(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestEnterStateOrdinalsAreSequential(t *testing.T) {
	cfg := rkconfig.ResetForTest()
	id := cfg.RegisterState("writer")
	cfg.SetSchedule(&bytecode.Schedule{Epochs: []bytecode.Epoch{{
		ID: 0,
		Commands: []bytecode.Command{{
			Kind: bytecode.CommandInstallHandler,
			InstallHandler: &bytecode.InstallHandlerCmd{
				StateID: id,
				TRMax:   1000,
				Handlers: []bytecode.Handler{
					{TRStart: 1, TREnd: 1000, Action: bytecode.ActionContinue},
				},
			},
		}},
	}}})
	cfg.InstallHandlers(id, 0, 0, 1000)

	ord1, err := EnterState(id)
	require.NoError(t, err)
	ord2, err := EnterState(id)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), ord1)
	assert.Equal(t, uint32(2), ord2)
}

func TestEnterStateCapReachedPostsWaitstate(t *testing.T) {
	cfg := rkconfig.ResetForTest()
	id := cfg.RegisterState("writer")
	cfg.SetSchedule(&bytecode.Schedule{Epochs: []bytecode.Epoch{{
		ID: 0,
		Commands: []bytecode.Command{{
			Kind: bytecode.CommandInstallHandler,
			InstallHandler: &bytecode.InstallHandlerCmd{
				StateID: id,
				TRMax:   2,
				Handlers: []bytecode.Handler{
					{TRStart: 1, TREnd: 2, Action: bytecode.ActionContinue},
				},
			},
		}},
	}}})
	cfg.InstallHandlers(id, 0, 0, 2)

	st := cfg.State(id)

	ord1, err := EnterState(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), ord1)
	assert.Equal(t, rkconfig.DormantCap, st.CapThread(), "first entrant (td=1) meets cap-1=1, so cap retires immediately")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, st.Waitstate.Wait(ctx))
}

func TestEnterStateCallbackDispatch(t *testing.T) {
	cfg := rkconfig.ResetForTest()
	id := cfg.RegisterState("writer")

	var gotState uint32
	var called bool
	cbID := RegisterCallback(func(stateID uint32, arg any) {
		called = true
		gotState = stateID
	})

	cfg.SetSchedule(&bytecode.Schedule{Epochs: []bytecode.Epoch{{
		ID: 0,
		Commands: []bytecode.Command{{
			Kind: bytecode.CommandInstallHandler,
			InstallHandler: &bytecode.InstallHandlerCmd{
				StateID: id,
				TRMax:   1000,
				Handlers: []bytecode.Handler{
					{TRStart: 1, TREnd: 1000, Action: bytecode.ActionCallback, CallbackID: cbID},
				},
			},
		}},
	}}})
	cfg.InstallHandlers(id, 0, 0, 1000)

	_, err := EnterState(id)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, id, gotState)
}

func TestEnterStatePanicDispatch(t *testing.T) {
	cfg := rkconfig.ResetForTest()
	id := cfg.RegisterState("writer")
	cfg.SetSchedule(&bytecode.Schedule{Epochs: []bytecode.Epoch{{
		ID: 0,
		Commands: []bytecode.Command{{
			Kind: bytecode.CommandInstallHandler,
			InstallHandler: &bytecode.InstallHandlerCmd{
				StateID: id,
				TRMax:   1000,
				Handlers: []bytecode.Handler{
					{TRStart: 1, TREnd: 1000, Action: bytecode.ActionPanic},
				},
			},
		}},
	}}})
	cfg.InstallHandlers(id, 0, 0, 1000)

	assert.Panics(t, func() {
		_, _ = EnterState(id)
	})
}

func TestEnterStateWaitDispatchBlocksUntilResume(t *testing.T) {
	cfg := rkconfig.ResetForTest()
	id := cfg.RegisterState("writer")

	sema := rksync.NewSemaphore(0)
	cfg.SetSchedule(&bytecode.Schedule{Epochs: []bytecode.Epoch{{
		ID: 0,
		Commands: []bytecode.Command{{
			Kind: bytecode.CommandInstallHandler,
			InstallHandler: &bytecode.InstallHandlerCmd{
				StateID: id,
				TRMax:   1000,
				Handlers: []bytecode.Handler{
					{TRStart: 1, TREnd: 1000, Action: bytecode.ActionWait, Sema: sema},
				},
			},
		}},
	}}})
	cfg.InstallHandlers(id, 0, 0, 1000)

	done := make(chan struct{})
	go func() {
		_, _ = EnterState(id)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("EnterState returned before Sema was posted")
	default:
	}

	sema.Post()
	<-done
}
