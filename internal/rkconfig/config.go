// Package rkconfig is the process-wide configuration singleton: the
// registered states, the callback table, and (once the controller has
// negotiated) the parsed schedule the scheduler executes against.
package rkconfig

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/raikkonen/internal/bytecode"
	"github.com/ehrlich-b/raikkonen/internal/rkarray"
	"github.com/ehrlich-b/raikkonen/internal/rksync"
)

// DormantCap is the cap_thread sentinel meaning "no handler list
// currently active for this state."
const DormantCap = math.MaxUint32

// Callback is a registered handler a CALLBACK action dispatches to,
// looked up by its index in the callback table.
type Callback func(stateID uint32, arg any)

// activeHandlerRef points at the handler list a state currently
// dispatches against: an (epoch, command) pair into the schedule,
// resolved at lookup time rather than held as a raw slice pointer, so
// nothing breaks if the schedule representation itself ever changes
// shape under us.
type activeHandlerRef struct {
	epochIx   int
	commandIx int
}

// StateRuntime is the live, mutable half of a registered state: the
// ordinal counters and the waitstate semaphore the scheduler and
// application goroutines synchronize on.
type StateRuntime struct {
	Name string
	ID   uint32

	curThread uint32 // atomic; next ordinal to hand out
	capThread uint32 // atomic; DormantCap when no handler list is active

	Waitstate *rksync.Semaphore

	mu     sync.Mutex // guards active, written only by the scheduler while dormant
	active *activeHandlerRef
}

func newStateRuntime(id uint32, name string) *StateRuntime {
	s := &StateRuntime{
		Name:      name,
		ID:        id,
		Waitstate: rksync.NewSemaphore(0),
	}
	atomic.StoreUint32(&s.capThread, DormantCap)
	return s
}

// CapThread returns the current cap, DormantCap meaning no active handler list.
func (s *StateRuntime) CapThread() uint32 { return atomic.LoadUint32(&s.capThread) }

// SetCapThread stores a new cap atomically (DormantCap to retire it).
func (s *StateRuntime) SetCapThread(v uint32) { atomic.StoreUint32(&s.capThread, v) }

// NextOrdinal fetch-and-adds the thread counter, returning the prior value.
func (s *StateRuntime) NextOrdinal() uint32 { return atomic.AddUint32(&s.curThread, 1) - 1 }

// ResetOrdinal sets cur_thread back to 1, the value INSTALL_HANDLER
// assigns so the next entrant gets ordinal 1 (ordinal 0 is reserved).
func (s *StateRuntime) ResetOrdinal() { atomic.StoreUint32(&s.curThread, 1) }

func (s *StateRuntime) setActive(ref *activeHandlerRef) {
	s.mu.Lock()
	s.active = ref
	s.mu.Unlock()
}

func (s *StateRuntime) getActive() *activeHandlerRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// HasActiveHandlers reports whether a handler list is currently installed
// for this state (step 2 of EnterState's algorithm).
func (s *StateRuntime) HasActiveHandlers() bool {
	return s.getActive() != nil
}

// Config is the process-wide singleton. States and callbacks are
// registered single-threadedly before Start; the schedule is installed
// exactly once by the scheduler after protocol negotiation; after that
// point everything here is read-only except the atomic fields and
// waitstate semaphores owned by each StateRuntime.
type Config struct {
	mu        sync.Mutex
	states    *rkarray.Array[*StateRuntime]
	byName    map[string]uint32
	callbacks *rkarray.Array[Callback]

	Addr string

	schedule *bytecode.Schedule
}

var (
	once sync.Once
	cfg  *Config
)

func newConfig() *Config {
	return &Config{
		states:    rkarray.New[*StateRuntime](),
		byName:    make(map[string]uint32),
		callbacks: rkarray.New[Callback](),
	}
}

// Get returns the lazily-initialized process-wide Config.
func Get() *Config {
	once.Do(func() {
		cfg = newConfig()
	})
	return cfg
}

// RegisterState assigns the next dense state id to name and returns it.
func (c *Config) RegisterState(name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uint32(c.states.Len())
	*c.states.Append() = newStateRuntime(id, name)
	c.byName[name] = id
	return id
}

// NumStates returns the count of registered states.
func (c *Config) NumStates() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.states.Len())
}

// State returns the runtime for a registered state id, or nil if out of range.
func (c *Config) State(id uint32) *StateRuntime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id >= uint32(c.states.Len()) {
		return nil
	}
	return *c.states.At(int(id))
}

// RegisterCallback appends fn to the ordered callback table and returns its index.
func (c *Config) RegisterCallback(fn Callback) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uint32(c.callbacks.Len())
	*c.callbacks.Append() = fn
	return id
}

// Callback looks up a registered callback by index.
func (c *Config) Callback(id uint32) (Callback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id >= uint32(c.callbacks.Len()) {
		return nil, false
	}
	return *c.callbacks.At(int(id)), true
}

// SetSchedule installs the fully parsed schedule. Called exactly once,
// by the scheduler, after the protocol negotiator has validated and
// parsed the incoming bytecode.
func (c *Config) SetSchedule(s *bytecode.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedule = s
}

// Schedule returns the installed schedule, or nil before negotiation completes.
func (c *Config) Schedule() *bytecode.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schedule
}

// InstallHandlers mirrors fi's INSTALL_HANDLER execution: point state's
// active handler list at this (epochIx, commandIx) pair, reset its
// ordinal counter to 1, and set its cap.
func (c *Config) InstallHandlers(stateID uint32, epochIx, commandIx int, trMax uint32) {
	st := c.State(stateID)
	if st == nil {
		return
	}
	st.ResetOrdinal()
	st.SetCapThread(trMax)
	st.setActive(&activeHandlerRef{epochIx: epochIx, commandIx: commandIx})
}

// FindHandler resolves the handler a state's active handler list points
// at, given a fresh thread ordinal. It returns nil if no range matches
// or the state has no active handler list.
func (c *Config) FindHandler(stateID, ordinal uint32) *bytecode.Handler {
	st := c.State(stateID)
	if st == nil {
		return nil
	}
	ref := st.getActive()
	if ref == nil {
		return nil
	}
	sched := c.Schedule()
	if sched == nil || ref.epochIx >= len(sched.Epochs) {
		return nil
	}
	cmds := sched.Epochs[ref.epochIx].Commands
	if ref.commandIx >= len(cmds) || cmds[ref.commandIx].Kind != bytecode.CommandInstallHandler {
		return nil
	}
	handlers := cmds[ref.commandIx].InstallHandler.Handlers
	for i := range handlers {
		h := &handlers[i]
		if ordinal >= h.TRStart && ordinal <= h.TREnd {
			return h
		}
	}
	return nil
}

// FindHandlerByRange mirrors rk_config_find_handler: scan every epoch up
// to and including uptoEpoch for an INSTALL_HANDLER on stateID with an
// exactly-matching [trStart, trEnd] range.
func (c *Config) FindHandlerByRange(uptoEpoch, stateID, trStart, trEnd uint32) *bytecode.Handler {
	sched := c.Schedule()
	if sched == nil {
		return nil
	}
	for i := 0; i < len(sched.Epochs) && sched.Epochs[i].ID <= uptoEpoch; i++ {
		for j := range sched.Epochs[i].Commands {
			cmd := &sched.Epochs[i].Commands[j]
			if cmd.Kind != bytecode.CommandInstallHandler || cmd.InstallHandler.StateID != stateID {
				continue
			}
			for k := range cmd.InstallHandler.Handlers {
				h := &cmd.InstallHandler.Handlers[k]
				if h.TRStart == trStart && h.TREnd == trEnd {
					return h
				}
			}
		}
	}
	return nil
}

// ParticipatingStates returns the distinct state ids referenced by any
// INSTALL_HANDLER in epochs 0..uptoEpoch, the set WAITSTATE iterates.
func (c *Config) ParticipatingStates(uptoEpoch uint32) []uint32 {
	sched := c.Schedule()
	if sched == nil {
		return nil
	}
	seen := make(map[uint32]bool)
	var ids []uint32
	for i := 0; i < len(sched.Epochs) && sched.Epochs[i].ID <= uptoEpoch; i++ {
		for j := range sched.Epochs[i].Commands {
			cmd := &sched.Epochs[i].Commands[j]
			if cmd.Kind != bytecode.CommandInstallHandler {
				continue
			}
			id := cmd.InstallHandler.StateID
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// reset clears the singleton; it exists only so tests can start each
// case from a clean Config instead of carrying state across t.Run calls.
func reset() {
	cfg = newConfig()
}

// ResetForTest clears the process-wide singleton and returns the fresh
// Config. It exists so tests in other packages (scheduler, raikkonen,
// test/unit, test/integration) can
// start each case without state leaking in from Get's sync.Once.
func ResetForTest() *Config {
	reset()
	return Get()
}
