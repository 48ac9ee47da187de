package bytecode

import (
	"fmt"

	"github.com/ehrlich-b/raikkonen/internal/rksync"
)

// parseState is the outer FSM: a timeslice body alternates between
// checking for TIMESLICE_END and parsing one command (a WHEN block
// counts as one command).
type parseState int

const (
	parseTimeslice parseState = iota
	parseCommand
)

// whenState is the inner FSM active only inside a WHEN block: it reads
// one ordinal range, then the handler body for that range, then loops
// back for the next range or WHEN_END.
type whenState int

const (
	parseWhenRange whenState = iota
	parseWhenBody
)

type parser struct {
	r            reader
	numStates    uint32
	installed    []Epoch // epochs parsed so far, for handler lookups
	lastWaitSeen bool
	lastWaitEpoch uint32
}

// Parse decodes a raw schedule buffer. numStates bounds the state ids a
// command may reference; states are registered with the configuration
// store before the schedule arrives, so the parser validates against a
// plain count rather than reaching into shared state.
func Parse(data []byte, numStates uint32) (*Schedule, error) {
	p := &parser{r: reader{buf: data}, numStates: numStates}
	var sched Schedule

	for p.r.remaining() > 0 {
		epoch, err := p.parseTimeslice()
		if err != nil {
			return nil, err
		}
		sched.Epochs = append(sched.Epochs, *epoch)
		p.installed = append(p.installed, *epoch)
	}

	return &sched, nil
}

func (p *parser) expectTag(tag []byte, name string) error {
	if p.r.remaining() < len(tag) {
		return ErrTruncated
	}
	if !p.r.peekTag(tag) {
		return fmt.Errorf("%w: expected %s", ErrUnknownTag, name)
	}
	return p.r.skip(len(tag))
}

func (p *parser) parseTimeslice() (*Epoch, error) {
	if err := p.expectTag(tagTimesliceBegin, "TIMESLICE_BEGIN"); err != nil {
		return nil, err
	}

	id, err := p.r.readUint32()
	if err != nil {
		return nil, err
	}
	if len(p.installed) > 0 {
		want := p.installed[len(p.installed)-1].ID + 1
		if id != want {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrEpochOrder, id, want)
		}
	} else if id != 0 {
		return nil, fmt.Errorf("%w: first timeslice id %d, want 0", ErrEpochOrder, id)
	}

	notifyByte, err := p.r.readUint8()
	if err != nil {
		return nil, err
	}
	var notify bool
	switch notifyByte {
	case 0:
		notify = false
	case 1:
		notify = true
	default:
		return nil, ErrBadNotify
	}

	epoch := &Epoch{ID: id, Notify: notify}

	state := parseTimeslice
	for {
		switch state {
		case parseTimeslice:
			if p.r.peekTag(tagTimesliceEnd) {
				_ = p.r.skip(len(tagTimesliceEnd))
				return epoch, nil
			}
			state = parseCommand
		case parseCommand:
			cmd, err := p.parseCommand(epoch)
			if err != nil {
				return nil, err
			}
			epoch.Commands = append(epoch.Commands, *cmd)
			state = parseTimeslice
		}
	}
}

func (p *parser) parseCommand(epoch *Epoch) (*Command, error) {
	switch {
	case p.r.peekTag(tagWhen):
		return p.parseWhen(epoch)
	case p.r.peekTag(tagResume):
		_ = p.r.skip(len(tagResume))
		return p.parseResume(epoch, epoch.Commands)
	case p.r.peekTag(tagTimeout):
		_ = p.r.skip(len(tagTimeout))
		return p.parseTimeout()
	case p.r.peekTag(tagWaitstate):
		_ = p.r.skip(len(tagWaitstate))
		p.lastWaitSeen = true
		p.lastWaitEpoch = epoch.ID
		return &Command{Kind: CommandWaitstate, Waitstate: &WaitstateCmd{}}, nil
	default:
		return nil, fmt.Errorf("%w: at command position", ErrUnknownTag)
	}
}

// parseWhen consumes a WHEN ... WHEN_END block, which installs a fresh
// handler list for one state. The inner FSM alternates range headers
// with handler bodies until WHEN_END.
func (p *parser) parseWhen(epoch *Epoch) (*Command, error) {
	_ = p.r.skip(len(tagWhen))

	stateID, err := p.r.readUint32()
	if err != nil {
		return nil, err
	}
	if stateID >= p.numStates {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, stateID)
	}
	if err := p.r.skip(1); err != nil { // NUL byte trailing the state id
		return nil, err
	}

	cmd := &InstallHandlerCmd{StateID: stateID}

	state := parseWhenRange
	var cur Handler
	for {
		switch state {
		case parseWhenRange:
			if p.r.peekTag(tagWhenEnd) {
				_ = p.r.skip(len(tagWhenEnd))
				trMax, ok := deriveTRMax(cmd.Handlers)
				if !ok {
					return nil, ErrNoCapHandler
				}
				cmd.TRMax = trMax
				return &Command{Kind: CommandInstallHandler, InstallHandler: cmd}, nil
			}
			trStart, err := p.r.readUint32()
			if err != nil {
				return nil, err
			}
			trEnd, err := p.r.readUint32()
			if err != nil {
				return nil, err
			}
			cur = Handler{Epoch: epoch.ID, TRStart: trStart, TREnd: trEnd}
			state = parseWhenBody
		case parseWhenBody:
			h, err := p.parseHandlerBody(cur)
			if err != nil {
				return nil, err
			}
			cmd.Handlers = append(cmd.Handlers, h)
			state = parseWhenRange
		}
	}
}

// deriveTRMax mirrors the original: the handler whose tr_end is the
// sentinel 0xFFFFFFFF sets tr_max to its own tr_start. Per spec.md §9's
// resolution of the open question, a WHEN block with no such handler is
// rejected outright rather than silently left at tr_max=0 (which would
// make the state-entry fast path post waitstate immediately).
func deriveTRMax(handlers []Handler) (uint32, bool) {
	for _, h := range handlers {
		if h.TREnd == sentinelEnd {
			return h.TRStart, true
		}
	}
	return 0, false
}

func (p *parser) parseHandlerBody(h Handler) (Handler, error) {
	switch {
	case p.r.peekTag(actionCallback):
		_ = p.r.skip(len(actionCallback))
		id, err := p.r.readUint32()
		if err != nil {
			return Handler{}, err
		}
		h.Action = ActionCallback
		h.CallbackID = id
		return h, nil
	case p.r.peekTag(actionContinue):
		_ = p.r.skip(len(actionContinue))
		h.Action = ActionContinue
		return h, nil
	case p.r.peekTag(actionPanic):
		_ = p.r.skip(len(actionPanic))
		h.Action = ActionPanic
		return h, nil
	case p.r.peekTag(actionSleep):
		_ = p.r.skip(len(actionSleep))
		raw, err := p.parseRawDuration()
		if err != nil {
			return Handler{}, err
		}
		h.Action = ActionSleep
		h.Sleep = raw
		return h, nil
	case p.r.peekTag(actionWait):
		_ = p.r.skip(len(actionWait))
		h.Action = ActionWait
		h.Sema = rksync.NewSemaphore(0)
		return h, nil
	default:
		return Handler{}, fmt.Errorf("%w: at handler body", ErrUnknownTag)
	}
}

func (p *parser) parseRawDuration() (RawDuration, error) {
	unit, err := p.r.readUint8()
	if err != nil {
		return RawDuration{}, err
	}
	value, err := p.r.readUint32()
	if err != nil {
		return RawDuration{}, err
	}
	if _, err := Decode(unit, value); err != nil {
		return RawDuration{}, err
	}
	return RawDuration{Unit: unit, Value: value}, nil
}

func (p *parser) parseTimeout() (*Command, error) {
	raw, err := p.parseRawDuration()
	if err != nil {
		return nil, err
	}
	return &Command{Kind: CommandTimeout, Timeout: &TimeoutCmd{Duration: raw}}, nil
}

func (p *parser) parseResume(epoch *Epoch, soFarThisEpoch []Command) (*Command, error) {
	stateID, err := p.r.readUint32()
	if err != nil {
		return nil, err
	}
	trStart, err := p.r.readUint32()
	if err != nil {
		return nil, err
	}
	trEnd, err := p.r.readUint32()
	if err != nil {
		return nil, err
	}
	if stateID >= p.numStates {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, stateID)
	}

	handler := p.findHandler(stateID, trStart, trEnd, soFarThisEpoch)
	if handler == nil {
		return nil, fmt.Errorf("%w: state %d [%d,%d]", ErrNoSuchHandler, stateID, trStart, trEnd)
	}
	if handler.Action != ActionWait {
		return nil, fmt.Errorf("%w: state %d [%d,%d]", ErrNotWaitHandler, stateID, trStart, trEnd)
	}
	if !p.lastWaitSeen || p.lastWaitEpoch < handler.Epoch {
		return nil, fmt.Errorf("%w: handler installed epoch %d", ErrResumeBeforeWaitstate, handler.Epoch)
	}

	return &Command{Kind: CommandResume, Resume: &ResumeCmd{StateID: stateID, TRStart: trStart, TREnd: trEnd}}, nil
}

// findHandler scans every epoch fully parsed so far plus whatever
// commands have already been parsed within the current timeslice, most
// recent first, so a RESUME picks up the latest INSTALL_HANDLER for a
// range even if it was reinstalled more than once.
func (p *parser) findHandler(stateID, trStart, trEnd uint32, soFarThisEpoch []Command) *Handler {
	if h := searchCommands(soFarThisEpoch, stateID, trStart, trEnd); h != nil {
		return h
	}
	for i := len(p.installed) - 1; i >= 0; i-- {
		if h := searchCommands(p.installed[i].Commands, stateID, trStart, trEnd); h != nil {
			return h
		}
	}
	return nil
}

func searchCommands(cmds []Command, stateID, trStart, trEnd uint32) *Handler {
	for i := len(cmds) - 1; i >= 0; i-- {
		cmd := cmds[i]
		if cmd.Kind != CommandInstallHandler || cmd.InstallHandler.StateID != stateID {
			continue
		}
		for j := range cmd.InstallHandler.Handlers {
			h := &cmd.InstallHandler.Handlers[j]
			if h.TRStart == trStart && h.TREnd == trEnd {
				return h
			}
		}
	}
	return nil
}
