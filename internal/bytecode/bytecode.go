// Package bytecode decodes and re-encodes the binary schedule format a
// controller sends after the "ota se" handshake. The wire format is
// big-endian and tag-prefixed: a sequence of timeslices (epochs), each
// containing INSTALL_HANDLER / RESUME / TIMEOUT / WAITSTATE commands.
//
// Marshaling here is hand-rolled byte slicing rather than reflection or
// a generic codec, the same way the rest of this family of wire formats
// gets marshaled: explicit, one field at a time, because the tag-prefixed
// shape doesn't map cleanly onto a fixed-layout struct the way a kernel
// ABI struct does.
package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/raikkonen/internal/rksync"
)

// Wire tags. Each is 4 bytes except the action tags, which are 2.
var (
	tagTimesliceBegin = []byte{0x76, 0x04, 0x6c, 0x00}
	tagTimesliceEnd   = []byte{0xde, 0xad, 0x76, 0x00}
	tagWhen           = []byte{0x6a, 0x6f, 0x73, 0x00}
	tagWhenEnd        = []byte{0xde, 0xad, 0x6a, 0x00}
	tagResume         = []byte{0x6a, 0x04, 0x61, 0x00}
	tagTimeout        = []byte{0x75, 0x6e, 0x69, 0x00}
	tagWaitstate      = []byte{0x6f, 0x05, 0x61, 0x00}

	actionCallback = []byte{0x00, 0x00}
	actionContinue = []byte{0x00, 0x01}
	actionPanic    = []byte{0x00, 0x02}
	actionSleep    = []byte{0x00, 0x04}
	actionWait     = []byte{0x00, 0x08}
)

// Time units used by the duration encoding (unit:u8, value:u32).
const (
	UnitSeconds      uint8 = 0
	UnitMilliseconds uint8 = 1
	UnitMicroseconds uint8 = 2
	UnitNanoseconds  uint8 = 3
)

var (
	// ErrTruncated means the buffer ran out mid-record.
	ErrTruncated = errors.New("bytecode: truncated input")
	// ErrUnknownTag means a command or action tag was not recognized.
	ErrUnknownTag = errors.New("bytecode: unknown tag")
	// ErrBadUnit means a duration's unit byte was not 0-3.
	ErrBadUnit = errors.New("bytecode: invalid duration unit")
	// ErrBadNotify means a timeslice's notify byte was not 0 or 1.
	ErrBadNotify = errors.New("bytecode: invalid notify flag")
	// ErrEpochOrder means slice_id did not increase by exactly 1.
	ErrEpochOrder = errors.New("bytecode: out-of-order timeslice id")
	// ErrUnknownState means a command referenced a state id that was never registered.
	ErrUnknownState = errors.New("bytecode: unknown state id")
	// ErrNoSuchHandler means a RESUME referenced a range with no matching installed handler.
	ErrNoSuchHandler = errors.New("bytecode: resume has no matching installed handler")
	// ErrNotWaitHandler means a RESUME targeted a handler whose action isn't WAIT.
	ErrNotWaitHandler = errors.New("bytecode: resume target is not a WAIT handler")
	// ErrResumeBeforeWaitstate means no WAITSTATE at or after the target handler's epoch was seen yet.
	ErrResumeBeforeWaitstate = errors.New("bytecode: resume has no preceding waitstate")
	// ErrNoCapHandler means a WHEN block had no handler with the tr_end sentinel, so tr_max can't be derived.
	ErrNoCapHandler = errors.New("bytecode: install_handler has no unbounded handler to derive tr_max from")
)

// sentinelEnd marks a handler range's unbounded upper end; also sets the
// state's thread cap to that handler's tr_start.
const sentinelEnd = 0xFFFFFFFF

// RawDuration preserves the wire-level (unit, value) pair so that
// re-encoding a parsed schedule reproduces the original bytes exactly,
// even though several (unit, value) pairs can decode to the same
// time.Duration.
type RawDuration struct {
	Unit  uint8
	Value uint32
}

// Decode converts the wire pair into a time.Duration using the formula
// in spec.md §4.4: seconds = value / q (integer division), nanoseconds
// = (value mod q) * m, then summed.
func Decode(unit uint8, value uint32) (time.Duration, error) {
	var q, m uint64
	switch unit {
	case UnitSeconds:
		q, m = 1, 0
	case UnitMilliseconds:
		q, m = 1e3, 1e6
	case UnitMicroseconds:
		q, m = 1e6, 1e3
	case UnitNanoseconds:
		q, m = 1e9, 1
	default:
		return 0, ErrBadUnit
	}

	v := uint64(value)
	seconds := v / q
	remainder := v % q
	nanos := remainder * m

	return time.Duration(seconds)*time.Second + time.Duration(nanos), nil
}

// AsDuration decodes the raw pair, discarding the (impossible per
// construction) unit error since a RawDuration is only ever produced by
// a successful Decode call during parsing.
func (d RawDuration) AsDuration() time.Duration {
	dur, _ := Decode(d.Unit, d.Value)
	return dur
}

// Action is the behavior a handler dispatches to when a thread ordinal
// falls inside its range.
type Action int

const (
	ActionCallback Action = iota
	ActionContinue
	ActionPanic
	ActionSleep
	ActionWait
)

func (a Action) String() string {
	switch a {
	case ActionCallback:
		return "CALLBACK"
	case ActionContinue:
		return "CONTINUE"
	case ActionPanic:
		return "PANIC"
	case ActionSleep:
		return "SLEEP"
	case ActionWait:
		return "WAIT"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Handler is installed for an inclusive thread-ordinal range on one
// state by an INSTALL_HANDLER command.
type Handler struct {
	Epoch   uint32 // epoch this handler was installed in, kept for ordering checks
	TRStart uint32
	TREnd   uint32

	Action     Action
	CallbackID uint32          // valid iff Action == ActionCallback
	Sleep      RawDuration     // valid iff Action == ActionSleep
	Sema       *rksync.Semaphore // valid iff Action == ActionWait, fresh and 0-valued
}

// CommandKind discriminates which variant of Command is populated.
type CommandKind int

const (
	CommandInstallHandler CommandKind = iota
	CommandResume
	CommandTimeout
	CommandWaitstate
)

// InstallHandlerCmd installs a fresh handler list for a state.
type InstallHandlerCmd struct {
	StateID  uint32
	TRMax    uint32
	Handlers []Handler
}

// ResumeCmd releases a specific WAIT-blocked ordinal range.
type ResumeCmd struct {
	StateID uint32
	TRStart uint32
	TREnd   uint32
}

// TimeoutCmd makes the scheduler sleep before proceeding.
type TimeoutCmd struct {
	Duration RawDuration
}

// WaitstateCmd is the scheduler barrier; it carries no data.
type WaitstateCmd struct{}

// Command is a tagged record; exactly one of the variant fields is
// non-nil, selected by Kind.
type Command struct {
	Kind CommandKind

	InstallHandler *InstallHandlerCmd
	Resume         *ResumeCmd
	Timeout        *TimeoutCmd
	Waitstate      *WaitstateCmd
}

// Epoch is one indivisible stage of the schedule.
type Epoch struct {
	ID       uint32
	Notify   bool
	Commands []Command
}

// Schedule is the fully parsed, validated bytecode program.
type Schedule struct {
	Epochs []Epoch
}

// reader walks the bytecode buffer, tracking offset and exposing the
// small set of primitive reads the grammar needs.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) peekTag(tag []byte) bool {
	if r.remaining() < len(tag) {
		return false
	}
	return bytes.Equal(r.buf[r.off:r.off+len(tag)], tag)
}

func (r *reader) readUint8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) skip(n int) error {
	if r.remaining() < n {
		return ErrTruncated
	}
	r.off += n
	return nil
}
