package bytecode

import (
	"bytes"
	"encoding/binary"
)

// Encode reconstructs the raw bytecode bytes for a Schedule. Every
// RawDuration and Handler field set by Parse is byte-exact on the way
// back out, so Parse(Encode(s)) reproduces s field-for-field for any
// schedule Parse originally accepted.
func (s *Schedule) Encode() []byte {
	var buf bytes.Buffer
	for _, e := range s.Epochs {
		encodeEpoch(&buf, e)
	}
	return buf.Bytes()
}

func encodeEpoch(buf *bytes.Buffer, e Epoch) {
	buf.Write(tagTimesliceBegin)
	writeUint32(buf, e.ID)
	if e.Notify {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, cmd := range e.Commands {
		encodeCommand(buf, cmd)
	}
	buf.Write(tagTimesliceEnd)
}

func encodeCommand(buf *bytes.Buffer, cmd Command) {
	switch cmd.Kind {
	case CommandInstallHandler:
		encodeInstallHandler(buf, cmd.InstallHandler)
	case CommandResume:
		buf.Write(tagResume)
		writeUint32(buf, cmd.Resume.StateID)
		writeUint32(buf, cmd.Resume.TRStart)
		writeUint32(buf, cmd.Resume.TREnd)
	case CommandTimeout:
		buf.Write(tagTimeout)
		writeRawDuration(buf, cmd.Timeout.Duration)
	case CommandWaitstate:
		buf.Write(tagWaitstate)
	}
}

func encodeInstallHandler(buf *bytes.Buffer, ih *InstallHandlerCmd) {
	buf.Write(tagWhen)
	writeUint32(buf, ih.StateID)
	buf.WriteByte(0)
	for _, h := range ih.Handlers {
		writeUint32(buf, h.TRStart)
		writeUint32(buf, h.TREnd)
		encodeHandlerBody(buf, h)
	}
	buf.Write(tagWhenEnd)
}

func encodeHandlerBody(buf *bytes.Buffer, h Handler) {
	switch h.Action {
	case ActionCallback:
		buf.Write(actionCallback)
		writeUint32(buf, h.CallbackID)
	case ActionContinue:
		buf.Write(actionContinue)
	case ActionPanic:
		buf.Write(actionPanic)
	case ActionSleep:
		buf.Write(actionSleep)
		writeRawDuration(buf, h.Sleep)
	case ActionWait:
		buf.Write(actionWait)
	}
}

func writeRawDuration(buf *bytes.Buffer, d RawDuration) {
	buf.WriteByte(d.Unit)
	writeUint32(buf, d.Value)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
