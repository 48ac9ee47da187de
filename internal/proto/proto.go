// Package proto drives the three-state connection negotiator a
// controller speaks after the scheduler accepts it: hei, ota se,
// linger. All integers are big-endian; short reads/writes are retried
// until the record completes, EOF is reached, or a non-retryable error
// occurs.
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net"

	"github.com/ehrlich-b/raikkonen/internal/bytecode"
	"github.com/ehrlich-b/raikkonen/internal/rklog"
)

// currentDialect is the only hei dialect this negotiator accepts.
const currentDialect uint16 = 0x0000

var (
	heiPrologue   = []byte("hei")
	otaSePrologue = []byte("ota se")
	loppuPrologue = []byte("loppu")
	jooReply      = []byte("joo")
	eiReply       = []byte{0x65, 0x69}
)

var (
	// ErrBadMagic means a packet's prologue didn't match what was expected.
	ErrBadMagic = errors.New("proto: unexpected packet prologue")
	// ErrBadDialect means hei's dialect field wasn't the one we speak.
	ErrBadDialect = errors.New("proto: unsupported dialect")
	// ErrCRCMismatch means the ota se header's crc32 didn't match the bytecode received.
	ErrCRCMismatch = errors.New("proto: bytecode crc32 mismatch")
	// ErrMissingLoppu means the trailing loppu record never arrived.
	ErrMissingLoppu = errors.New("proto: loppu missing or malformed")
)

// Negotiate drives the hei / ota-se / linger handshake to completion on
// conn, validating and parsing the bytecode the controller sends.
// numStates bounds the state ids the bytecode may reference. On any
// failure it writes "ei" to the peer (the intended contract — the
// original implementation's write-ei helper inverts its own success
// check, a bug this port does not reproduce) and returns a non-nil
// error; the caller must treat the connection as dead either way.
func Negotiate(conn net.Conn, numStates uint32) (*bytecode.Schedule, error) {
	if err := negotiateHei(conn); err != nil {
		writeEi(conn)
		return nil, err
	}
	if err := writeJoo(conn); err != nil {
		return nil, err
	}

	sched, err := negotiateOtaSe(conn, numStates)
	if err != nil {
		writeEi(conn)
		return nil, err
	}
	if err := writeJoo(conn); err != nil {
		return nil, err
	}

	rklog.Debug("negotiation complete, entering linger state")
	return sched, nil
}

func negotiateHei(conn net.Conn) error {
	buf := make([]byte, 5) // "hei" + dialect:u16
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("proto: reading hei: %w", err)
	}
	if !bytes.Equal(buf[:3], heiPrologue) {
		return fmt.Errorf("%w: hei", ErrBadMagic)
	}
	dialect := binary.BigEndian.Uint16(buf[3:5])
	if dialect != currentDialect {
		return fmt.Errorf("%w: got %#04x", ErrBadDialect, dialect)
	}
	rklog.Debug("hei received", "dialect", dialect)
	return nil
}

func negotiateOtaSe(conn net.Conn, numStates uint32) (*bytecode.Schedule, error) {
	header := make([]byte, 14) // "ota se" + length:u32 + crc32:u32
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("proto: reading ota se header: %w", err)
	}
	if !bytes.Equal(header[:6], otaSePrologue) {
		return nil, fmt.Errorf("%w: ota se", ErrBadMagic)
	}
	length := binary.BigEndian.Uint32(header[6:10])
	wantCRC := binary.BigEndian.Uint32(header[10:14])

	rklog.Debug("ota se header read", "length", length)

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, fmt.Errorf("proto: reading bytecode body: %w", err)
		}
	}

	loppu := make([]byte, 5)
	if _, err := io.ReadFull(conn, loppu); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingLoppu, err)
	}
	if !bytes.Equal(loppu, loppuPrologue) {
		return nil, fmt.Errorf("%w: bad prologue", ErrMissingLoppu)
	}

	gotCRC := crc32.ChecksumIEEE(body)
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: got %#08x, want %#08x", ErrCRCMismatch, gotCRC, wantCRC)
	}

	sched, err := bytecode.Parse(body, numStates)
	if err != nil {
		return nil, fmt.Errorf("proto: parsing bytecode: %w", err)
	}

	rklog.Debug("bytecode parsed", "epochs", len(sched.Epochs))
	return sched, nil
}

func writeJoo(conn net.Conn) error {
	if _, err := writeFull(conn, jooReply); err != nil {
		return fmt.Errorf("proto: writing joo: %w", err)
	}
	return nil
}

// writeEi best-efforts the failure reply; its own outcome is not
// actionable since the connection is already being abandoned.
func writeEi(conn net.Conn) {
	_, _ = writeFull(conn, eiReply)
}

func writeFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

