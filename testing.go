package raikkonen

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"sync"

	"github.com/ehrlich-b/raikkonen/internal/bytecode"
)

// MockController drives the controller side of the wire protocol against
// a net.Conn, for tests that exercise a real scheduler without a real
// controller process. It tracks every reply byte it receives so a test
// can assert on the negotiation outcome.
type MockController struct {
	conn net.Conn

	mu       sync.Mutex
	replies  []string
}

// NewMockController wraps conn in a controller-side test double.
func NewMockController(conn net.Conn) *MockController {
	return &MockController{conn: conn}
}

// SendHandshake writes "hei" with the given dialect and returns the reply
// ("joo" or "ei").
func (c *MockController) SendHandshake(dialect uint16) (string, error) {
	buf := make([]byte, 5)
	copy(buf, "hei")
	binary.BigEndian.PutUint16(buf[3:], dialect)
	if _, err := c.conn.Write(buf); err != nil {
		return "", fmt.Errorf("mockcontroller: writing hei: %w", err)
	}
	return c.readReply()
}

// SendSchedule writes "ota se" followed by sched's encoded bytecode and the
// trailing "loppu" record, and returns the reply ("joo" or "ei").
func (c *MockController) SendSchedule(sched *bytecode.Schedule) (string, error) {
	body := sched.Encode()

	header := make([]byte, 14)
	copy(header, "ota se")
	binary.BigEndian.PutUint32(header[6:10], uint32(len(body)))
	binary.BigEndian.PutUint32(header[10:14], crc32.ChecksumIEEE(body))

	if _, err := c.conn.Write(header); err != nil {
		return "", fmt.Errorf("mockcontroller: writing ota se header: %w", err)
	}
	if len(body) > 0 {
		if _, err := c.conn.Write(body); err != nil {
			return "", fmt.Errorf("mockcontroller: writing bytecode: %w", err)
		}
	}
	if _, err := c.conn.Write([]byte("loppu")); err != nil {
		return "", fmt.Errorf("mockcontroller: writing loppu: %w", err)
	}
	return c.readReply()
}

func (c *MockController) readReply() (string, error) {
	buf := make([]byte, 3)
	n, err := io.ReadFull(c.conn, buf[:2])
	if err != nil {
		return "", fmt.Errorf("mockcontroller: reading reply: %w", err)
	}
	if buf[0] == 0x65 && buf[1] == 0x69 {
		c.record("ei")
		return "ei", nil
	}
	// "joo" is one byte longer than "ei"; read the remaining byte.
	if _, err := io.ReadFull(c.conn, buf[n:n+1]); err != nil {
		return "", fmt.Errorf("mockcontroller: reading joo tail: %w", err)
	}
	c.record("joo")
	return "joo", nil
}

func (c *MockController) record(reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, reply)
}

// Replies returns every reply observed so far, in order.
func (c *MockController) Replies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.replies))
	copy(out, c.replies)
	return out
}

// ScheduleBuilder assembles a bytecode.Schedule programmatically, for
// tests that want to drive a scheduler without hand-encoding wire bytes.
type ScheduleBuilder struct {
	epochs []bytecode.Epoch
}

// NewScheduleBuilder starts an empty schedule.
func NewScheduleBuilder() *ScheduleBuilder {
	return &ScheduleBuilder{}
}

// Epoch appends a new epoch with the given commands.
func (b *ScheduleBuilder) Epoch(notify bool, commands ...bytecode.Command) *ScheduleBuilder {
	b.epochs = append(b.epochs, bytecode.Epoch{
		ID:       uint32(len(b.epochs)),
		Notify:   notify,
		Commands: commands,
	})
	return b
}

// Build returns the assembled schedule.
func (b *ScheduleBuilder) Build() *bytecode.Schedule {
	return &bytecode.Schedule{Epochs: b.epochs}
}
