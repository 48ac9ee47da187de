package proto

import (
	"encoding/binary"
	"hash/crc32"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() { c.Close(); s.Close() })
	return c, s
}

func writeHei(t *testing.T, conn net.Conn, dialect uint16) {
	t.Helper()
	buf := make([]byte, 5)
	copy(buf, "hei")
	binary.BigEndian.PutUint16(buf[3:], dialect)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func writeOtaSe(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	header := make([]byte, 14)
	copy(header, "ota se")
	binary.BigEndian.PutUint32(header[6:10], uint32(len(body)))
	binary.BigEndian.PutUint32(header[10:14], crc32.ChecksumIEEE(body))
	_, err := conn.Write(header)
	require.NoError(t, err)
	if len(body) > 0 {
		_, err = conn.Write(body)
		require.NoError(t, err)
	}
	_, err = conn.Write([]byte("loppu"))
	require.NoError(t, err)
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	read := 0
	for read < n {
		m, err := conn.Read(buf[read:])
		require.NoError(t, err)
		read += m
	}
	return buf
}

// S1: handshake only, empty schedule.
func TestNegotiateHandshakeOnly(t *testing.T) {
	client, server := pipePair(t)

	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		s, err := Negotiate(server, 0)
		gotErr = err
		if err == nil {
			assert.Empty(t, s.Epochs)
		}
	}()

	writeHei(t, client, currentDialect)
	assert.Equal(t, []byte("joo"), readN(t, client, 3))

	writeOtaSe(t, client, nil)
	assert.Equal(t, []byte("joo"), readN(t, client, 3))

	<-done
	require.NoError(t, gotErr)
}

func TestNegotiateBadHeiMagicSendsEi(t *testing.T) {
	client, server := pipePair(t)

	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		_, gotErr = Negotiate(server, 0)
	}()

	_, err := client.Write([]byte("xyz\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x65, 0x69}, readN(t, client, 2))

	<-done
	require.ErrorIs(t, gotErr, ErrBadMagic)
}

func TestNegotiateBadDialectSendsEi(t *testing.T) {
	client, server := pipePair(t)

	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		_, gotErr = Negotiate(server, 0)
	}()

	writeHei(t, client, 0xFFFF)
	assert.Equal(t, []byte{0x65, 0x69}, readN(t, client, 2))

	<-done
	require.ErrorIs(t, gotErr, ErrBadDialect)
}

func TestNegotiateCRCMismatchRejected(t *testing.T) {
	client, server := pipePair(t)

	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		_, gotErr = Negotiate(server, 0)
	}()

	writeHei(t, client, currentDialect)
	assert.Equal(t, []byte("joo"), readN(t, client, 3))

	header := make([]byte, 14)
	copy(header, "ota se")
	binary.BigEndian.PutUint32(header[6:10], 0)
	binary.BigEndian.PutUint32(header[10:14], 0xDEADBEEF)
	_, err := client.Write(header)
	require.NoError(t, err)
	_, err = client.Write([]byte("loppu"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x65, 0x69}, readN(t, client, 2))

	<-done
	require.ErrorIs(t, gotErr, ErrCRCMismatch)
}

func TestNegotiateMissingLoppuRejected(t *testing.T) {
	client, server := pipePair(t)

	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		_, gotErr = Negotiate(server, 0)
	}()

	writeHei(t, client, currentDialect)
	assert.Equal(t, []byte("joo"), readN(t, client, 3))

	header := make([]byte, 14)
	copy(header, "ota se")
	binary.BigEndian.PutUint32(header[6:10], 0)
	binary.BigEndian.PutUint32(header[10:14], crc32.ChecksumIEEE(nil))
	_, err := client.Write(header)
	require.NoError(t, err)
	client.Close()

	<-done
	require.ErrorIs(t, gotErr, ErrMissingLoppu)
}
