package frame

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/danmuck/mllp/internal/protocol"
)

// ReadConn is the inbound half of a connection.
type ReadConn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ProbeResult classifies what a liveness probe saw on a connection.
type ProbeResult int

const (
	// ProbeIdle means the peer is connected but sent nothing within the wait.
	ProbeIdle ProbeResult = iota
	// ProbeData means at least one byte is buffered and ready to decode.
	ProbeData
	// ProbeClosed means the peer closed without sending anything.
	ProbeClosed
)

func (p ProbeResult) String() string {
	switch p {
	case ProbeIdle:
		return "idle"
	case ProbeData:
		return "data"
	case ProbeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reader decodes frames from a connection. Bytes buffered by a probe or by
// an earlier over-read stay in the Reader and are consumed by the next
// ReadFrame, so a Reader must own its connection's inbound side.
type Reader struct {
	conn ReadConn
	br   *bufio.Reader
}

func NewReader(conn ReadConn, size int) *Reader {
	if size <= 0 {
		size = 4096
	}
	return &Reader{conn: conn, br: bufio.NewReaderSize(conn, size)}
}

// ReadByteWithin implements Source. The read deadline is only touched when
// the buffer is empty.
func (r *Reader) ReadByteWithin(wait time.Duration) (byte, error) {
	if r.br.Buffered() == 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return 0, err
		}
	}
	return r.br.ReadByte()
}

// Buffered returns the number of bytes already read off the connection.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

// PollWait is the shortest probe. An already expired deadline fails a read
// before the socket is even polled, so a zero-wait probe still waits this
// long for data or an end of stream the kernel has already queued.
const PollWait = time.Millisecond

// Probe checks for inbound data without consuming it. A wait below PollWait
// is an availability check that returns as soon as the socket is polled.
func (r *Reader) Probe(wait time.Duration) (ProbeResult, error) {
	if r.br.Buffered() > 0 {
		return ProbeData, nil
	}
	wait = max(wait, PollWait)
	if err := r.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return ProbeClosed, err
	}
	_, err := r.br.Peek(1)
	switch {
	case err == nil:
		return ProbeData, nil
	case IsTimeout(err):
		return ProbeIdle, nil
	case errors.Is(err, io.EOF):
		return ProbeClosed, nil
	default:
		return ProbeClosed, err
	}
}

// ReadFrame decodes the next frame from the connection. With
// requireEndOfData false, an END_OF_DATA already buffered behind the frame
// is consumed with it.
func (r *Reader) ReadFrame(receiveTimeout, readTimeout time.Duration, requireEndOfData bool) ([]byte, error) {
	payload, err := Decode(r, receiveTimeout, readTimeout, requireEndOfData)
	if err == nil && !requireEndOfData {
		r.DropStrayEndOfData()
	}
	return payload, err
}

// DropStrayEndOfData discards END_OF_DATA bytes at the head of the buffer
// and reports how many were dropped. It never reads from the connection.
func (r *Reader) DropStrayEndOfData() int {
	n := 0
	for r.br.Buffered() > 0 {
		b, err := r.br.Peek(1)
		if err != nil || b[0] != protocol.EndOfData {
			break
		}
		_, _ = r.br.Discard(1)
		n++
	}
	return n
}
