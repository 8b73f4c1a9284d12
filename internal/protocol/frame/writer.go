package frame

import (
	"bufio"
	"io"
	"time"

	"github.com/danmuck/mllp/internal/protocol"
)

// WriteConn is the outbound half of a connection.
type WriteConn interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

// Writer encodes frames onto a connection. Any error leaves the stream in an
// unknown state; callers reset the connection instead of closing it.
type Writer struct {
	conn WriteConn
	bw   *bufio.Writer
}

func NewWriter(conn WriteConn, size int) *Writer {
	if size <= 0 {
		size = 4096
	}
	return &Writer{conn: conn, bw: bufio.NewWriterSize(conn, size)}
}

// WriteMessage sends one HL7 message frame.
func (w *Writer) WriteMessage(message []byte, timeout time.Duration) error {
	if err := w.write(message, timeout); err != nil {
		return protocol.NewWrite("send message", err).WithMessage(message)
	}
	return nil
}

// WriteAck sends one acknowledgement frame in reply to message.
func (w *Writer) WriteAck(message, ack []byte, timeout time.Duration) error {
	if err := w.write(ack, timeout); err != nil {
		return protocol.NewWrite("send acknowledgement", err).WithMessage(message).WithAck(ack)
	}
	return nil
}

func (w *Writer) write(payload []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if _, err := w.bw.Write(Encode(payload)); err != nil {
		return err
	}
	return w.bw.Flush()
}
