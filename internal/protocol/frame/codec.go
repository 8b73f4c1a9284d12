package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/mllp/internal/protocol"
)

// Source yields one byte at a time, waiting at most wait for it to arrive.
// A zero wait means the byte must already be available.
type Source interface {
	ReadByteWithin(wait time.Duration) (byte, error)
}

// Encode wraps payload in the MLLP envelope.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, protocol.StartOfBlock)
	out = append(out, payload...)
	return append(out, protocol.EndOfBlock, protocol.EndOfData)
}

// Decode reads one framed payload from src. receiveTimeout bounds the wait
// for the START_OF_BLOCK byte; readTimeout bounds every read after it.
// With requireEndOfData false a missing trailing END_OF_DATA is tolerated,
// and a stray END_OF_DATA ahead of the next START_OF_BLOCK is skipped.
func Decode(src Source, receiveTimeout, readTimeout time.Duration, requireEndOfData bool) ([]byte, error) {
	b, err := src.ReadByteWithin(receiveTimeout)
	for err == nil && !requireEndOfData && b == protocol.EndOfData {
		b, err = src.ReadByteWithin(receiveTimeout)
	}
	if err != nil {
		switch {
		case IsTimeout(err):
			return nil, protocol.NewTimeout(protocol.PhaseStart, nil, err)
		case errors.Is(err, io.EOF):
			return nil, protocol.NewCorruptFrame("stream ended before START_OF_BLOCK", nil, err)
		default:
			return nil, protocol.NewReceive(nil, err)
		}
	}
	if b != protocol.StartOfBlock {
		return nil, protocol.NewCorruptFrame(
			fmt.Sprintf("expected START_OF_BLOCK, got 0x%02x", b),
			[]byte{b},
			nil,
		)
	}

	payload := make([]byte, 0, 1024)
	for {
		b, err = src.ReadByteWithin(readTimeout)
		if err != nil {
			return nil, midFrameError(payload, err, "stream ended before END_OF_BLOCK")
		}
		if b == protocol.EndOfBlock {
			break
		}
		payload = append(payload, b)
	}

	if !requireEndOfData {
		return payload, nil
	}
	b, err = src.ReadByteWithin(readTimeout)
	if err != nil {
		if IsTimeout(err) || errors.Is(err, io.EOF) {
			return nil, protocol.NewCorruptFrame("END_OF_DATA missing after END_OF_BLOCK", payload, err)
		}
		return nil, protocol.NewReceive(payload, err)
	}
	if b != protocol.EndOfData {
		return nil, protocol.NewCorruptFrame(
			fmt.Sprintf("expected END_OF_DATA after END_OF_BLOCK, got 0x%02x", b),
			payload,
			nil,
		)
	}
	return payload, nil
}

func midFrameError(partial []byte, err error, eofDetail string) error {
	switch {
	case IsTimeout(err):
		return protocol.NewTimeout(protocol.PhaseMidFrame, partial, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return protocol.NewCorruptFrame(eofDetail, partial, err)
	default:
		return protocol.NewReceive(partial, err)
	}
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
