// Package exchange is the contract between the MLLP engine and the message
// processor that consumes received payloads.
package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/mllp/internal/protocol/hl7"
)

// Action is what the engine does to a connection around an acknowledgement.
type Action int

const (
	ActionNone Action = iota
	ActionClose
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionClose:
		return "close"
	case ActionReset:
		return "reset"
	default:
		return "none"
	}
}

// Control carries the connection churn signals a processor (or a producer
// caller) may set. Reset takes precedence over close.
type Control struct {
	ResetBeforeSend bool
	CloseBeforeSend bool
	ResetAfterSend  bool
	CloseAfterSend  bool
}

func (c Control) BeforeSend() Action {
	return pick(c.ResetBeforeSend, c.CloseBeforeSend)
}

func (c Control) AfterSend() Action {
	return pick(c.ResetAfterSend, c.CloseAfterSend)
}

func pick(reset, closeConn bool) Action {
	switch {
	case reset:
		return ActionReset
	case closeConn:
		return ActionClose
	default:
		return ActionNone
	}
}

// Exchange is one message and its acknowledgement.
type Exchange struct {
	ID         string
	ReceivedAt time.Time
	Payload    []byte
	// Headers holds MSH-derived fields keyed by hl7.Header* names. Nil when
	// header extraction is disabled.
	Headers    map[string]string
	Charset    string
	LocalAddr  string
	RemoteAddr string

	// Ack is an explicit acknowledgement payload. On the server a processor
	// sets it to bypass generation; on the client it holds the received ack.
	Ack []byte
	// AckCode requests the generated acknowledgement type on the server and
	// records the classified code on the client.
	AckCode hl7.AckCode
	// AckText becomes MSA-3 of a generated acknowledgement.
	AckText string
	// Err is a processing failure. A processor may set it instead of
	// returning an error.
	Err error

	Control Control
}

func New(payload []byte) *Exchange {
	return &Exchange{
		ID:         uuid.NewString(),
		ReceivedAt: time.Now(),
		Payload:    payload,
	}
}

// Header returns the named MSH header, or "" when absent.
func (e *Exchange) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[name]
}

// Failed reports whether the processor recorded an error on the exchange.
func (e *Exchange) Failed() bool {
	return e.Err != nil
}

// Processor handles a received message synchronously.
type Processor interface {
	Process(ctx context.Context, ex *Exchange) error
}

type ProcessorFunc func(ctx context.Context, ex *Exchange) error

func (f ProcessorFunc) Process(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}

// Accept is a processor that does nothing, leaving the engine to auto-ack.
var Accept Processor = ProcessorFunc(func(context.Context, *Exchange) error { return nil })
