package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags one protocol failure class.
type Kind uint8

const (
	KindTimeout Kind = iota + 1
	KindCorruptFrame
	KindReceive
	KindWrite
	KindConnect
	KindInvalidMessage
	KindAckGeneration
	KindInvalidAck
	KindApplicationErrorAck
	KindApplicationRejectAck
	KindCommitErrorAck
	KindCommitRejectAck
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCorruptFrame:
		return "corrupt frame"
	case KindReceive:
		return "receive failed"
	case KindWrite:
		return "write failed"
	case KindConnect:
		return "connect failed"
	case KindInvalidMessage:
		return "invalid message"
	case KindAckGeneration:
		return "acknowledgement generation failed"
	case KindInvalidAck:
		return "invalid acknowledgement"
	case KindApplicationErrorAck:
		return "application error acknowledgement"
	case KindApplicationRejectAck:
		return "application reject acknowledgement"
	case KindCommitErrorAck:
		return "commit error acknowledgement"
	case KindCommitRejectAck:
		return "commit reject acknowledgement"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Label is the metric/log friendly form of the kind.
func (k Kind) Label() string {
	return strings.ReplaceAll(k.String(), " ", "_")
}

// Error is the single error type raised by the MLLP engine. Message and Ack
// hold the HL7 bytes in flight; Partial holds bytes a decoder saw before it
// failed. Payload bytes are rendered by Error() only when LogPayload is set.
type Error struct {
	Kind    Kind
	Phase   Phase
	Detail  string
	Message []byte
	Ack     []byte
	Partial []byte
	Cause   error

	LogPayload  bool
	MaxLogBytes int
}

var (
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrStartTimeout         = &Error{Kind: KindTimeout, Phase: PhaseStart}
	ErrMidFrameTimeout      = &Error{Kind: KindTimeout, Phase: PhaseMidFrame}
	ErrAckTimeout           = &Error{Kind: KindTimeout, Phase: PhaseAck}
	ErrCorruptFrame         = &Error{Kind: KindCorruptFrame}
	ErrReceive              = &Error{Kind: KindReceive}
	ErrWrite                = &Error{Kind: KindWrite}
	ErrConnect              = &Error{Kind: KindConnect}
	ErrInvalidMessage       = &Error{Kind: KindInvalidMessage}
	ErrAckGeneration        = &Error{Kind: KindAckGeneration}
	ErrInvalidAck           = &Error{Kind: KindInvalidAck}
	ErrApplicationErrorAck  = &Error{Kind: KindApplicationErrorAck}
	ErrApplicationRejectAck = &Error{Kind: KindApplicationRejectAck}
	ErrCommitErrorAck       = &Error{Kind: KindCommitErrorAck}
	ErrCommitRejectAck      = &Error{Kind: KindCommitRejectAck}
)

func NewTimeout(phase Phase, partial []byte, cause error) *Error {
	return &Error{Kind: KindTimeout, Phase: phase, Partial: partial, Cause: cause}
}

func NewCorruptFrame(detail string, partial []byte, cause error) *Error {
	return &Error{Kind: KindCorruptFrame, Detail: detail, Partial: partial, Cause: cause}
}

func NewReceive(partial []byte, cause error) *Error {
	return &Error{Kind: KindReceive, Partial: partial, Cause: cause}
}

func NewWrite(detail string, cause error) *Error {
	return &Error{Kind: KindWrite, Detail: detail, Cause: cause}
}

func NewConnect(addr string, cause error) *Error {
	return &Error{Kind: KindConnect, Detail: "dial " + addr, Cause: cause}
}

func NewInvalidMessage(detail string, message []byte) *Error {
	return &Error{Kind: KindInvalidMessage, Detail: detail, Message: message}
}

func NewAckGeneration(detail string, message []byte) *Error {
	return &Error{Kind: KindAckGeneration, Detail: detail, Message: message}
}

func NewInvalidAck(detail string, message, ack []byte) *Error {
	return &Error{Kind: KindInvalidAck, Detail: detail, Message: message, Ack: ack}
}

func NewApplicationErrorAck(message, ack []byte) *Error {
	return &Error{Kind: KindApplicationErrorAck, Message: message, Ack: ack}
}

func NewApplicationRejectAck(message, ack []byte) *Error {
	return &Error{Kind: KindApplicationRejectAck, Message: message, Ack: ack}
}

func NewCommitErrorAck(message, ack []byte) *Error {
	return &Error{Kind: KindCommitErrorAck, Message: message, Ack: ack}
}

func NewCommitRejectAck(message, ack []byte) *Error {
	return &Error{Kind: KindCommitRejectAck, Message: message, Ack: ack}
}

// WithMessage attaches the HL7 message in flight.
func (e *Error) WithMessage(message []byte) *Error {
	e.Message = message
	return e
}

// WithAck attaches the acknowledgement bytes in flight.
func (e *Error) WithAck(ack []byte) *Error {
	e.Ack = ack
	return e
}

// WithPayloadLogging controls whether Error() renders payload bytes.
func (e *Error) WithPayloadLogging(enabled bool, maxBytes int) *Error {
	e.LogPayload = enabled
	e.MaxLogBytes = maxBytes
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("mllp: ")
	b.WriteString(e.Kind.String())
	if e.Phase != "" {
		fmt.Fprintf(&b, " (%s)", e.Phase)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	e.writePayload(&b, "message", e.Message)
	e.writePayload(&b, "ack", e.Ack)
	e.writePayload(&b, "partial", e.Partial)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) writePayload(b *strings.Builder, name string, payload []byte) {
	if payload == nil {
		return
	}
	if e.LogPayload {
		fmt.Fprintf(b, " %s=%q", name, PrintFriendlyBounded(payload, e.MaxLogBytes))
		return
	}
	fmt.Fprintf(b, " %s=[%d bytes]", name, len(payload))
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by kind, and by phase when the sentinel names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// NegativeAck reports whether the error is an error or reject acknowledgement.
func (e *Error) NegativeAck() bool {
	switch e.Kind {
	case KindApplicationErrorAck, KindApplicationRejectAck, KindCommitErrorAck, KindCommitRejectAck:
		return true
	}
	return false
}

// AckCode returns the acknowledgement code carried by a negative ack error.
func (e *Error) AckCode() string {
	switch e.Kind {
	case KindApplicationErrorAck:
		return "AE"
	case KindApplicationRejectAck:
		return "AR"
	case KindCommitErrorAck:
		return "CE"
	case KindCommitRejectAck:
		return "CR"
	}
	return ""
}

// AsError unwraps err into the protocol error type.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the protocol kind of err, or zero.
func KindOf(err error) Kind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return 0
}

// IsNegativeAck reports whether err is an error/reject acknowledgement.
func IsNegativeAck(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.NegativeAck()
}
