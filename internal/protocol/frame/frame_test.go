package frame

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/danmuck/mllp/internal/protocol"
	"github.com/danmuck/mllp/internal/testutil/testlog"
)

type scripted struct {
	data []byte
	tail error
}

func (s *scripted) ReadByteWithin(time.Duration) (byte, error) {
	if len(s.data) == 0 {
		return 0, s.tail
	}
	b := s.data[0]
	s.data = s.data[1:]
	return b, nil
}

func TestEncodeWrapsPayload(t *testing.T) {
	testlog.Start(t)
	got := Encode([]byte("MSH|"))
	want := []byte{protocol.StartOfBlock, 'M', 'S', 'H', '|', protocol.EndOfBlock, protocol.EndOfData}
	if !bytes.Equal(got, want) {
		t.Fatalf("encode mismatch: got=%v want=%v", got, want)
	}
	if got := Encode(nil); len(got) != 3 {
		t.Fatalf("empty payload frame length: %d", len(got))
	}
}

type controlFree []byte

func (controlFree) Generate(r *rand.Rand, size int) reflect.Value {
	out := make([]byte, r.Intn(size+1))
	for i := range out {
		b := byte(r.Intn(256))
		for b == protocol.StartOfBlock || b == protocol.EndOfBlock || b == protocol.EndOfData {
			b = byte(r.Intn(256))
		}
		out[i] = b
	}
	return reflect.ValueOf(controlFree(out))
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	roundTrip := func(p controlFree) bool {
		src := &scripted{data: Encode(p), tail: io.EOF}
		got, err := Decode(src, time.Second, time.Second, true)
		return err == nil && bytes.Equal(got, p)
	}
	if err := quick.Check(roundTrip, &quick.Config{MaxCount: 200}); err != nil {
		t.Fatalf("round trip: %v", err)
	}
}

func TestDecodeStartTimeout(t *testing.T) {
	testlog.Start(t)
	src := &scripted{tail: os.ErrDeadlineExceeded}
	_, err := Decode(src, 0, 0, true)
	if !errors.Is(err, protocol.ErrStartTimeout) {
		t.Fatalf("expected start timeout, got %v", err)
	}
}

func TestDecodeTruncatedFrameIsCorrupt(t *testing.T) {
	testlog.Start(t)
	src := &scripted{data: []byte{protocol.StartOfBlock, 'A', 'B', 'C'}, tail: io.EOF}
	_, err := Decode(src, time.Second, time.Second, true)
	if !errors.Is(err, protocol.ErrCorruptFrame) {
		t.Fatalf("expected corrupt frame, got %v", err)
	}
	pe, _ := protocol.AsError(err)
	if string(pe.Partial) != "ABC" {
		t.Fatalf("partial mismatch: %q", pe.Partial)
	}
}

func TestDecodeMidFrameTimeoutCarriesPartial(t *testing.T) {
	testlog.Start(t)
	src := &scripted{data: []byte{protocol.StartOfBlock, 'A', 'B'}, tail: os.ErrDeadlineExceeded}
	_, err := Decode(src, time.Second, time.Second, true)
	if !errors.Is(err, protocol.ErrMidFrameTimeout) {
		t.Fatalf("expected mid-frame timeout, got %v", err)
	}
	pe, _ := protocol.AsError(err)
	if string(pe.Partial) != "AB" {
		t.Fatalf("partial mismatch: %q", pe.Partial)
	}
}

func TestDecodeRejectsNoiseBeforeStart(t *testing.T) {
	testlog.Start(t)
	src := &scripted{data: []byte("XMSH"), tail: io.EOF}
	_, err := Decode(src, time.Second, time.Second, true)
	if !errors.Is(err, protocol.ErrCorruptFrame) {
		t.Fatalf("expected corrupt frame, got %v", err)
	}
}

func TestDecodeRequireEndOfData(t *testing.T) {
	testlog.Start(t)
	noEOD := []byte{protocol.StartOfBlock, 'A', protocol.EndOfBlock}

	_, err := Decode(&scripted{data: noEOD, tail: io.EOF}, time.Second, time.Second, true)
	if !errors.Is(err, protocol.ErrCorruptFrame) {
		t.Fatalf("required end of data: expected corrupt frame, got %v", err)
	}

	wrong := append(append([]byte{}, noEOD...), 'Z')
	_, err = Decode(&scripted{data: wrong, tail: io.EOF}, time.Second, time.Second, true)
	if !errors.Is(err, protocol.ErrCorruptFrame) {
		t.Fatalf("wrong trailer: expected corrupt frame, got %v", err)
	}

	got, err := Decode(&scripted{data: noEOD, tail: io.EOF}, time.Second, time.Second, false)
	if err != nil || string(got) != "A" {
		t.Fatalf("optional end of data: got=%q err=%v", got, err)
	}
}

func TestDecodeSkipsLateEndOfDataWhenOptional(t *testing.T) {
	testlog.Start(t)
	stream := append(Encode([]byte("one")), Encode([]byte("two"))...)
	src := &scripted{data: stream, tail: io.EOF}
	for _, want := range []string{"one", "two"} {
		got, err := Decode(src, time.Second, time.Second, false)
		if err != nil || string(got) != want {
			t.Fatalf("frame %s: got=%q err=%v", want, got, err)
		}
	}
}

func TestReaderOverPipe(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write(append(Encode([]byte("first")), Encode([]byte("second"))...))
	}()

	r := NewReader(server, 0)
	for _, want := range []string{"first", "second"} {
		got, err := r.ReadFrame(time.Second, time.Second, true)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if string(got) != want {
			t.Fatalf("payload mismatch: got=%q want=%q", got, want)
		}
	}
}

func TestReaderZeroTimeoutEmptyStream(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := NewReader(server, 0).ReadFrame(0, 0, true)
	if !errors.Is(err, protocol.ErrStartTimeout) {
		t.Fatalf("expected start timeout, got %v", err)
	}
}

func TestReaderPeerClosesMidFrame(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{protocol.StartOfBlock, 'A', 'B', 'C'})
		_ = client.Close()
	}()

	_, err := NewReader(server, 0).ReadFrame(time.Second, time.Second, true)
	if !errors.Is(err, protocol.ErrCorruptFrame) {
		t.Fatalf("expected corrupt frame, got %v", err)
	}
	pe, _ := protocol.AsError(err)
	if string(pe.Partial) != "ABC" {
		t.Fatalf("partial mismatch: %q", pe.Partial)
	}
}

func TestReaderMidFrameTimeout(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{protocol.StartOfBlock, 'A', 'B'})
	}()

	_, err := NewReader(server, 0).ReadFrame(time.Second, 50*time.Millisecond, true)
	if !errors.Is(err, protocol.ErrMidFrameTimeout) {
		t.Fatalf("expected mid-frame timeout, got %v", err)
	}
}

func TestReaderProbe(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	r := NewReader(server, 0)
	if got, err := r.Probe(0); err != nil || got != ProbeIdle {
		t.Fatalf("idle probe: got=%v err=%v", got, err)
	}

	go func() {
		_, _ = client.Write(Encode([]byte("x")))
	}()
	if got, err := r.Probe(time.Second); err != nil || got != ProbeData {
		t.Fatalf("data probe: got=%v err=%v", got, err)
	}
	payload, err := r.ReadFrame(time.Second, time.Second, true)
	if err != nil || string(payload) != "x" {
		t.Fatalf("probed byte lost: got=%q err=%v", payload, err)
	}

	_ = client.Close()
	if got, err := r.Probe(time.Second); err != nil || got != ProbeClosed {
		t.Fatalf("closed probe: got=%v err=%v", got, err)
	}
}

type deadlineBuffer struct {
	bytes.Buffer
	fail error
}

func (d *deadlineBuffer) Write(p []byte) (int, error) {
	if d.fail != nil {
		return 0, d.fail
	}
	return d.Buffer.Write(p)
}

func (d *deadlineBuffer) SetWriteDeadline(time.Time) error { return nil }

func TestWriterWritesOneFrame(t *testing.T) {
	testlog.Start(t)
	var out deadlineBuffer
	w := NewWriter(&out, 0)
	if err := w.WriteMessage([]byte("MSH|"), time.Second); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(out.Bytes(), Encode([]byte("MSH|"))) {
		t.Fatalf("frame mismatch: %v", out.Bytes())
	}
}

func TestWriterWrapsFailures(t *testing.T) {
	testlog.Start(t)
	out := &deadlineBuffer{fail: io.ErrClosedPipe}
	err := NewWriter(out, 0).WriteAck([]byte("MSH|"), []byte("MSA|AA"), time.Second)
	if !errors.Is(err, protocol.ErrWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
	pe, _ := protocol.AsError(err)
	if string(pe.Ack) != "MSA|AA" || string(pe.Message) != "MSH|" {
		t.Fatalf("payloads not attached: %+v", pe)
	}
}

func TestReaderConsumesTrailingEndOfDataWhenOptional(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write(Encode([]byte("ack")))
	}()

	r := NewReader(server, 0)
	payload, err := r.ReadFrame(time.Second, time.Second, false)
	if err != nil || string(payload) != "ack" {
		t.Fatalf("read frame: got=%q err=%v", payload, err)
	}
	if n := r.Buffered(); n != 0 {
		t.Fatalf("trailing END_OF_DATA left buffered: %d bytes", n)
	}
	if got, err := r.Probe(0); err != nil || got != ProbeIdle {
		t.Fatalf("connection should look idle: got=%v err=%v", got, err)
	}
}

func TestDropStrayEndOfDataStopsAtOtherBytes(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte{protocol.EndOfData, protocol.EndOfData, protocol.StartOfBlock})
	}()

	r := NewReader(server, 0)
	if got, err := r.Probe(time.Second); err != nil || got != ProbeData {
		t.Fatalf("Probe: got=%v err=%v", got, err)
	}
	if n := r.DropStrayEndOfData(); n != 2 {
		t.Fatalf("dropped %d bytes, want 2", n)
	}
	if b, err := r.ReadByteWithin(time.Second); err != nil || b != protocol.StartOfBlock {
		t.Fatalf("next byte: got=0x%02x err=%v", b, err)
	}
}
