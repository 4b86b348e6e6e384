package linehouse

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linehouse/linehouse/lineerror"
)

// stubTransport records flushed bodies and fails on demand.
type stubTransport struct {
	flushed   []string
	failNext  error
	connected bool
	closed    bool
}

func (s *stubTransport) Connect() error {
	s.connected = true
	return nil
}

func (s *stubTransport) Flush(body []byte) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.flushed = append(s.flushed, string(body))
	return nil
}

func (s *stubTransport) Close() error {
	s.closed = true
	return nil
}

func newStubSender(t *testing.T, conf Config) (*Sender, *stubTransport) {
	t.Helper()

	if conf.Address == "" {
		conf.Address = "localhost:9000"
	}
	if conf.Protocol == "" {
		conf.Protocol = ProtocolHTTP
	}
	s, err := New(conf)
	if err != nil {
		t.Fatalf("Could not build sender: %s", err.Error())
	}
	t.Cleanup(func() { s.Close() })

	stub := &stubTransport{}
	s.transport = stub
	return s, stub
}

func addRow(t *testing.T, s *Sender, table string) {
	t.Helper()
	if err := s.Table(table); err != nil {
		t.Fatalf("Table failed: %s", err.Error())
	}
	if err := s.Symbol("city", "London"); err != nil {
		t.Fatalf("Symbol failed: %s", err.Error())
	}
	if err := s.Float64Column("temp", 23.5); err != nil {
		t.Fatalf("Float64Column failed: %s", err.Error())
	}
	if err := s.AtNow(); err != nil {
		t.Fatalf("AtNow failed: %s", err.Error())
	}
}

func TestExplicitFlush(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true})

	addRow(t, s, "weather")
	if err := s.Table("weather"); err != nil {
		t.Fatalf("Table failed: %s", err.Error())
	}
	if err := s.Symbol("city", "Paris"); err != nil {
		t.Fatalf("Symbol failed: %s", err.Error())
	}
	// row left open: Flush must close it implicitly

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %s", err.Error())
	}

	if len(stub.flushed) != 1 {
		t.Fatalf("Expected 1 flush, got %d", len(stub.flushed))
	}
	expected := "weather,city=London temp=23.5\nweather,city=Paris\n"
	if stub.flushed[0] != expected {
		t.Errorf("Wrong flushed bytes: got %q, expected %q", stub.flushed[0], expected)
	}
	if s.Len() != 0 || s.Rows() != 0 {
		t.Errorf("Buffer must be empty after flush: len=%d rows=%d", s.Len(), s.Rows())
	}
}

func TestAutoFlushRowWatermark(t *testing.T) {
	s, stub := newStubSender(t, Config{FlushRows: 2, FlushInterval: -1})

	addRow(t, s, "weather")
	if len(stub.flushed) != 0 {
		t.Fatal("One row must not trigger the two-row watermark")
	}

	addRow(t, s, "weather")
	if len(stub.flushed) != 1 {
		t.Fatalf("Second row must trigger auto-flush, got %d flushes", len(stub.flushed))
	}
	if got := strings.Count(stub.flushed[0], "\n"); got != 2 {
		t.Errorf("Auto-flush must carry both rows, got %d lines", got)
	}
	if s.Rows() != 0 {
		t.Errorf("Buffer must be empty after auto-flush, rows=%d", s.Rows())
	}
}

func TestAutoFlushByteWatermark(t *testing.T) {
	s, stub := newStubSender(t, Config{FlushBytes: 10, FlushRows: -1, FlushInterval: -1})

	addRow(t, s, "weather") // ~30 bytes, over the watermark
	if len(stub.flushed) != 1 {
		t.Fatalf("Byte watermark must trigger auto-flush, got %d flushes", len(stub.flushed))
	}
}

func TestAutoFlushInterval(t *testing.T) {
	s, stub := newStubSender(t, Config{FlushRows: -1, FlushInterval: time.Millisecond})

	time.Sleep(5 * time.Millisecond)
	addRow(t, s, "weather")
	if len(stub.flushed) != 1 {
		t.Fatalf("Elapsed interval must trigger auto-flush on row completion, got %d flushes", len(stub.flushed))
	}
}

func TestDisableAutoFlush(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true, FlushRows: 1, FlushBytes: 1, FlushInterval: time.Nanosecond})

	addRow(t, s, "weather")
	addRow(t, s, "weather")
	if len(stub.flushed) != 0 {
		t.Fatalf("DisableAutoFlush must suppress all watermarks, got %d flushes", len(stub.flushed))
	}
}

func TestFailedFlushKeepsBuffer(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true})

	addRow(t, s, "weather")
	before := s.Len()

	stub.failNext = lineerror.NewCustom(lineerror.CodeWriteAbort, "Could not send buffer", "reset by peer")
	err := s.Flush()
	if err == nil {
		t.Fatal("Flush must surface the transport error")
	}
	if !lineerror.IsTransport(err) {
		t.Errorf("Expected a transport error, got: %s", err.Error())
	}
	if s.Len() != before {
		t.Errorf("Failed flush must keep the buffer: len %d -> %d", before, s.Len())
	}

	// retry delivers the identical bytes
	if err := s.Flush(); err != nil {
		t.Fatalf("Retry flush failed: %s", err.Error())
	}
	if len(stub.flushed) != 1 {
		t.Fatalf("Expected 1 successful flush, got %d", len(stub.flushed))
	}
	if s.Len() != 0 {
		t.Errorf("Buffer must be empty after the retry, len=%d", s.Len())
	}
}

func TestEmptyFlushResetsTimer(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true})

	if err := s.Flush(); err != nil {
		t.Fatalf("Empty flush failed: %s", err.Error())
	}
	if len(stub.flushed) != 0 {
		t.Errorf("Empty flush must not hit the transport, got %d flushes", len(stub.flushed))
	}
}

func TestSpillAndRecover(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true, SpillDir: t.TempDir()})

	addRow(t, s, "weather")
	line := string(s.buf.Bytes())

	if err := s.Spill(); err != nil {
		t.Fatalf("Spill failed: %s", err.Error())
	}
	if s.Len() != 0 {
		t.Errorf("Spill must empty the buffer, len=%d", s.Len())
	}

	if err := s.Recover(); err != nil {
		t.Fatalf("Recover failed: %s", err.Error())
	}
	if len(stub.flushed) != 1 || stub.flushed[0] != line {
		t.Errorf("Recover must resend the spilled bytes: %q", stub.flushed)
	}

	// nothing left to recover
	if err := s.Recover(); err != nil {
		t.Fatalf("Second recover failed: %s", err.Error())
	}
	if len(stub.flushed) != 1 {
		t.Errorf("Second recover must be a no-op, got %d flushes", len(stub.flushed))
	}
}

func TestRecoverKeepsFramesOnFailure(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true, SpillDir: t.TempDir()})

	addRow(t, s, "weather")
	if err := s.Spill(); err != nil {
		t.Fatalf("Spill failed: %s", err.Error())
	}

	sendErr := errors.New("still down")
	stub.failNext = sendErr
	if err := s.Recover(); !errors.Is(err, sendErr) {
		t.Fatalf("Recover must surface the transport error, got: %v", err)
	}
	if len(stub.flushed) != 0 {
		t.Fatalf("Nothing must count as flushed, got %d", len(stub.flushed))
	}

	if err := s.Recover(); err != nil {
		t.Fatalf("Second recover failed: %s", err.Error())
	}
	if len(stub.flushed) != 1 {
		t.Errorf("Frame must survive a failed recover, got %d flushes", len(stub.flushed))
	}
}

func TestSpillWithoutDirFails(t *testing.T) {
	s, _ := newStubSender(t, Config{DisableAutoFlush: true})

	addRow(t, s, "weather")
	if err := s.Spill(); err == nil {
		t.Fatal("Spill without SpillDir must fail")
	}
	if err := s.Recover(); err == nil {
		t.Fatal("Recover without SpillDir must fail")
	}
}

func TestClosedSender(t *testing.T) {
	s, stub := newStubSender(t, Config{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %s", err.Error())
	}
	if !stub.closed {
		t.Error("Close must close the transport")
	}

	if err := s.Table("weather"); err == nil {
		t.Error("Table on a closed sender must fail")
	}
	if err := s.Flush(); err == nil {
		t.Error("Flush on a closed sender must fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Double close must be a no-op, got: %s", err.Error())
	}
}

func TestValidationErrorDoesNotPoisonSender(t *testing.T) {
	s, stub := newStubSender(t, Config{DisableAutoFlush: true})

	if err := s.Table(""); err == nil {
		t.Fatal("Empty table name must be rejected")
	}
	if s.Len() != 0 {
		t.Errorf("Buffer must remain empty, len=%d", s.Len())
	}

	addRow(t, s, "weather")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush after a rejected row failed: %s", err.Error())
	}
	if len(stub.flushed) != 1 {
		t.Errorf("Expected 1 flush, got %d", len(stub.flushed))
	}
}
