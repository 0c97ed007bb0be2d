package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, event Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, event)
	s.mu.Unlock()
}

type recordingSink struct {
	mu  sync.Mutex
	got []Event
}

func (s *recordingSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	s.got = append(s.got, event)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestDispatcherDisabledIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherSyncDeliversInline(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, Async: false}, sink)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{EventType: "verification_success"})

	if sink.len() != 1 {
		t.Fatalf("expected inline delivery even with cancelled ctx, got %d events", sink.len())
	}
}

func TestDispatcherAsyncDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, Async: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "backup_code_used"})
	}
	d.Close()

	if sink.len() != 10 {
		t.Fatalf("expected 10 drained events, got %d", sink.len())
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if sink.len() != 10 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, Async: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the blocked sink, one fills the buffer.
	d.Emit(context.Background(), Event{EventType: "a"})
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "b"})
	d.Emit(context.Background(), Event{EventType: "c"})
	d.Emit(context.Background(), Event{EventType: "d"})

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}

	close(sink.release)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "device_trust_granted", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "device_trust_revoked", UserID: "u1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.EventType != "device_trust_granted" || first.UserID != "u1" {
		t.Fatalf("unexpected event %+v", first)
	}
}

func TestFanoutSinkSkipsNil(t *testing.T) {
	a := &recordingSink{}
	b := NewChannelSink(1)
	FanoutSink{a, nil, b}.Emit(context.Background(), Event{EventType: "x"})

	if a.len() != 1 {
		t.Fatal("expected first sink to receive event")
	}
	select {
	case ev := <-b.Events():
		if ev.EventType != "x" {
			t.Fatalf("unexpected event %q", ev.EventType)
		}
	default:
		t.Fatal("expected channel sink to receive event")
	}
}

type panickingSink struct{}

func (panickingSink) Emit(context.Context, Event) {
	panic("sink failure")
}

func TestDispatcherIsolatesPanickingSink(t *testing.T) {
	after := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true}, panickingSink{}, nil, after)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "lockout_triggered"})

	if after.len() != 1 {
		t.Fatalf("expected the next sink to receive the event, got %d", after.len())
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", d.Dropped())
	}
}

type requestKey struct{}

type contextSink struct {
	mu          sync.Mutex
	requestIDs  []string
	hadDeadline bool
}

func (s *contextSink) Emit(ctx context.Context, _ Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := ctx.Value(requestKey{}).(string)
	s.requestIDs = append(s.requestIDs, id)
	_, s.hadDeadline = ctx.Deadline()
}

func TestDispatcherAsyncKeepsRequestValuesAndBoundsDelivery(t *testing.T) {
	sink := &contextSink{}
	d := NewDispatcher(Config{Enabled: true, Async: true, BufferSize: 4, DeliveryTimeout: time.Second}, sink)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), requestKey{}, "req-1"))
	d.Emit(ctx, Event{EventType: "verification_failure"})
	cancel()
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.requestIDs) != 1 || sink.requestIDs[0] != "req-1" {
		t.Fatalf("request values lost in async delivery: %v", sink.requestIDs)
	}
	if !sink.hadDeadline {
		t.Fatal("expected the delivery timeout on the sink context")
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, Async: true, BufferSize: 2}, sink)
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	d.Close()
	if sink.len() != 1 {
		t.Fatalf("expected 1 event, got %d", sink.len())
	}
}
