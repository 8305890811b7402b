package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, func(context.Context, int) {})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), 1)
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	var delivered atomic.Int64
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64, Workers: 3}, func(context.Context, int) {
		delivered.Add(1)
	})

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), i)
	}
	d.Close()

	if got := delivered.Load(); got != 50 {
		t.Fatalf("expected 50 deliveries after close, got %d", got)
	}

	d.Emit(context.Background(), 99)
	if got := delivered.Load(); got != 50 {
		t.Fatalf("expected emits after close to be ignored, got %d", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, func(context.Context, int) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
	})

	d.Emit(context.Background(), 1)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up first item")
	}

	d.Emit(context.Background(), 2) // fills buffer
	d.Emit(context.Background(), 3) // dropped
	d.Emit(context.Background(), 4) // dropped

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 drops, got %d", got)
	}

	close(gate)
	d.Close()
}

func TestBlockingEmitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, func(context.Context, int) { <-gate })
	defer func() {
		close(gate)
		d.Close()
	}()

	d.Emit(context.Background(), 1)
	// Wait until the worker holds item 1 so the buffer slot is free.
	deadline := time.Now().Add(time.Second)
	for len(d.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, 3)

	if d.Dropped() != 1 {
		t.Fatalf("expected cancelled emit to count as dropped, got %d", d.Dropped())
	}
}

func TestEventDispatcherJSONSink(t *testing.T) {
	var buf bytes.Buffer
	d := NewEventDispatcher(Config{Enabled: true, BufferSize: 4}, NewJSONWriterSink(&buf))
	d.Emit(context.Background(), Event{EventType: "login_success", Subject: "ada@example.com", Success: true})
	d.Close()

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.EventType != "login_success" || got.Subject != "ada@example.com" || !got.Success {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", Subject: "a", Success: true})
	sink.Emit(context.Background(), Event{EventType: "account_locked", Subject: "b", Error: "account_locked", Metadata: map[string]string{"until": "x"}})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "login_success" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["until"] != "x" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if entries[1].LoggerName != "audit" {
		t.Fatalf("expected audit logger name, got %q", entries[1].LoggerName)
	}
}
