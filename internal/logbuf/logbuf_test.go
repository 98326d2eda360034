package logbuf

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestLogger(buf *Buffer) *slog.Logger {
	base := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(buf.Handler(base))
}

func TestBufferCapturesRecords(t *testing.T) {
	buf := NewBuffer(16)
	logger := newTestLogger(buf)

	logger.Info("hello", slog.String("component", "wyoming-server"), slog.String("addr", ":10200"))
	logger.Warn("careful")

	records := buf.Query(time.Time{}, slog.LevelDebug, "", 0)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Message != "hello" || records[0].Category != "wyoming-server" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[0].Attrs["addr"] != ":10200" {
		t.Fatalf("attrs not captured: %+v", records[0].Attrs)
	}
}

func TestBufferRingEviction(t *testing.T) {
	buf := NewBuffer(4)
	logger := newTestLogger(buf)
	for i := 0; i < 10; i++ {
		logger.Info("msg", slog.Int("i", i))
	}
	records := buf.Query(time.Time{}, slog.LevelDebug, "", 0)
	if len(records) != 4 {
		t.Fatalf("ring should hold 4, got %d", len(records))
	}
	if records[0].Attrs["i"] != "6" || records[3].Attrs["i"] != "9" {
		t.Fatalf("oldest-first ordering broken: %+v", records)
	}
}

func TestQueryFilters(t *testing.T) {
	buf := NewBuffer(16)
	logger := newTestLogger(buf)
	logger.Debug("noise", slog.String("component", "a"))
	logger.Info("keep", slog.String("component", "b"))
	logger.Error("bad", slog.String("component", "b"))

	records := buf.Query(time.Time{}, slog.LevelInfo, "b", 0)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	records = buf.Query(time.Time{}, slog.LevelError, "", 0)
	if len(records) != 1 || records[0].Message != "bad" {
		t.Fatalf("level filter broken: %+v", records)
	}
	records = buf.Query(time.Time{}, slog.LevelDebug, "", 2)
	if len(records) != 2 {
		t.Fatalf("maxCount not honored: %d", len(records))
	}
}

func TestWithAttrsPropagates(t *testing.T) {
	buf := NewBuffer(8)
	logger := newTestLogger(buf).With(slog.String("component", "tts"))
	logger.Info("unit spoken")
	records := buf.Query(time.Time{}, slog.LevelDebug, "tts", 0)
	if len(records) != 1 {
		t.Fatalf("component from With not applied: %+v", buf.Query(time.Time{}, slog.LevelDebug, "", 0))
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseSince("2026-03-01T11:30:00.250Z", now)
	if err != nil {
		t.Fatalf("iso: %v", err)
	}
	if got.UTC() != time.Date(2026, 3, 1, 11, 30, 0, 250_000_000, time.UTC) {
		t.Fatalf("iso parsed to %v", got)
	}

	got, err = ParseSince("1767225600", now)
	if err != nil {
		t.Fatalf("unix: %v", err)
	}
	if got.Unix() != 1767225600 {
		t.Fatalf("unix parsed to %v", got)
	}

	got, err = ParseSince("15m", now)
	if err != nil {
		t.Fatalf("relative: %v", err)
	}
	if !got.Equal(now.Add(-15 * time.Minute)) {
		t.Fatalf("relative parsed to %v", got)
	}

	if _, err := ParseSince("yesterday", now); err == nil {
		t.Fatal("expected error for invalid grammar")
	}
	if got, err := ParseSince("", now); err != nil || !got.IsZero() {
		t.Fatalf("empty since should be zero time, got %v %v", got, err)
	}
}
