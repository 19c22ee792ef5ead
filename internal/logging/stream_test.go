package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestRingBuffer_Recent(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Entry{Message: fmt.Sprintf("m%d", i)})
	}

	got := rb.Recent(10)
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].Message != want {
			t.Errorf("Entry %d: expected %s, got %s", i, want, got[i].Message)
		}
	}

	last := rb.Recent(1)
	if len(last) != 1 || last[0].Message != "m4" {
		t.Errorf("Expected newest entry, got %+v", last)
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	ch := rb.Subscribe()

	rb.Add(Entry{Message: "hello"})

	select {
	case e := <-ch:
		if e.Message != "hello" {
			t.Errorf("Expected hello, got %s", e.Message)
		}
	default:
		t.Error("Expected entry on subscription channel")
	}

	rb.Unsubscribe(ch)
	rb.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}
}

func TestStreamHandler_CapturesComponentAndAttrs(t *testing.T) {
	rb := NewRingBuffer(10)
	var out bytes.Buffer
	logger, _ := Setup(&out, "json", "info", rb)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	logger.With("component", "session").Info("Camera opened", "source", "0")
	logger.Debug("hidden")

	entries := rb.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Component != "session" || e.Message != "Camera opened" || e.Level != "INFO" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.Attrs["source"] != "0" {
		t.Errorf("Expected source attr, got %+v", e.Attrs)
	}
	if !strings.Contains(out.String(), `"msg":"Camera opened"`) {
		t.Errorf("Expected JSON output, got %s", out.String())
	}
}

func TestSetup_LevelVar(t *testing.T) {
	rb := NewRingBuffer(10)
	logger, lv := Setup(&bytes.Buffer{}, "text", "warn", rb)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	logger.Info("dropped")
	lv.Set(slog.LevelDebug)
	logger.Debug("kept")

	entries := rb.Recent(0)
	if len(entries) != 1 || entries[0].Message != "kept" {
		t.Errorf("Expected only the record logged after lowering the level, got %+v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
