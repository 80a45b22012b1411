package xlog

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func newCapturingLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := &Logger{prefix: "[test] ", std: log.New(buf, "", 0)}
	return l, buf
}

func TestDebugIsSuppressedBelowDebugLevel(t *testing.T) {
	SetLevel(LevelInfo)
	defer SetLevel(LevelInfo)

	l, buf := newCapturingLogger()
	l.Debug("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected no output at LevelInfo, got %q", buf.String())
	}
}

func TestDebugIsEmittedAtDebugLevel(t *testing.T) {
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	l, buf := newCapturingLogger()
	l.Debug("shown %d", 1)
	if !strings.Contains(buf.String(), "shown 1") {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}

func TestTraceRequiresTraceLevel(t *testing.T) {
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	l, buf := newCapturingLogger()
	l.Trace("trace msg")
	if buf.Len() != 0 {
		t.Fatalf("expected trace to stay silent at LevelDebug, got %q", buf.String())
	}

	SetLevel(LevelTrace)
	l.Trace("trace msg")
	if !strings.Contains(buf.String(), "trace msg") {
		t.Fatalf("expected trace output at LevelTrace, got %q", buf.String())
	}
}

func TestInfoWarnErrorAlwaysEmit(t *testing.T) {
	l, buf := newCapturingLogger()
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
	out := buf.String()
	for _, want := range []string{"INFO", "WARN", "ERROR", "[test]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}
