package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debugf("debug message")
	l.Infof("info message")
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info to be filtered at WARN level, got %q", buf.String())
	}

	l.Warnf("warn message")
	if !strings.Contains(buf.String(), "WARN warn message") {
		t.Fatalf("expected warn message in output, got %q", buf.String())
	}
}

func TestFatalfInvokesHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelError)

	var got string
	l.SetFatalHandler(func(msg string) { got = msg })
	l.Fatalf("manifest inconsistent: %s", "missing table 7")

	if got != "manifest inconsistent: missing table 7" {
		t.Fatalf("fatal handler got %q", got)
	}
	if !strings.Contains(buf.String(), "FATAL manifest inconsistent") {
		t.Fatalf("expected FATAL line in output, got %q", buf.String())
	}
}

func TestFatalfDoesNotExitProcess(t *testing.T) {
	// If Fatalf called os.Exit, this test would never report its result.
	Discard.Fatalf("this must not terminate the test binary")
}

func TestIsNilDetectsTypedNil(t *testing.T) {
	var dl *DefaultLogger
	var l Logger = dl
	if !IsNil(l) {
		t.Fatal("expected IsNil to detect typed-nil *DefaultLogger")
	}
	if IsNil(Discard) {
		t.Fatal("Discard must not be considered nil")
	}
}

func TestOrDefaultReplacesNil(t *testing.T) {
	l := OrDefault(nil)
	if l == nil {
		t.Fatal("OrDefault(nil) must not return nil")
	}
	var dl *DefaultLogger
	l = OrDefault(dl)
	if l == nil {
		t.Fatal("OrDefault(typed-nil) must not return nil")
	}
}
