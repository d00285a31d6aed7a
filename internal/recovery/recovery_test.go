package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestRecoverWithLog(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	func() {
		defer RecoverWithLog(logger, "bridge.testPump")
		panic("boom")
	}()

	out := buf.String()
	if !strings.Contains(out, "panic recovered") {
		t.Errorf("expected panic log, got: %s", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Errorf("expected panic value under error key, got: %s", out)
	}
	if !strings.Contains(out, "component=bridge.testPump") {
		t.Errorf("expected component in log, got: %s", out)
	}
}

func TestRecoverWithLog_NoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	func() {
		defer RecoverWithLog(logger, "quiet")
	}()

	if buf.Len() != 0 {
		t.Errorf("expected no output without panic, got: %s", buf.String())
	}
}

func TestRecoverWithCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	var recovered any
	func() {
		defer RecoverWithCallback(logger, "cb", func(r any) {
			recovered = r
		})
		panic("with callback")
	}()

	if recovered != "with callback" {
		t.Errorf("callback got %v, want %q", recovered, "with callback")
	}
}

func TestRecoverWithCallback_NilCallback(t *testing.T) {
	logger := captureLogger(&bytes.Buffer{})

	// Must not panic on nil callback
	func() {
		defer RecoverWithCallback(logger, "nilcb", nil)
		panic("ignored callback")
	}()
}
