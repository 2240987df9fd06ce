//go:build windows

package conductor

import (
	"log"
	"testing"

	"tasharness/ipc"
)

func TestNewDefaultsToPhaseCreated(t *testing.T) {
	c := New("target.exe", "hooks.dll", nil)
	if got := c.Phase(); got != PhaseCreated {
		t.Fatalf("Phase() = %v, want %v", got, PhaseCreated)
	}
	if c.logger == nil {
		t.Fatalf("New(..., nil) should default to a non-nil logger")
	}
}

func TestNewKeepsProvidedLogger(t *testing.T) {
	logger := log.Default()
	c := New("target.exe", "hooks.dll", logger)
	if c.logger != logger {
		t.Fatalf("New() did not keep the provided logger")
	}
}

func TestSetPhaseIsObservedByPhase(t *testing.T) {
	c := New("target.exe", "hooks.dll", nil)
	for _, phase := range []Phase{PhaseInjected, PhaseInitialized, PhaseRunning, PhaseIdle, PhaseExited} {
		c.setPhase(phase)
		if got := c.Phase(); got != phase {
			t.Fatalf("Phase() = %v after setPhase(%v)", got, phase)
		}
	}
}

func TestLogLevelName(t *testing.T) {
	cases := map[ipc.LogLevel]string{
		ipc.LogLevelTrace:   "trace",
		ipc.LogLevelDebug:   "debug",
		ipc.LogLevelInfo:    "info",
		ipc.LogLevelWarning: "warning",
		ipc.LogLevelError:   "error",
		ipc.LogLevel(99):    "unknown",
	}
	for level, want := range cases {
		if got := logLevelName(level); got != want {
			t.Errorf("logLevelName(%d) = %q, want %q", level, got, want)
		}
	}
}
