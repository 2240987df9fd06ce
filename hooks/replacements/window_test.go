//go:build windows

package replacements

import (
	"testing"
	"unsafe"

	"tasharness/hooks/state"
)

func TestWindowProcedureFiltersFocusMessages(t *testing.T) {
	for _, message := range []uintptr{wmSetFocus, wmKillFocus, wmActivate, wmActivateApp} {
		// trampoline is deliberately 0: a filtered message must return
		// without ever dereferencing it.
		if got := windowProcedure(0, 1, message, 0, 0); got != 0 {
			t.Fatalf("windowProcedure(%#x) = %d, want 0", message, got)
		}
	}
}

func TestPeekMessageServesCustomMessageAheadOfReal(t *testing.T) {
	state.EnqueueCustomMessage(state.CustomMessage{Window: 7, Message: 0x4000, WParam: 1, LParam: 2})

	var out msg
	r := peekMessage(uintptr(unsafe.Pointer(&out)), 0, 0, 0, pmRemove, "PeekMessageA")
	if r != 1 {
		t.Fatalf("peekMessage() = %d, want 1", r)
	}
	if out.hwnd != 7 || out.message != 0x4000 || out.wParam != 1 || out.lParam != 2 {
		t.Fatalf("peekMessage() populated %+v unexpectedly", out)
	}

	// pmRemove was set, so the message must not be served again.
	if _, ok := state.TakeCustomMessage(7, 0x4000, 0x4000); ok {
		t.Fatalf("custom message should have been consumed")
	}
}

func TestPeekMessageWithoutRemoveFlagReQueuesMessage(t *testing.T) {
	state.EnqueueCustomMessage(state.CustomMessage{Window: 9, Message: 0x5000})

	var out msg
	peekMessage(uintptr(unsafe.Pointer(&out)), 0, 0, 0, 0, "PeekMessageA")

	if _, ok := state.TakeCustomMessage(9, 0x5000, 0x5000); !ok {
		t.Fatalf("message without pmRemove should still be queued")
	}
}

func TestPeekMessageWithoutMatchAndNoTrampolineReturnsZero(t *testing.T) {
	var out msg
	r := peekMessage(uintptr(unsafe.Pointer(&out)), 123, 1, 1, pmRemove, "PeekMessageA")
	if r != 0 {
		t.Fatalf("peekMessage() = %d, want 0 (no custom message, no trampoline registered)", r)
	}
}

func TestGetMessageReturnsZeroOnQuit(t *testing.T) {
	state.EnqueueCustomMessage(state.CustomMessage{Window: 1, Message: wmQuit})

	var out msg
	r := getMessage(uintptr(unsafe.Pointer(&out)), 0, 0, 0, peekMessageA)
	if r != 0 {
		t.Fatalf("getMessage() with WM_QUIT = %d, want 0", r)
	}
}

func TestGetMessageReturnsOneForOrdinaryMessage(t *testing.T) {
	state.EnqueueCustomMessage(state.CustomMessage{Window: 1, Message: 0x6000})

	var out msg
	r := getMessage(uintptr(unsafe.Pointer(&out)), 0, 0, 0, peekMessageA)
	if r != 1 {
		t.Fatalf("getMessage() with an ordinary message = %d, want 1", r)
	}
}
