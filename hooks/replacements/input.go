//go:build windows

package replacements

import (
	"syscall"
	"unsafe"

	"tasharness/hooks/detour"
	"tasharness/hooks/state"
)

// InputHooks replaces every keyboard-state query with a read from the
// emulated key state the conductor's SetKeyState command writes to.
func InputHooks() []detour.Spec {
	return []detour.Spec{
		{Module: "user32.dll", Function: "GetKeyboardState", Hook: syscall.NewCallback(getKeyboardState)},
		{Module: "user32.dll", Function: "GetKeyState", Hook: syscall.NewCallback(getKeyState)},
		{Module: "user32.dll", Function: "GetAsyncKeyState", Hook: syscall.NewCallback(getKeyState)},
	}
}

func getKeyboardState(keyStates uintptr) uintptr {
	out := unsafe.Slice((*byte)(unsafe.Pointer(keyStates)), 256)
	for i := 0; i < 256; i++ {
		var b byte
		if state.GetKeyState(uint8(i)) {
			b = 1 << 7
		}
		out[i] = b
	}
	return 1
}

func getKeyState(id uintptr) uintptr {
	if state.GetKeyState(uint8(id)) {
		return 1 << 15
	}
	return 0
}
