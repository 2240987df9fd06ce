//go:build windows

package hooks

import "testing"

func TestGroupsCoverEveryHookExactlyOnce(t *testing.T) {
	seen := make(map[string]bool)
	for _, group := range groups() {
		for _, spec := range group {
			key := spec.Module + "!" + spec.Function
			if seen[key] {
				t.Fatalf("%s is hooked by more than one group", key)
			}
			seen[key] = true
			if spec.Hook == 0 {
				t.Fatalf("%s has a nil hook callback", key)
			}
		}
	}
	for _, want := range []string{
		"user32.dll!GetKeyboardState",
		"kernel32.dll!Sleep",
		"kernel32.dll!GetTickCount",
		"user32.dll!RegisterClassExA",
		"user32.dll!PeekMessageA",
		"kernel32.dll!CloseHandle",
		"kernel32.dll!LoadLibraryA",
		"kernel32.dll!CreateWaitableTimerExA",
		"kernel32.dll!SetWaitableTimer",
	} {
		if !seen[want] {
			t.Fatalf("expected %s to be hooked, it wasn't", want)
		}
	}
}
