//go:build windows

package replacements

import (
	"syscall"

	"tasharness/hooks/detour"
	"tasharness/hooks/state"
)

const (
	waitObject0      = 0
	waitTimeout      = 0x102
	invalidSocket    = ^uintptr(0)
	ntStatusSuccess  = 0
	threadHideFromDbg = 0x11
)

// MiscHooks covers everything that doesn't fit a clock/input/window
// grouping: handle leaking (so a restored snapshot still has live
// handles to hand back), waitable-timer waits, network disablement, and
// the anti-debug thread-hiding syscall.
func MiscHooks() []detour.Spec {
	return []detour.Spec{
		{Module: "kernel32.dll", Function: "CloseHandle", Hook: syscall.NewCallback(closeHandle)},
		{Module: "kernel32.dll", Function: "WaitForSingleObject", Hook: syscall.NewCallback(waitForSingleObject)},
		{Module: "ws2_32.dll", Function: "socket", Hook: syscall.NewCallback(socket)},
		{Module: "ntdll.dll", Function: "NtSetInformationThread", Hook: syscall.NewCallback(ntSetInformationThread)},
	}
}

// closeHandle leaks every handle instead of closing it: a restored
// snapshot needs handles opened before the save point to still be
// valid, and there is no way to re-open most of them after the fact.
func closeHandle(uintptr) uintptr { return 1 }

func waitForSingleObject(object, timeoutMilliseconds uintptr) uintptr {
	timer, ok := state.WaitableTimerByHandle(uint32(object))
	if !ok {
		r, _ := callTrampoline("WaitForSingleObject", object, timeoutMilliseconds)
		return r
	}

	timeoutTicks := uint64(timeoutMilliseconds) * state.TicksPerSecond / 1000
	var sleepTicks uint64
	switch {
	case timer.Signaled:
		sleepTicks = 0
	case timer.Running():
		sleepTicks = min(timeoutTicks, timer.RemainingTicks)
	default:
		sleepTicks = timeoutTicks
	}
	state.Sleep(sleepTicks)
	state.AdvanceWaitableTimer(uint32(object), sleepTicks)

	if timer.Signaled {
		if timer.ResetAutomatically {
			timer.Signaled = false
		}
		return waitObject0
	}
	return waitTimeout
}

func socket(addressFamily, socketType, protocol uintptr) uintptr {
	return invalidSocket
}

func ntSetInformationThread(thread, informationClass, information, informationLength uintptr) uintptr {
	if informationClass == threadHideFromDbg {
		return ntStatusSuccess
	}
	r, _ := callTrampoline("NtSetInformationThread", thread, informationClass, information, informationLength)
	return r
}
