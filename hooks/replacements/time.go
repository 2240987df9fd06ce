//go:build windows

// Package replacements holds the actual hook bodies installed by
// package hooks: every virtualized Win32 API the harness intercepts,
// grouped the way the original groups them (time, input, window,
// misc, library-load).
package replacements

import (
	"syscall"
	"unsafe"

	"tasharness/hooks/detour"
	"tasharness/hooks/state"
)

// simulatedPerformanceCounterFrequency is an arbitrary large frequency
// so QueryPerformanceCounter-based timing code gets plenty of
// resolution against the virtual clock.
const simulatedPerformanceCounterFrequency uint64 = 1 << 32

// manualResetTimer is the CREATE_WAITABLE_TIMER_MANUAL_RESET flag bit,
// shared by both CreateWaitableTimerA/W's boolean parameter (translated
// to this flag) and CreateWaitableTimerEx(A/W)'s flags parameter.
const manualResetTimer = 0x1

// TimeHooks is every kernel32/winmm export replaced with a
// virtual-clock-driven equivalent.
func TimeHooks() []detour.Spec {
	return []detour.Spec{
		{Module: "kernel32.dll", Function: "Sleep", Hook: syscall.NewCallback(sleep)},
		{Module: "kernel32.dll", Function: "GetTickCount", Hook: syscall.NewCallback(getTickCount)},
		{Module: "kernel32.dll", Function: "GetTickCount64", Hook: syscall.NewCallback(getTickCount64)},
		{Module: "winmm.dll", Function: "timeGetTime", Hook: syscall.NewCallback(getTickCount)},
		{Module: "kernel32.dll", Function: "QueryPerformanceFrequency", Hook: syscall.NewCallback(queryPerformanceFrequency)},
		{Module: "kernel32.dll", Function: "QueryPerformanceCounter", Hook: syscall.NewCallback(queryPerformanceCounter)},
		{Module: "kernel32.dll", Function: "GetSystemTimeAsFileTime", Hook: syscall.NewCallback(getSystemTimeAsFileTime)},
		{Module: "kernel32.dll", Function: "GetSystemTimePreciseAsFileTime", Hook: syscall.NewCallback(getSystemTimeAsFileTime)},
		{Module: "kernel32.dll", Function: "CreateWaitableTimerA", Hook: syscall.NewCallback(createWaitableTimerA)},
		{Module: "kernel32.dll", Function: "CreateWaitableTimerW", Hook: syscall.NewCallback(createWaitableTimerW)},
		{Module: "kernel32.dll", Function: "CreateWaitableTimerExA", Hook: syscall.NewCallback(createWaitableTimerExA)},
		{Module: "kernel32.dll", Function: "CreateWaitableTimerExW", Hook: syscall.NewCallback(createWaitableTimerExW)},
		{Module: "kernel32.dll", Function: "SetWaitableTimer", Hook: syscall.NewCallback(setWaitableTimer)},
		{Module: "kernelbase.dll", Function: "SetWaitableTimerEx", Hook: syscall.NewCallback(setWaitableTimerEx)},
	}
}

func sleep(milliseconds uintptr) uintptr {
	state.Sleep(uint64(milliseconds) * state.TicksPerSecond / 1000)
	return 0
}

func getTickCount() uintptr {
	return uintptr(state.GetTicksWithBusyWait() * 1000 / state.TicksPerSecond)
}

func getTickCount64() uintptr {
	return uintptr(state.GetTicksWithBusyWait() * 1000 / state.TicksPerSecond)
}

func queryPerformanceFrequency(frequency uintptr) uintptr {
	*(*int64)(unsafe.Pointer(frequency)) = int64(simulatedPerformanceCounterFrequency)
	return 1
}

func queryPerformanceCounter(count uintptr) uintptr {
	ticks := state.GetTicksWithBusyWait()
	counter := ticks * simulatedPerformanceCounterFrequency / state.TicksPerSecond
	*(*int64)(unsafe.Pointer(count)) = int64(counter)
	return 1
}

func getSystemTimeAsFileTime(fileTime uintptr) uintptr {
	ticks := state.GetTicksWithBusyWait()
	hundredNanosecondIntervals := ticks * 10_000_000 / state.TicksPerSecond
	low := uint32(hundredNanosecondIntervals & 0xFFFFFFFF)
	high := uint32(hundredNanosecondIntervals >> 32)
	*(*uint32)(unsafe.Pointer(fileTime)) = low
	*(*uint32)(unsafe.Pointer(fileTime + 4)) = high
	return 0
}

// timerAllAccess is TIMER_ALL_ACCESS, the access mask CreateWaitableTimerA/W
// request from CreateWaitableTimerEx on the caller's behalf.
const timerAllAccess = 0x1F0003

func createWaitableTimerA(securityAttributes, manualReset, timerName uintptr) uintptr {
	return createWaitableTimer("CreateWaitableTimerExA", securityAttributes, timerName, manualResetFlag(manualReset), timerAllAccess)
}

func createWaitableTimerW(securityAttributes, manualReset, timerName uintptr) uintptr {
	return createWaitableTimer("CreateWaitableTimerExW", securityAttributes, timerName, manualResetFlag(manualReset), timerAllAccess)
}

func createWaitableTimerExA(securityAttributes, timerName, flags, desiredAccess uintptr) uintptr {
	return createWaitableTimer("CreateWaitableTimerExA", securityAttributes, timerName, flags, desiredAccess)
}

func createWaitableTimerExW(securityAttributes, timerName, flags, desiredAccess uintptr) uintptr {
	return createWaitableTimer("CreateWaitableTimerExW", securityAttributes, timerName, flags, desiredAccess)
}

func manualResetFlag(manualReset uintptr) uintptr {
	if manualReset == 1 {
		return manualResetTimer
	}
	return 0
}

// createWaitableTimer forwards to the real CreateWaitableTimerEx(A/W)
// so the returned handle is a genuine kernel object (WaitForSingleObject
// still needs one to wait on), then starts tracking it so the
// WaitForSingleObject hook can drive it from the virtual clock instead
// of a real due time.
func createWaitableTimer(trampolineName string, securityAttributes, timerName, flags, desiredAccess uintptr) uintptr {
	handle, ok := callTrampoline(trampolineName, securityAttributes, timerName, flags, desiredAccess)
	if !ok || handle == 0 {
		return 0
	}
	state.RegisterWaitableTimer(uint32(handle), &state.WaitableTimer{
		ResetAutomatically: flags&manualResetTimer == 0,
	})
	return handle
}

func setWaitableTimer(timer, dueTime, period, completionRoutine, completionRoutineArgument, resume uintptr) uintptr {
	r, ok := callTrampoline("SetWaitableTimer", timer, dueTime, period, completionRoutine, completionRoutineArgument, resume)
	if !ok {
		return 0
	}
	if r != 0 {
		armWaitableTimer(timer, dueTime, period)
	}
	return r
}

func setWaitableTimerEx(timer, dueTime, period, completionRoutine, completionRoutineArgument, wakeContext, tolerableDelay uintptr) uintptr {
	r, ok := callTrampoline("SetWaitableTimerEx", timer, dueTime, period, completionRoutine, completionRoutineArgument, wakeContext, tolerableDelay)
	if !ok {
		return 0
	}
	if r != 0 {
		armWaitableTimer(timer, dueTime, period)
	}
	return r
}

// armWaitableTimer reads the caller's LARGE_INTEGER due time out of the
// target's own memory (dueTime is a pointer, not a value, in the real
// Win32 signature) and rearms the tracked timer from it.
func armWaitableTimer(timer, dueTime, period uintptr) {
	dueTimeValue := *(*int64)(unsafe.Pointer(dueTime))
	state.ArmWaitableTimer(uint32(timer), dueTimeValue, int32(period))
}

// callTrampoline invokes a previously saved trampoline by name as a raw
// stdcall thunk, padding args out to the 12-slot Syscall12 the stdlib
// exposes for windows stdcall dispatch since the real arity varies hook
// to hook.
func callTrampoline(name string, args ...uintptr) (uintptr, bool) {
	addr, ok := detour.Trampoline(name)
	if !ok {
		return 0, false
	}
	return callStdcall(addr, args...), true
}

func callStdcall(addr uintptr, args ...uintptr) uintptr {
	var a [12]uintptr
	copy(a[:], args)
	r, _, _ := syscall.Syscall12(addr, uintptr(len(args)),
		a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8], a[9], a[10], a[11])
	return r
}
