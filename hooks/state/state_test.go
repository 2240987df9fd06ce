package state

import (
	"sync"
	"testing"
	"time"
)

// condEvent is a channel-free Event for tests: Wait blocks until Set is
// called (or returns immediately if already signaled), exactly like the
// manual-reset event it stands in for.
type condEvent struct {
	mu       sync.Mutex
	cond     *sync.Cond
	signaled bool
}

func newCondEvent() *condEvent {
	e := &condEvent{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *condEvent) Set() error {
	e.mu.Lock()
	e.signaled = true
	e.cond.Broadcast()
	e.mu.Unlock()
	return nil
}

func (e *condEvent) Reset() error {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
	return nil
}

func (e *condEvent) Wait() error {
	e.mu.Lock()
	for !e.signaled {
		e.cond.Wait()
	}
	e.mu.Unlock()
	return nil
}

// resetGlobal gives each test a clean slate; the package's state is a
// process-lifetime singleton in production, but tests must not leak
// into one another.
func resetGlobal(t *testing.T) {
	t.Helper()
	global = state{waitableTimers: make(map[uint32]*WaitableTimer)}
	TicksPendingEvent = noopEvent{}
	TicksDrainedEvent = noopEvent{}
	IdleHook = nil
}

func TestSleepConsumesAvailablePendingTicks(t *testing.T) {
	resetGlobal(t)
	AddPendingTicks(100)
	Sleep(40)
	if got := Ticks(); got != 40 {
		t.Fatalf("Ticks() = %d, want 40", got)
	}
}

func TestSleepBlocksUntilMoreTicksGranted(t *testing.T) {
	resetGlobal(t)
	event := newCondEvent()
	TicksPendingEvent = event

	idled := make(chan struct{}, 1)
	IdleHook = func() {
		select {
		case idled <- struct{}{}:
		default:
		}
	}

	AddPendingTicks(10)

	done := make(chan struct{})
	go func() {
		Sleep(30) // only 10 available; must wait for 20 more
		close(done)
	}()

	<-idled // Sleep observed an empty pending pool and reported idleness

	AddPendingTicks(20)
	<-done

	if got := Ticks(); got != 30 {
		t.Fatalf("Ticks() = %d, want 30", got)
	}
}

func TestGetTicksWithBusyWaitNudgesClockForward(t *testing.T) {
	resetGlobal(t)
	var last uint64
	for i := 0; i < 100; i++ {
		last = GetTicksWithBusyWait()
	}
	want := TicksPerSecond / 60
	if last != want {
		t.Fatalf("GetTicksWithBusyWait() after 100 calls = %d, want %d", last, want)
	}
}

func TestGetTicksWithBusyWaitDoesNotAdvanceWithPendingTicks(t *testing.T) {
	resetGlobal(t)
	AddPendingTicks(5)
	for i := 0; i < 100; i++ {
		GetTicksWithBusyWait()
	}
	if got := Ticks(); got != 0 {
		t.Fatalf("Ticks() = %d, want 0 (pending ticks should suppress the busy-wait nudge)", got)
	}
}

func TestWaitUntilDrainedReturnsImmediatelyWhenNothingPending(t *testing.T) {
	resetGlobal(t)
	done := make(chan struct{})
	go func() {
		WaitUntilDrained()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitUntilDrained blocked with no pending ticks")
	}
}

func TestWaitUntilDrainedBlocksUntilSleepConsumesEverything(t *testing.T) {
	resetGlobal(t)
	event := newCondEvent()
	TicksPendingEvent = event
	TicksDrainedEvent = newCondEvent()

	AddPendingTicks(10)

	done := make(chan struct{})
	go func() {
		WaitUntilDrained()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("WaitUntilDrained returned before the pending ticks were consumed")
	case <-time.After(20 * time.Millisecond):
	}

	Sleep(10)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitUntilDrained did not return after Sleep drained everything")
	}
}

func TestKeyState(t *testing.T) {
	resetGlobal(t)
	if GetKeyState(65) {
		t.Fatalf("key 65 should start released")
	}
	SetKeyState(65, true)
	if !GetKeyState(65) {
		t.Fatalf("key 65 should be pressed")
	}
	SetKeyState(65, false)
	if GetKeyState(65) {
		t.Fatalf("key 65 should be released again")
	}
}

func TestMouseState(t *testing.T) {
	resetGlobal(t)
	SetMousePosition(12, 34)
	x, y := MousePosition()
	if x != 12 || y != 34 {
		t.Fatalf("MousePosition() = (%d, %d), want (12, 34)", x, y)
	}
	SetMouseButtonState(0, true)
	SetMouseButtonState(99, true) // out of range, must not panic or corrupt state
}

func TestWaitableTimerRegistry(t *testing.T) {
	resetGlobal(t)
	if _, ok := WaitableTimerByHandle(7); ok {
		t.Fatalf("unregistered handle should not be found")
	}
	timer := &WaitableTimer{PeriodInTicks: 10}
	RegisterWaitableTimer(7, timer)
	got, ok := WaitableTimerByHandle(7)
	if !ok || got != timer {
		t.Fatalf("WaitableTimerByHandle(7) = %v, %v, want %v, true", got, ok, timer)
	}
	if !timer.Running() {
		t.Fatalf("timer with nonzero period should report Running")
	}
}

func TestCustomMessageQueueExactMatch(t *testing.T) {
	resetGlobal(t)
	EnqueueCustomMessage(CustomMessage{Window: 1, Message: 0x100})
	EnqueueCustomMessage(CustomMessage{Window: 2, Message: 0x200})

	m, ok := TakeCustomMessage(1, 0x100, 0x100)
	if !ok || m.Window != 1 {
		t.Fatalf("TakeCustomMessage(1, ...) = %v, %v", m, ok)
	}
	if _, ok := TakeCustomMessage(1, 0x100, 0x100); ok {
		t.Fatalf("message should have been consumed")
	}
}

func TestCustomMessageQueueWildcardRange(t *testing.T) {
	resetGlobal(t)
	EnqueueCustomMessage(CustomMessage{Window: 5, Message: 0xabcd})

	// zero/zero range means "match any message id", per the custom
	// message queue's documented wildcard semantics.
	m, ok := TakeCustomMessage(5, 0, 0)
	if !ok || m.Message != 0xabcd {
		t.Fatalf("TakeCustomMessage with wildcard range = %v, %v", m, ok)
	}
}

func TestCustomMessageQueueAnyWindow(t *testing.T) {
	resetGlobal(t)
	EnqueueCustomMessage(CustomMessage{Window: 42, Message: 1})

	m, ok := TakeCustomMessage(0, 1, 1)
	if !ok || m.Window != 42 {
		t.Fatalf("TakeCustomMessage(0, ...) should match any window, got %v, %v", m, ok)
	}
}
