//go:build windows

package hooks

import (
	"context"
	"fmt"
	"sync"

	"tasharness/hooks/state"
	"tasharness/ipc"
	"tasharness/pal/windows/process"
	"tasharness/pal/windows/thread"
	"tasharness/snapshot"
)

var (
	savedStateMu sync.Mutex
	savedState   *snapshot.Snapshot
)

// saveState captures the target's own process — the hooks library runs
// inside it, so "saving the target" and "saving ourselves" are the same
// operation from in here.
func saveState() error {
	s, err := snapshot.Capture(process.Current())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	savedStateMu.Lock()
	savedState = s
	savedStateMu.Unlock()
	return nil
}

func loadState() error {
	savedStateMu.Lock()
	s := savedState
	savedStateMu.Unlock()
	if s == nil {
		return nil
	}
	if err := s.Restore(process.Current()); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	return nil
}

// Dispatch runs the command loop forever on the calling thread: every
// FromConductor command received over receiver is applied to
// hooks/state (or, for Resume, to the target's own threads)
// immediately, on the dispatch thread, rather than queued. AdvanceTime
// only adds to the pending-tick pool that hooks/state.Sleep consumes on
// the target's own threads, and IdleRequest blocks this thread until
// that pool has drained.
func Dispatch(ctx context.Context, receiver *ipc.Receiver[ipc.FromConductor, *ipc.FromConductor]) error {
	for {
		command, err := receiver.Receive(ctx)
		if err != nil {
			return fmt.Errorf("hooks dispatch: %w", err)
		}
		if err := apply(command); err != nil {
			return fmt.Errorf("hooks dispatch: %w", err)
		}
	}
}

func apply(command ipc.FromConductor) error {
	switch command.Tag {
	case ipc.TagResume:
		return resumeAllThreads()
	case ipc.TagAdvanceTime:
		state.AddPendingTicks(uint64(command.Duration().Nanoseconds()) * state.TicksPerSecond / 1_000_000_000)
	case ipc.TagSetKeyState:
		synthesizeKeyMessage(command.KeyID, command.KeyState)
		state.SetKeyState(command.KeyID, command.KeyState)
	case ipc.TagSetMousePosition:
		state.SetMousePosition(command.MouseX, command.MouseY)
		synthesizeMouseMoveMessage()
	case ipc.TagSetMouseButtonState:
		state.SetMouseButtonState(uint8(command.MouseButton), command.MouseButtonState)
		synthesizeMouseButtonMessage(command.MouseButton, command.MouseButtonState)
	case ipc.TagSaveState:
		return saveState()
	case ipc.TagLoadState:
		return loadState()
	case ipc.TagIdleRequest:
		return respondIdle(command)
	}
	return nil
}

// Win32 window-message and virtual-key constants needed to synthesize
// the messages a real window procedure would have produced for a key or
// mouse event — mirrored here rather than imported from
// hooks/replacements, since that package's constants are unexported and
// these few are cheap to restate.
const (
	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmMouseMove   = 0x0200
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208
	wmXButtonDown = 0x020B
	wmXButtonUp   = 0x020C

	vkShift    = 0x10
	vkControl  = 0x11
	vkLShift   = 0xA0
	vkRShift   = 0xA1
	vkLControl = 0xA2
	vkRControl = 0xA3

	mkLButton  = 0x0001
	mkRButton  = 0x0002
	mkShift    = 0x0004
	mkControl  = 0x0008
	mkMButton  = 0x0010
	mkXButton1 = 0x0020
	mkXButton2 = 0x0040

	keyLParamPreviousState = 1 << 30
	keyLParamTransitionUp  = 1 << 31
)

// synthesizeKeyMessage queues the WM_KEYDOWN/WM_KEYUP a real window
// procedure would have received for this key transition, encoding the
// key's state immediately before the transition into lParam bit 30 (so
// a held-down key that's set pressed again reports as a repeat) and
// setting bit 31 on release, per the bit layout a real WM_KEYDOWN/
// WM_KEYUP lParam carries.
func synthesizeKeyMessage(id uint8, pressed bool) {
	previouslyDown := state.GetKeyState(id)
	lParam := uintptr(1) // repeat count
	if previouslyDown {
		lParam |= keyLParamPreviousState
	}
	message := uint32(wmKeyDown)
	if !pressed {
		message = wmKeyUp
		lParam |= keyLParamTransitionUp
	}
	state.EnqueueCustomMessage(state.CustomMessage{
		Message: message,
		WParam:  uintptr(id),
		LParam:  lParam,
	})
}

// mouseKeyFlags computes the standard MK_* flags a mouse message's
// wParam carries: which buttons are currently held, plus whether either
// shift or control key (generic or left/right variant) is down.
func mouseKeyFlags() uintptr {
	var flags uintptr
	if state.MouseButtonHeld(uint8(ipc.MouseButtonLeft)) {
		flags |= mkLButton
	}
	if state.MouseButtonHeld(uint8(ipc.MouseButtonRight)) {
		flags |= mkRButton
	}
	if state.MouseButtonHeld(uint8(ipc.MouseButtonMiddle)) {
		flags |= mkMButton
	}
	if state.MouseButtonHeld(uint8(ipc.MouseButtonX1)) {
		flags |= mkXButton1
	}
	if state.MouseButtonHeld(uint8(ipc.MouseButtonX2)) {
		flags |= mkXButton2
	}
	if state.GetKeyState(vkShift) || state.GetKeyState(vkLShift) || state.GetKeyState(vkRShift) {
		flags |= mkShift
	}
	if state.GetKeyState(vkControl) || state.GetKeyState(vkLControl) || state.GetKeyState(vkRControl) {
		flags |= mkControl
	}
	return flags
}

func mousePositionLParam() uintptr {
	x, y := state.MousePosition()
	return uintptr(y)<<16 | uintptr(x)
}

// synthesizeMouseMoveMessage queues the WM_MOUSEMOVE a real window
// procedure would have received after the cursor moved.
func synthesizeMouseMoveMessage() {
	state.EnqueueCustomMessage(state.CustomMessage{
		Message: wmMouseMove,
		WParam:  mouseKeyFlags(),
		LParam:  mousePositionLParam(),
	})
}

// synthesizeMouseButtonMessage queues the WM_*BUTTONDOWN/UP a real
// window procedure would have received for this button transition; X1/X2
// additionally pack which X button fired into wParam's high word.
func synthesizeMouseButtonMessage(button ipc.MouseButton, pressed bool) {
	var message uint32
	var wParam uintptr
	switch button {
	case ipc.MouseButtonLeft:
		message = wmLButtonUp
		if pressed {
			message = wmLButtonDown
		}
		wParam = mouseKeyFlags()
	case ipc.MouseButtonRight:
		message = wmRButtonUp
		if pressed {
			message = wmRButtonDown
		}
		wParam = mouseKeyFlags()
	case ipc.MouseButtonMiddle:
		message = wmMButtonUp
		if pressed {
			message = wmMButtonDown
		}
		wParam = mouseKeyFlags()
	case ipc.MouseButtonX1:
		message = wmXButtonUp
		if pressed {
			message = wmXButtonDown
		}
		wParam = 1<<16 | mouseKeyFlags()
	case ipc.MouseButtonX2:
		message = wmXButtonUp
		if pressed {
			message = wmXButtonDown
		}
		wParam = 2<<16 | mouseKeyFlags()
	default:
		return
	}
	state.EnqueueCustomMessage(state.CustomMessage{
		Message: message,
		WParam:  wParam,
		LParam:  mousePositionLParam(),
	})
}

func resumeAllThreads() error {
	current := process.Current()
	it, err := current.IterThreadIDs()
	if err != nil {
		return fmt.Errorf("resume threads: %w", err)
	}
	defer it.Close()
	for {
		id, ok := it.Next()
		if !ok {
			break
		}
		t, err := thread.FromID(id)
		if err != nil {
			return fmt.Errorf("resume threads: %w", err)
		}
		if err := t.DecrementSuspendCount(); err != nil {
			return fmt.Errorf("resume threads: %w", err)
		}
	}
	return nil
}

// respondIdle reports Idle only once every tick granted so far has
// actually been consumed by a Sleep loop somewhere in the target — an
// Idle reply sent while ticks are still draining would let the
// conductor believe the queue settled before it really did.
func respondIdle(command ipc.FromConductor) error {
	if command.IdleResponseSender == nil {
		return nil
	}
	state.WaitUntilDrained()
	return command.IdleResponseSender.Send(context.Background(), ipc.Idle{})
}
