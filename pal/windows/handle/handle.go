//go:build windows

// Package handle wraps an owned Win32 HANDLE: it closes the handle on
// Close and knows how to duplicate itself into another process so it can
// be handed across the conductor/hooks-library boundary.
package handle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// Handle is an owned Win32 handle. The zero value is not valid; use
// FromRaw. Callers must call Close exactly once, unless the handle is
// leaked across a process boundary with Leak.
type Handle struct {
	raw windows.Handle
}

// FromRaw takes ownership of an already-open Win32 handle.
func FromRaw(raw windows.Handle) *Handle {
	return &Handle{raw: raw}
}

// Raw returns the underlying Win32 handle value. The caller must not
// close it directly.
func (h *Handle) Raw() windows.Handle {
	return h.raw
}

// Close releases the underlying OS handle.
func (h *Handle) Close() error {
	if h.raw == 0 || h.raw == windows.InvalidHandle {
		return nil
	}
	err := windows.CloseHandle(h.raw)
	h.raw = 0
	return err
}

// Leak returns the raw handle value without closing it, consuming the
// wrapper. Used when transporting a handle value across process
// boundaries (the bootstrap message, IPC handle-triples) where the OS
// handle itself, not this wrapper, is now owned by the far side.
func (h *Handle) Leak() windows.Handle {
	raw := h.raw
	h.raw = 0
	return raw
}

// Clone duplicates the handle into the current process with the same
// access rights.
func (h *Handle) Clone() (*Handle, error) {
	current, err := windows.GetCurrentProcess()
	if err != nil {
		return nil, fmt.Errorf("get current process: %w", err)
	}
	return h.CloneForProcess(current)
}

// CloneForProcess duplicates the handle so that it is valid in the
// address space of targetProcess.
func (h *Handle) CloneForProcess(targetProcess windows.Handle) (*Handle, error) {
	current, err := windows.GetCurrentProcess()
	if err != nil {
		return nil, fmt.Errorf("get current process: %w", err)
	}
	var duplicated windows.Handle
	if err := windows.DuplicateHandle(
		current, h.raw,
		targetProcess, &duplicated,
		0, false, windows.DUPLICATE_SAME_ACCESS,
	); err != nil {
		return nil, fmt.Errorf("duplicate handle: %w", err)
	}
	return &Handle{raw: duplicated}, nil
}

// ErrWaitAborted is returned by Wait when ctx is done before the handle
// becomes signaled.
var ErrWaitAborted = errors.New("handle: wait aborted by context")

// Wait blocks until the handle becomes signaled or ctx is canceled. The
// injected library's command-dispatch thread and the conductor's
// join-on-exit both use this: it parks a goroutine on a real OS signal
// rather than polling it.
func (h *Handle) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		status, err := windows.WaitForSingleObject(h.raw, windows.INFINITE)
		if err != nil {
			done <- err
			return
		}
		if status != windows.WAIT_OBJECT_0 {
			done <- fmt.Errorf("wait for single object: unexpected status 0x%x", status)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrWaitAborted
	}
}
