//go:build windows

// Package event wraps a Win32 manual-reset event: the signal/acknowledge
// primitive the IPC channel and the hooked waits are built on.
package event

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"

	"tasharness/pal/windows/handle"
)

// ManualResetEvent is a manual-reset, initially-unsignaled Win32 event.
type ManualResetEvent struct {
	h *handle.Handle
}

// New creates a fresh, unsignaled manual-reset event.
func New() (*ManualResetEvent, error) {
	raw, err := windows.CreateEvent(nil, 1 /* manual reset */, 0 /* initial state */, nil)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &ManualResetEvent{h: handle.FromRaw(raw)}, nil
}

// FromRaw wraps an already-open event handle (e.g. one received over IPC).
func FromRaw(raw windows.Handle) *ManualResetEvent {
	return &ManualResetEvent{h: handle.FromRaw(raw)}
}

// Handle exposes the underlying handle wrapper, for cross-process
// duplication and for embedding a raw handle value in the bootstrap
// message.
func (e *ManualResetEvent) Handle() *handle.Handle {
	return e.h
}

// Set raises the event.
func (e *ManualResetEvent) Set() error {
	if err := windows.SetEvent(e.h.Raw()); err != nil {
		return fmt.Errorf("set event: %w", err)
	}
	return nil
}

// Reset lowers the event.
func (e *ManualResetEvent) Reset() error {
	if err := windows.ResetEvent(e.h.Raw()); err != nil {
		return fmt.Errorf("reset event: %w", err)
	}
	return nil
}

// Get returns the event's current state without blocking.
func (e *ManualResetEvent) Get() (bool, error) {
	status, err := windows.WaitForSingleObject(e.h.Raw(), 0)
	switch {
	case err != nil:
		return false, fmt.Errorf("poll event: %w", err)
	case status == windows.WAIT_OBJECT_0:
		return true, nil
	case status == uint32(windows.WAIT_TIMEOUT):
		return false, nil
	default:
		return false, fmt.Errorf("poll event: unexpected status 0x%x", status)
	}
}

// Wait blocks until the event becomes signaled or ctx is canceled.
func (e *ManualResetEvent) Wait(ctx context.Context) error {
	return e.h.Wait(ctx)
}

// Clone duplicates the event handle into the current process.
func (e *ManualResetEvent) Clone() (*ManualResetEvent, error) {
	cloned, err := e.h.Clone()
	if err != nil {
		return nil, err
	}
	return &ManualResetEvent{h: cloned}, nil
}

// CloneForProcess duplicates the event handle so it is valid in another process.
func (e *ManualResetEvent) CloneForProcess(targetProcess windows.Handle) (*ManualResetEvent, error) {
	cloned, err := e.h.CloneForProcess(targetProcess)
	if err != nil {
		return nil, err
	}
	return &ManualResetEvent{h: cloned}, nil
}

// Close releases the underlying OS handle.
func (e *ManualResetEvent) Close() error {
	return e.h.Close()
}
