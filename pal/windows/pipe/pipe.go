//go:build windows

// Package pipe wraps an anonymous Win32 pipe pair used as the byte-stream
// half of the IPC channel (see package ipc for the message framing on top).
package pipe

import (
	"fmt"

	"golang.org/x/sys/windows"

	"tasharness/pal/windows/handle"
)

// New creates a fresh anonymous pipe, inheritable by child processes, and
// returns its write and read ends.
func New() (*Writer, *Reader, error) {
	securityAttributes := &windows.SecurityAttributes{
		Length:             uint32(unsafeSizeofSecurityAttributes),
		InheritHandle:      1,
		SecurityDescriptor: nil,
	}
	var readHandle, writeHandle windows.Handle
	if err := windows.CreatePipe(&readHandle, &writeHandle, securityAttributes, 0); err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	return &Writer{h: handle.FromRaw(writeHandle)}, &Reader{h: handle.FromRaw(readHandle)}, nil
}

const unsafeSizeofSecurityAttributes = 24 // sizeof(SECURITY_ATTRIBUTES) on amd64; only Length is read back by CreatePipe.

// Writer is the write end of an anonymous pipe.
type Writer struct {
	h *handle.Handle
}

// FromRawWriter wraps an already-open write handle.
func FromRawWriter(raw windows.Handle) *Writer { return &Writer{h: handle.FromRaw(raw)} }

// Handle exposes the underlying handle wrapper.
func (w *Writer) Handle() *handle.Handle { return w.h }

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	var written uint32
	if err := windows.WriteFile(w.h.Raw(), p, &written, nil); err != nil {
		return int(written), fmt.Errorf("write pipe: %w", err)
	}
	return int(written), nil
}

// Close closes the underlying handle.
func (w *Writer) Close() error { return w.h.Close() }

// Reader is the read end of an anonymous pipe.
type Reader struct {
	h *handle.Handle
}

// FromRawReader wraps an already-open read handle.
func FromRawReader(raw windows.Handle) *Reader { return &Reader{h: handle.FromRaw(raw)} }

// Handle exposes the underlying handle wrapper.
func (r *Reader) Handle() *handle.Handle { return r.h }

// Read implements io.Reader. It peeks the pipe first and returns (0, nil)
// if nothing is pending rather than blocking — callers (package ipc) only
// call Read once a send-event has told them bytes are waiting.
func (r *Reader) Read(p []byte) (int, error) {
	var pending uint32
	if err := windows.PeekNamedPipe(r.h.Raw(), nil, 0, nil, &pending, nil); err != nil {
		return 0, fmt.Errorf("peek pipe: %w", err)
	}
	if pending == 0 {
		return 0, nil
	}
	want := pending
	if uint32(len(p)) < want {
		want = uint32(len(p))
	}
	var read uint32
	if err := windows.ReadFile(r.h.Raw(), p[:want], &read, nil); err != nil {
		return 0, fmt.Errorf("read pipe: %w", err)
	}
	return int(read), nil
}

// Close closes the underlying handle.
func (r *Reader) Close() error { return r.h.Close() }
