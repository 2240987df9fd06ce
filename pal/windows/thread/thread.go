//go:build windows

// Package thread wraps a Win32 thread handle: suspend/resume, join, and
// architecture-appropriate (including WOW64) register context access.
//
// golang.org/x/sys/windows does not expose GetThreadContext/SetThreadContext
// or their WOW64 counterparts, so this package resolves them itself off
// kernel32.dll, the same lazy-DLL idiom used throughout pal/windows.
package thread

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"tasharness/pal/windows/handle"
)

const threadAllAccess = 0x1FFFFF

// Thread is an owned handle to a Win32 thread.
type Thread struct {
	h *handle.Handle
}

// FromRaw takes ownership of an already-open thread handle.
func FromRaw(raw windows.Handle) *Thread {
	return &Thread{h: handle.FromRaw(raw)}
}

// FromID opens a handle to the thread with the given id.
func FromID(id uint32) (*Thread, error) {
	raw, err := windows.OpenThread(threadAllAccess, false, id)
	if err != nil {
		return nil, fmt.Errorf("open thread: %w", err)
	}
	return &Thread{h: handle.FromRaw(raw)}, nil
}

// Handle exposes the underlying handle wrapper.
func (t *Thread) Handle() *handle.Handle { return t.h }

// ID returns the thread's id.
func (t *Thread) ID() (uint32, error) {
	id, err := getThreadID(t.h.Raw())
	if err != nil {
		return 0, fmt.Errorf("get thread id: %w", err)
	}
	if id == 0 {
		return 0, fmt.Errorf("get thread id: %w", windows.GetLastError())
	}
	return id, nil
}

// ProcessID returns the id of the process the thread belongs to.
func (t *Thread) ProcessID() (uint32, error) {
	id, err := getProcessIDOfThread(t.h.Raw())
	if err != nil {
		return 0, fmt.Errorf("get process id of thread: %w", err)
	}
	if id == 0 {
		return 0, fmt.Errorf("get process id of thread: %w", windows.GetLastError())
	}
	return id, nil
}

// IncrementSuspendCount suspends the thread (raises its suspend count by one).
func (t *Thread) IncrementSuspendCount() error {
	if _, err := windows.SuspendThread(t.h.Raw()); err != nil {
		return fmt.Errorf("suspend thread: %w", err)
	}
	return nil
}

// DecrementSuspendCount resumes the thread (lowers its suspend count by one).
func (t *Thread) DecrementSuspendCount() error {
	if _, err := windows.ResumeThread(t.h.Raw()); err != nil {
		return fmt.Errorf("resume thread: %w", err)
	}
	return nil
}

// Join blocks until the thread exits and returns its exit code.
func (t *Thread) Join() (uint32, error) {
	status, err := windows.WaitForSingleObject(t.h.Raw(), windows.INFINITE)
	if err != nil {
		return 0, fmt.Errorf("wait for thread: %w", err)
	}
	if status == uint32(windows.WAIT_FAILED) {
		return 0, fmt.Errorf("wait for thread: %w", windows.GetLastError())
	}
	exitCode, err := getExitCodeThread(t.h.Raw())
	if err != nil {
		return 0, fmt.Errorf("get exit code thread: %w", err)
	}
	return exitCode, nil
}

// Context holds a thread's saved register state. Exactly one of X86 or
// X64 is populated, matching the thread's own bitness — a 32-bit thread
// running under WOW64 on a 64-bit host still reports an X86 context,
// captured via the WOW64 context calls rather than the native ones.
type Context struct {
	Is64Bit bool
	X86     *Context32
	X64     *Context64
}

// InstructionPointer returns the saved instruction pointer (Eip or Rip).
func (c *Context) InstructionPointer() uint64 {
	if c.Is64Bit {
		return c.X64.Rip
	}
	return uint64(c.X86.Eip)
}

var errUnknownMachine = errors.New("thread: unknown process machine type")

func processIs64Bit(processHandle windows.Handle) (bool, error) {
	var processMachine, nativeMachine uint16
	if err := windows.IsWow64Process2(processHandle, &processMachine, &nativeMachine); err != nil {
		return false, fmt.Errorf("is wow64 process2: %w", err)
	}
	machine := processMachine
	if machine == imageFileMachineUnknown {
		machine = nativeMachine
	}
	switch machine {
	case imageFileMachineI386:
		return false, nil
	case imageFileMachineAMD64, imageFileMachineIA64:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%x", errUnknownMachine, machine)
	}
}

const (
	imageFileMachineUnknown = 0x0
	imageFileMachineI386    = 0x14c
	imageFileMachineAMD64   = 0x8664
	imageFileMachineIA64    = 0x200
)

// GetContext captures the thread's current register state.
func (t *Thread) GetContext() (*Context, error) {
	pid, err := t.ProcessID()
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	processHandle, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION, false, pid)
	if err != nil {
		return nil, fmt.Errorf("get context: open process: %w", err)
	}
	defer windows.CloseHandle(processHandle)

	is64Bit, err := processIs64Bit(processHandle)
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}

	if is64Bit {
		ctx := newAlignedContext64()
		ctx.ContextFlags = context64All
		if err := getThreadContext(t.h.Raw(), unsafe.Pointer(ctx)); err != nil {
			return nil, fmt.Errorf("get thread context: %w", err)
		}
		return &Context{Is64Bit: true, X64: ctx}, nil
	}

	ctx := &Context32{ContextFlags: context32All}
	if err := wow64GetThreadContext(t.h.Raw(), ctx); err != nil {
		return nil, fmt.Errorf("wow64 get thread context: %w", err)
	}
	return &Context{Is64Bit: false, X86: ctx}, nil
}

// SetContext restores a previously captured register state. The thread
// is suspended and resumed around the context-set call, matching the
// original's increment/decrement-suspend-count bracketing.
func (t *Thread) SetContext(ctx *Context) error {
	if err := t.IncrementSuspendCount(); err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	var setErr error
	if ctx.Is64Bit {
		setErr = setThreadContext(t.h.Raw(), unsafe.Pointer(ctx.X64))
	} else {
		setErr = wow64SetThreadContext(t.h.Raw(), ctx.X86)
	}
	if resumeErr := t.DecrementSuspendCount(); resumeErr != nil && setErr == nil {
		setErr = resumeErr
	}
	if setErr != nil {
		return fmt.Errorf("set thread context: %w", setErr)
	}
	return nil
}

// M128A mirrors the Win32 M128A union: a 128-bit SSE register slot.
type M128A struct {
	Low  uint64
	High int64
}

// XMMSaveArea32 mirrors the Win32 XMM_SAVE_AREA32 structure embedded in
// both context layouts below.
type XMMSaveArea32 struct {
	ControlWord    uint16
	StatusWord     uint16
	TagWord        uint8
	Reserved1      uint8
	ErrorOpcode    uint16
	ErrorOffset    uint32
	ErrorSelector  uint16
	Reserved2      uint16
	DataOffset     uint32
	DataSelector   uint16
	Reserved3      uint16
	MxCsr          uint32
	MxCsrMask      uint32
	FloatRegisters [8]M128A
	XmmRegisters   [16]M128A
	Reserved4      [96]byte
}

// Context32 mirrors the Win32 i386 CONTEXT structure (identical layout
// to WOW64_CONTEXT, which is what a 32-bit thread under WOW64 reports).
type Context32 struct {
	ContextFlags      uint32
	Dr0, Dr1          uint32
	Dr2, Dr3          uint32
	Dr6, Dr7          uint32
	FloatSave         [112]byte // FLOATING_SAVE_AREA, opaque
	SegGs, SegFs      uint32
	SegEs, SegDs      uint32
	Edi, Esi          uint32
	Ebx, Edx          uint32
	Ecx, Eax          uint32
	Ebp               uint32
	Eip               uint32
	SegCs             uint32
	EFlags            uint32
	Esp               uint32
	SegSs             uint32
	ExtendedRegisters [512]byte
}

// Context64 mirrors the Win32 amd64 CONTEXT structure. Must be passed to
// GetThreadContext/SetThreadContext on a 16-byte-aligned address — see
// newAlignedContext64.
type Context64 struct {
	P1Home, P2Home, P3Home                uint64
	P4Home, P5Home, P6Home                uint64
	ContextFlags                          uint32
	MxCsr                                 uint32
	SegCs, SegDs, SegEs, SegFs, SegGs, SegSs uint16
	EFlags                                uint32
	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7           uint64
	Rax, Rcx, Rdx, Rbx                     uint64
	Rsp, Rbp, Rsi, Rdi                     uint64
	R8, R9, R10, R11                       uint64
	R12, R13, R14, R15                     uint64
	Rip                                    uint64
	FltSave                                XMMSaveArea32
	VectorRegister                         [26]M128A
	VectorControl                          uint64
	DebugControl                           uint64
	LastBranchToRip                        uint64
	LastBranchFromRip                      uint64
	LastExceptionToRip                     uint64
	LastExceptionFromRip                   uint64
}

const (
	contextAMD64AlignedFlag = 0x00100000
	context64Control        = contextAMD64AlignedFlag | 0x1
	context64Integer        = contextAMD64AlignedFlag | 0x2
	context64Segments       = contextAMD64AlignedFlag | 0x4
	context64FloatingPoint  = contextAMD64AlignedFlag | 0x8
	context64DebugRegisters = contextAMD64AlignedFlag | 0x10
	context64All            = context64Control | context64Integer | context64Segments | context64FloatingPoint | context64DebugRegisters

	contextI386Flag            = 0x00010000
	context32Control           = contextI386Flag | 0x1
	context32Integer           = contextI386Flag | 0x2
	context32Segments          = contextI386Flag | 0x4
	context32FloatingPoint     = contextI386Flag | 0x8
	context32DebugRegisters    = contextI386Flag | 0x10
	context32ExtendedRegisters = contextI386Flag | 0x20
	context32All               = context32Control | context32Integer | context32Segments | context32FloatingPoint | context32DebugRegisters | context32ExtendedRegisters
)

// newAlignedContext64 allocates a Context64 at a 16-byte-aligned address,
// as required by Get/SetThreadContext on amd64 (see
// https://github.com/retep998/winapi-rs/issues/945 for the underlying
// Win32 quirk this works around).
func newAlignedContext64() *Context64 {
	var probe Context64
	size := unsafe.Sizeof(probe)
	buf := make([]byte, size+16)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (addr + 15) &^ 15
	return (*Context64)(unsafe.Pointer(aligned))
}

var (
	modkernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procGetThreadId               = modkernel32.NewProc("GetThreadId")
	procGetProcessIdOfThread      = modkernel32.NewProc("GetProcessIdOfThread")
	procGetExitCodeThread         = modkernel32.NewProc("GetExitCodeThread")
	procGetThreadContext          = modkernel32.NewProc("GetThreadContext")
	procSetThreadContext          = modkernel32.NewProc("SetThreadContext")
	procWow64GetThreadContext     = modkernel32.NewProc("Wow64GetThreadContext")
	procWow64SetThreadContext     = modkernel32.NewProc("Wow64SetThreadContext")
)

func getThreadID(h windows.Handle) (uint32, error) {
	r1, _, e1 := procGetThreadId.Call(uintptr(h))
	if r1 == 0 {
		return 0, e1
	}
	return uint32(r1), nil
}

func getProcessIDOfThread(h windows.Handle) (uint32, error) {
	r1, _, e1 := procGetProcessIdOfThread.Call(uintptr(h))
	if r1 == 0 {
		return 0, e1
	}
	return uint32(r1), nil
}

func getExitCodeThread(h windows.Handle) (uint32, error) {
	var exitCode uint32
	r1, _, e1 := procGetExitCodeThread.Call(uintptr(h), uintptr(unsafe.Pointer(&exitCode)))
	if r1 == 0 {
		return 0, e1
	}
	return exitCode, nil
}

func getThreadContext(h windows.Handle, ctx unsafe.Pointer) error {
	r1, _, e1 := procGetThreadContext.Call(uintptr(h), uintptr(ctx))
	if r1 == 0 {
		return e1
	}
	return nil
}

func setThreadContext(h windows.Handle, ctx unsafe.Pointer) error {
	r1, _, e1 := procSetThreadContext.Call(uintptr(h), uintptr(ctx))
	if r1 == 0 {
		return e1
	}
	return nil
}

func wow64GetThreadContext(h windows.Handle, ctx *Context32) error {
	r1, _, e1 := procWow64GetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(ctx)))
	if r1 == 0 {
		return e1
	}
	return nil
}

func wow64SetThreadContext(h windows.Handle, ctx *Context32) error {
	r1, _, e1 := procWow64SetThreadContext.Call(uintptr(h), uintptr(unsafe.Pointer(ctx)))
	if r1 == 0 {
		return e1
	}
	return nil
}
