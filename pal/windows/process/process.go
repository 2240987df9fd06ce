//go:build windows

// Package process wraps a target Win32 process: creation (suspended, with
// redirected stdio), memory allocation/protection/read/write, remote
// thread creation, and the two-stage DLL injection stub used to load the
// hooks library into a process that never asked the loader to map it.
package process

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"tasharness/pal/windows/handle"
	"tasharness/pal/windows/module"
	"tasharness/pal/windows/pipe"
	"tasharness/pal/windows/thread"
)

// Process is an owned handle to a Win32 process.
type Process struct {
	h *handle.Handle
}

// Current returns a Process wrapping a pseudo-handle to this process.
func Current() *Process {
	return &Process{h: handle.FromRaw(windows.CurrentProcess())}
}

const processAllAccess = 0x1F0FFF

// FromID opens the process with the given id for full access.
func FromID(id uint32) (*Process, error) {
	raw, err := windows.OpenProcess(processAllAccess, false, id)
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &Process{h: handle.FromRaw(raw)}, nil
}

// Create starts executablePath, optionally suspended and with its
// standard handles redirected to the given pipe ends. Any redirect pipe
// end is leaked into the child's inherited handle table.
func Create(executablePath, commandLine string, suspended bool, stdin *pipe.Reader, stdout, stderr *pipe.Writer) (*Process, error) {
	executablePathUTF16, err := windows.UTF16PtrFromString(executablePath)
	if err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}
	commandLineUTF16, err := windows.UTF16PtrFromString(commandLine)
	if err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}

	startupInfo := &windows.StartupInfo{
		Cb:    uint32(unsafe.Sizeof(windows.StartupInfo{})),
		Flags: windows.STARTF_USESTDHANDLES,
	}
	if stdin != nil {
		startupInfo.StdInput = stdin.Handle().Leak()
	}
	if stdout != nil {
		startupInfo.StdOutput = stdout.Handle().Leak()
	}
	if stderr != nil {
		startupInfo.StdErr = stderr.Handle().Leak()
	}

	var creationFlags uint32
	if suspended {
		creationFlags = windows.CREATE_SUSPENDED
	}

	var processInformation windows.ProcessInformation
	if err := windows.CreateProcess(
		executablePathUTF16,
		commandLineUTF16,
		nil,
		nil,
		true,
		creationFlags,
		nil,
		nil,
		startupInfo,
		&processInformation,
	); err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}

	// the main thread handle is not used here; closing it does not affect
	// the thread itself, which stays suspended until it is resumed.
	windows.CloseHandle(processInformation.Thread)

	return &Process{h: handle.FromRaw(processInformation.Process)}, nil
}

// Handle exposes the underlying handle wrapper.
func (p *Process) Handle() *handle.Handle { return p.h }

// RawHandle implements module.Reader.
func (p *Process) RawHandle() windows.Handle { return p.h.Raw() }

const (
	imageFileMachineUnknown = 0x0
	imageFileMachineI386    = 0x14c
	imageFileMachineAMD64   = 0x8664
	imageFileMachineIA64    = 0x200
)

// ErrUnknownMachine is returned by Is64Bit for a machine type the harness
// does not recognize.
var ErrUnknownMachine = errors.New("process: unknown machine type")

// Is64Bit reports whether the process is running 64-bit code (native
// amd64/ia64, as opposed to 32-bit code either natively or under WOW64).
func (p *Process) Is64Bit() (bool, error) {
	var processMachine, nativeMachine uint16
	if err := windows.IsWow64Process2(p.h.Raw(), &processMachine, &nativeMachine); err != nil {
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
		return false, fmt.Errorf("%w: 0x%x", ErrUnknownMachine, machine)
	}
}

// KillOnParentExit attaches the process to a fresh, unnamed job object
// configured to kill all member processes when the job handle closes, and
// leaks that handle so it closes only when this (conductor) process
// exits. This prevents an orphaned target surviving a conductor crash.
func (p *Process) KillOnParentExit() error {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("kill on parent exit: create job object: %w", err)
	}
	jobHandle := handle.FromRaw(job)

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		jobHandle.Close()
		return fmt.Errorf("kill on parent exit: set information job object: %w", err)
	}

	if err := windows.AssignProcessToJobObject(job, p.h.Raw()); err != nil {
		jobHandle.Close()
		return fmt.Errorf("kill on parent exit: assign process to job object: %w", err)
	}

	jobHandle.Leak() // intentionally never closed except by OS process teardown
	return nil
}

// Join blocks until the process exits (or ctx is canceled) and returns
// its exit code.
func (p *Process) Join(ctx context.Context) (uint32, error) {
	if err := p.h.Wait(ctx); err != nil {
		return 0, fmt.Errorf("join process: %w", err)
	}
	var exitCode uint32
	if err := windows.GetExitCodeProcess(p.h.Raw(), &exitCode); err != nil {
		return 0, fmt.Errorf("get exit code process: %w", err)
	}
	return exitCode, nil
}

// ID returns the process id.
func (p *Process) ID() (uint32, error) {
	id, err := windows.GetProcessId(p.h.Raw())
	if err != nil {
		return 0, fmt.Errorf("get process id: %w", err)
	}
	if id == 0 {
		return 0, fmt.Errorf("get process id: %w", windows.GetLastError())
	}
	return id, nil
}

// ThreadIDIterator enumerates the ids of every thread owned by a process
// by walking a toolhelp snapshot of every thread on the system, filtering
// to the ones whose owner matches. This is a slow but dependency-free way
// to enumerate a process's threads, matching the original's approach.
type ThreadIDIterator struct {
	processID       uint32
	snapshot        *handle.Handle
	calledFirst     bool
}

// IterThreadIDs returns an iterator over the ids of all threads belonging
// to the process. Building the iterator snapshots every thread on the
// system, so this can be slow.
func (p *Process) IterThreadIDs() (*ThreadIDIterator, error) {
	id, err := p.ID()
	if err != nil {
		return nil, fmt.Errorf("iter thread ids: %w", err)
	}
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, fmt.Errorf("iter thread ids: create toolhelp32 snapshot: %w", err)
	}
	return &ThreadIDIterator{processID: id, snapshot: handle.FromRaw(snapshot)}, nil
}

// Next returns the next thread id, or false once enumeration is exhausted.
func (it *ThreadIDIterator) Next() (uint32, bool) {
	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	for {
		var err error
		if it.calledFirst {
			err = windows.Thread32Next(it.snapshot.Raw(), &entry)
		} else {
			it.calledFirst = true
			err = windows.Thread32First(it.snapshot.Raw(), &entry)
		}
		if err != nil {
			return 0, false
		}
		if entry.Size >= 16 && entry.OwnerProcessID == it.processID {
			return entry.ThreadID, true
		}
	}
}

// Close releases the snapshot handle backing the iterator.
func (it *ThreadIDIterator) Close() error { return it.snapshot.Close() }

// GetModules enumerates every module (EXE/DLL) loaded in the process.
func (p *Process) GetModules() ([]*module.Module, error) {
	handles := make([]windows.Handle, 64)
	var bytesNeeded uint32
	for {
		if err := enumProcessModulesEx(p.h.Raw(), handles, &bytesNeeded); err != nil {
			return nil, fmt.Errorf("get modules: %w", err)
		}
		itemsNeeded := int(bytesNeeded) / int(unsafe.Sizeof(handles[0]))
		if itemsNeeded <= len(handles) {
			handles = handles[:itemsNeeded]
			break
		}
		handles = make([]windows.Handle, itemsNeeded)
	}

	modules := make([]*module.Module, 0, len(handles))
	for _, h := range handles {
		modules = append(modules, module.FromRawHandle(p, h))
	}
	return modules, nil
}

// GetModule looks up a loaded module by case-insensitive base name.
func (p *Process) GetModule(name string) (*module.Module, error) {
	modules, err := p.GetModules()
	if err != nil {
		return nil, fmt.Errorf("get module %q: %w", name, err)
	}
	for _, m := range modules {
		moduleName, err := m.Name()
		if err != nil {
			continue
		}
		if stringsEqualFold(moduleName, name) {
			return m, nil
		}
	}
	return nil, nil
}

func stringsEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// MemoryPermissionsRWE is the read/write/execute component of a memory
// protection constant (the low byte of a Win32 PAGE_* value).
type MemoryPermissionsRWE uint32

const (
	RWEUnknown           MemoryPermissionsRWE = 0x0
	RWENone              MemoryPermissionsRWE = 0x1
	RWERead              MemoryPermissionsRWE = 0x2
	RWEReadWrite         MemoryPermissionsRWE = 0x4
	RWEReadWriteCOW      MemoryPermissionsRWE = 0x8
	RWEExecute           MemoryPermissionsRWE = 0x10
	RWEReadExecute       MemoryPermissionsRWE = 0x20
	RWEReadWriteExecute  MemoryPermissionsRWE = 0x40
)

// MemoryPermissions is a decoded Win32 PAGE_* protection constant.
type MemoryPermissions struct {
	RWE     MemoryPermissionsRWE
	IsGuard bool
}

// MemoryPermissionsFromWinAPIConstant decodes a raw PAGE_* constant.
func MemoryPermissionsFromWinAPIConstant(constant uint32) MemoryPermissions {
	return MemoryPermissions{
		RWE:     MemoryPermissionsRWE(constant & 0xff),
		IsGuard: constant&0x100 != 0,
	}
}

// ToWinAPIConstant encodes back to a raw PAGE_* constant.
func (m MemoryPermissions) ToWinAPIConstant() uint32 {
	v := uint32(m.RWE)
	if m.IsGuard {
		v |= 0x100
	}
	return v
}

const memFree = 0x10000

// AllocateMemory reserves and commits size bytes anywhere in the
// process's address space with the given permissions.
func (p *Process) AllocateMemory(size uintptr, permissions MemoryPermissions) (uintptr, error) {
	return p.allocateMemoryAt(0, size, permissions)
}

// AllocateMemoryAt reserves and commits size bytes at a specific address.
func (p *Process) AllocateMemoryAt(address uintptr, size uintptr, permissions MemoryPermissions) (uintptr, error) {
	return p.allocateMemoryAt(address, size, permissions)
}

func (p *Process) allocateMemoryAt(address uintptr, size uintptr, permissions MemoryPermissions) (uintptr, error) {
	addr, err := virtualAllocEx(p.h.Raw(), address, size, windows.MEM_COMMIT|windows.MEM_RESERVE, permissions.ToWinAPIConstant())
	if err != nil {
		return 0, fmt.Errorf("allocate memory: %w", err)
	}
	return addr, nil
}

// FreeMemory releases a region previously returned by AllocateMemory.
func (p *Process) FreeMemory(address uintptr) error {
	if err := virtualFreeEx(p.h.Raw(), address, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("free memory: %w", err)
	}
	return nil
}

// SetMemoryPermissions changes the protection of a region and returns the
// permissions that were in effect before the change.
func (p *Process) SetMemoryPermissions(address uintptr, size uintptr, permissions MemoryPermissions) (MemoryPermissions, error) {
	var previous uint32
	if err := windows.VirtualProtectEx(p.h.Raw(), address, size, permissions.ToWinAPIConstant(), &previous); err != nil {
		return MemoryPermissions{}, fmt.Errorf("set memory permissions: %w", err)
	}
	return MemoryPermissionsFromWinAPIConstant(previous), nil
}

// ReadInto reads len(out) bytes from address into out. Implements module.Reader.
func (p *Process) ReadInto(address uintptr, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	var read uintptr
	if err := windows.ReadProcessMemory(p.h.Raw(), address, &out[0], uintptr(len(out)), &read); err != nil {
		return fmt.Errorf("read process memory: %w", err)
	}
	return nil
}

// ReadToSlice is ReadInto returning a freshly allocated slice.
func (p *Process) ReadToSlice(address uintptr, size int) ([]byte, error) {
	out := make([]byte, size)
	if err := p.ReadInto(address, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Read8 reads a single byte. Implements module.Reader.
func (p *Process) Read8(address uintptr) (uint8, error) {
	buf, err := p.ReadToSlice(address, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Read16 reads a little-endian uint16. Implements module.Reader.
func (p *Process) Read16(address uintptr) (uint16, error) {
	buf, err := p.ReadToSlice(address, 2)
	if err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// Read32 reads a little-endian uint32. Implements module.Reader.
func (p *Process) Read32(address uintptr) (uint32, error) {
	buf, err := p.ReadToSlice(address, 4)
	if err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// ReadNulTerminatedString reads bytes one at a time until a NUL and
// returns them unconverted as a Go string (export names are ASCII).
// Implements module.Reader.
func (p *Process) ReadNulTerminatedString(address uintptr) (string, error) {
	var sb []byte
	for offset := uintptr(0); ; offset++ {
		b, err := p.Read8(address + offset)
		if err != nil {
			return "", fmt.Errorf("read nul terminated string: %w", err)
		}
		if b == 0 {
			break
		}
		sb = append(sb, b)
	}
	return string(sb), nil
}

// Write writes data to address in the process's address space.
func (p *Process) Write(address uintptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var written uintptr
	if err := windows.WriteProcessMemory(p.h.Raw(), address, &data[0], uintptr(len(data)), &written); err != nil {
		return fmt.Errorf("write process memory: %w", err)
	}
	return nil
}

// CreateThread creates a remote thread in the process starting at
// startAddress, optionally created suspended and passed parameter as its
// sole argument.
func (p *Process) CreateThread(startAddress uintptr, suspended bool, parameter uintptr) (*thread.Thread, error) {
	var creationFlags uint32
	if suspended {
		creationFlags = windows.CREATE_SUSPENDED
	}
	h, err := createRemoteThread(p.h.Raw(), startAddress, parameter, creationFlags)
	if err != nil {
		return nil, fmt.Errorf("create remote thread: %w", err)
	}
	return thread.FromRaw(h), nil
}

// MemoryRegion describes a region returned by GetMemoryRegion.
type MemoryRegion struct {
	Address      uintptr
	Size         uintptr
	Free         bool
	IsCommitted  bool
	AllocationAddress uintptr
	Permissions  MemoryPermissions
}

// GetMemoryRegion returns metadata about the memory region containing address.
func (p *Process) GetMemoryRegion(address uintptr) (MemoryRegion, error) {
	var info windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(p.h.Raw(), address, &info, unsafe.Sizeof(info)); err != nil {
		return MemoryRegion{}, fmt.Errorf("get memory region: %w", err)
	}
	if info.State == memFree {
		return MemoryRegion{Address: info.BaseAddress, Size: info.RegionSize, Free: true}, nil
	}
	return MemoryRegion{
		Address:           info.BaseAddress,
		Size:              info.RegionSize,
		IsCommitted:       info.State == windows.MEM_COMMIT,
		AllocationAddress: info.AllocationBase,
		Permissions:       MemoryPermissionsFromWinAPIConstant(info.Protect),
	}, nil
}

// InjectDLL loads libraryPath into the process without relying on the
// target ever having called into the loader on its own: a one-byte `ret`
// shim is run on a remote thread first to force the loader to finish
// mapping kernel32 and friends, then a hand-assembled stub that calls
// LoadLibraryA (falling back to GetLastError on failure) is run the same
// way.
func (p *Process) InjectDLL(ctx context.Context, libraryPath string) error {
	noOpAddress, err := p.AllocateMemory(1, MemoryPermissions{RWE: RWEReadExecute})
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	if err := p.Write(noOpAddress, []byte{0xc3}); err != nil { // ret, identical opcode on x86 and x64
		return fmt.Errorf("inject dll: %w", err)
	}
	noOpThread, err := p.CreateThread(noOpAddress, false, 0)
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	if _, err := noOpThread.Join(); err != nil {
		return fmt.Errorf("inject dll: join no-op thread: %w", err)
	}

	pathBytes := append([]byte(libraryPath), 0)
	pathAddress, err := p.AllocateMemory(uintptr(len(pathBytes)), MemoryPermissions{RWE: RWEReadWrite})
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	if err := p.Write(pathAddress, pathBytes); err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}

	kernel32, err := p.GetModule("kernel32.dll")
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	if kernel32 == nil {
		return fmt.Errorf("inject dll: kernel32.dll module not found")
	}
	loadLibraryA, err := kernel32.ExportAddress("LoadLibraryA")
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	getLastError, err := kernel32.ExportAddress("GetLastError")
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}

	is64Bit, err := p.Is64Bit()
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	stub := buildLoadLibraryStub(is64Bit, pathAddress, loadLibraryA, getLastError)

	stubAddress, err := p.AllocateMemory(uintptr(len(stub)), MemoryPermissions{RWE: RWEReadExecute})
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	if err := p.Write(stubAddress, stub); err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}

	stubThread, err := p.CreateThread(stubAddress, false, 0)
	if err != nil {
		return fmt.Errorf("inject dll: %w", err)
	}
	exitCode, err := stubThread.Join()
	if err != nil {
		return fmt.Errorf("inject dll: join load-library thread: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("inject dll: library loading thread returned error code 0x%x", exitCode)
	}
	return nil
}

// buildLoadLibraryStub assembles a small position-independent routine
// that calls LoadLibraryA(pathAddress) and, on failure (null return),
// calls GetLastError so the caller can observe why loading failed. The
// routine's return value (eax/rax) becomes the remote thread's exit code.
func buildLoadLibraryStub(is64Bit bool, pathAddress, loadLibraryA, getLastError uintptr) []byte {
	if is64Bit {
		stub := []byte{
			0x48, 0x89, 0xe0, // mov rax, rsp
			0x48, 0x83, 0xe4, 0xf0, // and rsp, 0xfffffffffffffff0
			0x50, // push rax
			0x48, 0x83, 0xec, 0x28, // sub rsp, 0x28
			0x48, 0xb9, 0, 0, 0, 0, 0, 0, 0, 0, // mov rcx, pathAddress
			0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, // mov rax, loadLibraryA
			0xff, 0xd0, // call rax
			0x48, 0x85, 0xc0, // test rax, rax
			0x48, 0xc7, 0xc0, 0x00, 0x00, 0x00, 0x00, // mov rax, 0
			0x75, 0x0c, // jne return
			0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, // mov rax, getLastError
			0xff, 0xd0, // call rax
			0x48, 0x83, 0xc4, 0x28, // add rsp, 0x28
			0x5c, // pop rsp
			0xc3, // ret
		}
		putUint64At(stub, 14, uint64(pathAddress))
		putUint64At(stub, 24, uint64(loadLibraryA))
		putUint64At(stub, 48, uint64(getLastError))
		return stub
	}

	stub := []byte{
		0x68, 0, 0, 0, 0, // push pathAddress
		0xb8, 0, 0, 0, 0, // mov eax, loadLibraryA
		0xff, 0xd0, // call eax
		0x85, 0xc0, // test eax, eax
		0xb8, 0x00, 0x00, 0x00, 0x00, // mov eax, 0
		0x75, 0x07, // jne return
		0xb8, 0, 0, 0, 0, // mov eax, getLastError
		0xff, 0xd0, // call eax
		0xc3, // ret
	}
	putUint32At(stub, 1, uint32(pathAddress))
	putUint32At(stub, 6, uint32(loadLibraryA))
	putUint32At(stub, 22, uint32(getLastError))
	return stub
}

func putUint64At(buf []byte, offset int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[offset+i] = byte(v >> (8 * i))
	}
}

func putUint32At(buf []byte, offset int, v uint32) {
	for i := 0; i < 4; i++ {
		buf[offset+i] = byte(v >> (8 * i))
	}
}

var (
	modkernel32             = windows.NewLazySystemDLL("kernel32.dll")
	modpsapi                = windows.NewLazySystemDLL("psapi.dll")
	procVirtualAllocEx      = modkernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx       = modkernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread  = modkernel32.NewProc("CreateRemoteThread")
	procEnumProcessModulesEx = modpsapi.NewProc("EnumProcessModulesEx")
)

const listModulesAll = 0x03

func virtualAllocEx(process windows.Handle, address, size uintptr, allocationType, protect uint32) (uintptr, error) {
	r1, _, e1 := procVirtualAllocEx.Call(uintptr(process), address, size, uintptr(allocationType), uintptr(protect))
	if r1 == 0 {
		return 0, e1
	}
	return r1, nil
}

func virtualFreeEx(process windows.Handle, address, size uintptr, freeType uint32) error {
	r1, _, e1 := procVirtualFreeEx.Call(uintptr(process), address, size, uintptr(freeType))
	if r1 == 0 {
		return e1
	}
	return nil
}

func createRemoteThread(process windows.Handle, startAddress, parameter uintptr, creationFlags uint32) (windows.Handle, error) {
	r1, _, e1 := procCreateRemoteThread.Call(
		uintptr(process), 0, 0,
		startAddress, parameter,
		uintptr(creationFlags), 0,
	)
	if r1 == 0 {
		return 0, e1
	}
	return windows.Handle(r1), nil
}

func enumProcessModulesEx(process windows.Handle, handles []windows.Handle, bytesNeeded *uint32) error {
	var buf uintptr
	if len(handles) > 0 {
		buf = uintptr(unsafe.Pointer(&handles[0]))
	}
	r1, _, e1 := procEnumProcessModulesEx.Call(
		uintptr(process), buf,
		uintptr(len(handles)*int(unsafe.Sizeof(handles[0]))),
		uintptr(unsafe.Pointer(bytesNeeded)),
		listModulesAll,
	)
	if r1 == 0 {
		return e1
	}
	return nil
}
