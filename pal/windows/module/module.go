//go:build windows

// Package module parses the export table of a PE module loaded in a
// target process, without ever mapping the PE image into this process —
// every field is read through the target's memory via the supplied
// process reader.
package module

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Reader is the subset of pal/windows/process.Process that module needs.
// It is an interface (rather than a concrete *process.Process) to avoid
// an import cycle: process.Process.GetModule constructs Modules.
type Reader interface {
	RawHandle() windows.Handle
	Read32(address uintptr) (uint32, error)
	Read16(address uintptr) (uint16, error)
	Read8(address uintptr) (uint8, error)
	ReadInto(address uintptr, out []byte) error
	ReadNulTerminatedString(address uintptr) (string, error)
}

// Module is a loaded module (EXE or DLL) inside some process.
type Module struct {
	process Reader
	handle  windows.Handle
}

// FromRawHandle wraps an HMODULE value already known to belong to process.
func FromRawHandle(process Reader, handle windows.Handle) *Module {
	return &Module{process: process, handle: handle}
}

// BaseAddress returns the module's load address. Per the Win32 docs, an
// HMODULE value *is* the module's base address.
func (m *Module) BaseAddress() uintptr {
	return uintptr(m.handle)
}

// Name returns the module's base file name (e.g. "kernel32.dll").
func (m *Module) Name() (string, error) {
	buf := make([]uint16, 256)
	for {
		n, err := getModuleBaseName(m.process.RawHandle(), m.handle, buf)
		if err != nil {
			return "", fmt.Errorf("get module base name: %w", err)
		}
		if n == 0 {
			return "", fmt.Errorf("get module base name: %w", windows.GetLastError())
		}
		if int(n) < len(buf) {
			return windows.UTF16ToString(buf[:n]), nil
		}
		buf = make([]uint16, len(buf)*2)
	}
}

// PE header layout, read field-by-field from the target process rather
// than overlaid on a local struct (the image only exists in the target's
// address space).
const (
	dosHeaderMagic        = 0x5a4d // "MZ"
	dosHeaderELfanewOff   = 0x3c
	peSignatureSize       = 4
	fileHeaderSize        = 20
	optionalHeaderMagicSz = 2
	magicPE32             = 0x10b
	magicPE32Plus         = 0x20b

	// Offsets within IMAGE_OPTIONAL_HEADER32/64 of the fields we need.
	// NumberOfRvaAndSizes sits 16 bytes further in on the 64-bit header:
	// its four stack/heap reserve and commit sizes are 8 bytes each
	// instead of 4 (the 8-byte ImageBase and the absent BaseOfData
	// cancel out).
	numberOfRvaAndSizesOff32 = 92
	numberOfRvaAndSizesOff64 = 108
	dataDirectoryOff32       = 96
	dataDirectoryOff64       = 112
	dataDirectoryEntrySize   = 8

	imageDirectoryEntryExport = 0

	// IMAGE_EXPORT_DIRECTORY field offsets.
	exportNumberOfNamesOff      = 24
	exportAddressOfFunctionsOff = 28
	exportAddressOfNamesOff     = 32
	exportAddressOfOrdinalsOff  = 36
)

// ErrInvalidHeaders is returned when the target's PE headers don't match
// the expected DOS/PE/optional-header layout.
var ErrInvalidHeaders = errors.New("module: invalid PE headers")

// ErrExportNotFound is returned when ExportAddress can't find the named
// export.
var ErrExportNotFound = errors.New("module: export not found")

// ExportAddress resolves the address of a named export by walking the
// module's export directory table in the target process's memory.
func (m *Module) ExportAddress(exportName string) (uintptr, error) {
	base := m.BaseAddress()

	magic, err := m.process.Read16(base)
	if err != nil {
		return 0, fmt.Errorf("read dos header magic: %w", err)
	}
	if magic != dosHeaderMagic {
		return 0, fmt.Errorf("module: %w", ErrInvalidHeaders)
	}
	lfanew, err := m.process.Read32(base + dosHeaderELfanewOff)
	if err != nil {
		return 0, fmt.Errorf("read e_lfanew: %w", err)
	}

	peHeader := base + uintptr(lfanew)
	sig := make([]byte, peSignatureSize)
	if err := m.process.ReadInto(peHeader, sig); err != nil {
		return 0, fmt.Errorf("read pe signature: %w", err)
	}
	if sig[0] != 'P' || sig[1] != 'E' || sig[2] != 0 || sig[3] != 0 {
		return 0, fmt.Errorf("module: %w", ErrInvalidHeaders)
	}

	optionalHeader := peHeader + peSignatureSize + fileHeaderSize
	magicWord, err := m.process.Read16(optionalHeader)
	if err != nil {
		return 0, fmt.Errorf("read optional header magic: %w", err)
	}

	var numberOfRvaAndSizesOff, dataDirectoryOff uintptr
	switch magicWord {
	case magicPE32:
		numberOfRvaAndSizesOff, dataDirectoryOff = numberOfRvaAndSizesOff32, dataDirectoryOff32
	case magicPE32Plus:
		numberOfRvaAndSizesOff, dataDirectoryOff = numberOfRvaAndSizesOff64, dataDirectoryOff64
	default:
		return 0, fmt.Errorf("module: %w", ErrInvalidHeaders)
	}

	entryCount, err := m.process.Read32(optionalHeader + numberOfRvaAndSizesOff)
	if err != nil {
		return 0, fmt.Errorf("read number of rva and sizes: %w", err)
	}
	if imageDirectoryEntryExport >= entryCount {
		return 0, fmt.Errorf("module: %w", ErrInvalidHeaders)
	}
	exportTableRVA, err := m.process.Read32(optionalHeader + dataDirectoryOff + imageDirectoryEntryExport*dataDirectoryEntrySize)
	if err != nil {
		return 0, fmt.Errorf("read export data directory entry: %w", err)
	}

	exportDirectory := base + uintptr(exportTableRVA)
	numberOfNames, err := m.process.Read32(exportDirectory + exportNumberOfNamesOff)
	if err != nil {
		return 0, fmt.Errorf("read export directory NumberOfNames: %w", err)
	}
	addressOfFunctions, err := m.process.Read32(exportDirectory + exportAddressOfFunctionsOff)
	if err != nil {
		return 0, fmt.Errorf("read export directory AddressOfFunctions: %w", err)
	}
	addressOfNames, err := m.process.Read32(exportDirectory + exportAddressOfNamesOff)
	if err != nil {
		return 0, fmt.Errorf("read export directory AddressOfNames: %w", err)
	}
	addressOfNameOrdinals, err := m.process.Read32(exportDirectory + exportAddressOfOrdinalsOff)
	if err != nil {
		return 0, fmt.Errorf("read export directory AddressOfNameOrdinals: %w", err)
	}

	for i := uint32(0); i < numberOfNames; i++ {
		nameRVA, err := m.process.Read32(base + uintptr(addressOfNames) + uintptr(i)*4)
		if err != nil {
			return 0, fmt.Errorf("read export name rva: %w", err)
		}
		name, err := m.process.ReadNulTerminatedString(base + uintptr(nameRVA))
		if err != nil {
			return 0, fmt.Errorf("read export name: %w", err)
		}
		if !strings.EqualFold(name, exportName) {
			continue
		}
		ordinal, err := m.process.Read16(base + uintptr(addressOfNameOrdinals) + uintptr(i)*2)
		if err != nil {
			return 0, fmt.Errorf("read export ordinal: %w", err)
		}
		functionRVA, err := m.process.Read32(base + uintptr(addressOfFunctions) + uintptr(ordinal)*4)
		if err != nil {
			return 0, fmt.Errorf("read export function rva: %w", err)
		}
		return base + uintptr(functionRVA), nil
	}
	return 0, fmt.Errorf("module: export %q: %w", exportName, ErrExportNotFound)
}

var (
	modpsapi               = windows.NewLazySystemDLL("psapi.dll")
	procGetModuleBaseNameW = modpsapi.NewProc("GetModuleBaseNameW")
)

func getModuleBaseName(process windows.Handle, module windows.Handle, buf []uint16) (uint32, error) {
	r1, _, e1 := procGetModuleBaseNameW.Call(
		uintptr(process),
		uintptr(module),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if r1 == 0 {
		return 0, e1
	}
	return uint32(r1), nil
}
