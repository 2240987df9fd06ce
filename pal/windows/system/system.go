//go:build windows

// Package system wraps the handful of GetSystemInfo fields the
// snapshot package needs to know the addressable range of a process's
// virtual memory. golang.org/x/sys/windows doesn't expose
// GetSystemInfo, so it's resolved locally the same way as the other
// gaps in that package (see pal/windows/thread, pal/windows/process).
package system

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32       = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemInfo = modkernel32.NewProc("GetSystemInfo")
)

// Info is the subset of SYSTEM_INFO this harness needs.
type Info struct {
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	PageSize                  uint32
}

type systemInfo struct {
	processorArchitecture     uint16
	reserved                  uint16
	pageSize                  uint32
	minimumApplicationAddress uintptr
	maximumApplicationAddress uintptr
	activeProcessorMask       uintptr
	numberOfProcessors        uint32
	processorType             uint32
	allocationGranularity     uint32
	processorLevel            uint16
	processorRevision         uint16
}

// GetInfo returns the current system's addressable memory range.
func GetInfo() Info {
	var raw systemInfo
	_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&raw)))
	return Info{
		MinimumApplicationAddress: raw.minimumApplicationAddress,
		MaximumApplicationAddress: raw.maximumApplicationAddress,
		PageSize:                  raw.pageSize,
	}
}
