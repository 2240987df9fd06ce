//go:build windows

package module

import (
	"encoding/binary"
	"errors"
	"testing"

	"golang.org/x/sys/windows"
)

// fakeReader is a Reader backed by a plain byte slice standing in for a
// target process's address space, so ExportAddress's PE export-table walk
// can be exercised without a real loaded module.
type fakeReader struct {
	base uintptr
	mem  []byte
}

func (r *fakeReader) RawHandle() windows.Handle { return 0 }

func (r *fakeReader) Read8(address uintptr) (uint8, error) {
	return r.mem[address-r.base], nil
}

func (r *fakeReader) Read16(address uintptr) (uint16, error) {
	off := address - r.base
	return binary.LittleEndian.Uint16(r.mem[off : off+2]), nil
}

func (r *fakeReader) Read32(address uintptr) (uint32, error) {
	off := address - r.base
	return binary.LittleEndian.Uint32(r.mem[off : off+4]), nil
}

func (r *fakeReader) ReadInto(address uintptr, out []byte) error {
	off := address - r.base
	copy(out, r.mem[off:off+uintptr(len(out))])
	return nil
}

func (r *fakeReader) ReadNulTerminatedString(address uintptr) (string, error) {
	off := address - r.base
	end := off
	for end < uintptr(len(r.mem)) && r.mem[end] != 0 {
		end++
	}
	return string(r.mem[off:end]), nil
}

// buildFakePEImage lays out a minimal PE32+ image exporting two names,
// "Foo" and "Bar", at RVAs 0x5000 and 0x6000 respectively.
func buildFakePEImage() []byte {
	const size = 0x600
	mem := make([]byte, size)

	binary.LittleEndian.PutUint16(mem[0:2], dosHeaderMagic)
	const peHeaderOffset = 0x80
	binary.LittleEndian.PutUint32(mem[dosHeaderELfanewOff:dosHeaderELfanewOff+4], peHeaderOffset)

	copy(mem[peHeaderOffset:peHeaderOffset+4], []byte{'P', 'E', 0, 0})

	optionalHeader := peHeaderOffset + peSignatureSize + fileHeaderSize
	binary.LittleEndian.PutUint16(mem[optionalHeader:optionalHeader+2], magicPE32Plus)
	binary.LittleEndian.PutUint32(
		mem[optionalHeader+numberOfRvaAndSizesOff64:optionalHeader+numberOfRvaAndSizesOff64+4], 16)

	const exportDirectoryRVA = 0x200
	binary.LittleEndian.PutUint32(
		mem[optionalHeader+dataDirectoryOff64:optionalHeader+dataDirectoryOff64+4], exportDirectoryRVA)

	const (
		namesArrayRVA     = 0x300
		ordinalsArrayRVA  = 0x320
		functionsArrayRVA = 0x340
		fooNameRVA        = 0x400
		barNameRVA        = 0x410
	)

	binary.LittleEndian.PutUint32(mem[exportDirectoryRVA+exportNumberOfNamesOff:exportDirectoryRVA+exportNumberOfNamesOff+4], 2)
	binary.LittleEndian.PutUint32(mem[exportDirectoryRVA+exportAddressOfFunctionsOff:exportDirectoryRVA+exportAddressOfFunctionsOff+4], functionsArrayRVA)
	binary.LittleEndian.PutUint32(mem[exportDirectoryRVA+exportAddressOfNamesOff:exportDirectoryRVA+exportAddressOfNamesOff+4], namesArrayRVA)
	binary.LittleEndian.PutUint32(mem[exportDirectoryRVA+exportAddressOfOrdinalsOff:exportDirectoryRVA+exportAddressOfOrdinalsOff+4], ordinalsArrayRVA)

	binary.LittleEndian.PutUint32(mem[namesArrayRVA:namesArrayRVA+4], fooNameRVA)
	binary.LittleEndian.PutUint32(mem[namesArrayRVA+4:namesArrayRVA+8], barNameRVA)

	binary.LittleEndian.PutUint16(mem[ordinalsArrayRVA:ordinalsArrayRVA+2], 0)
	binary.LittleEndian.PutUint16(mem[ordinalsArrayRVA+2:ordinalsArrayRVA+4], 1)

	binary.LittleEndian.PutUint32(mem[functionsArrayRVA:functionsArrayRVA+4], 0x5000)
	binary.LittleEndian.PutUint32(mem[functionsArrayRVA+4:functionsArrayRVA+8], 0x6000)

	copy(mem[fooNameRVA:], append([]byte("Foo"), 0))
	copy(mem[barNameRVA:], append([]byte("Bar"), 0))

	return mem
}

func TestExportAddressResolvesKnownExportsCaseInsensitively(t *testing.T) {
	const base = uintptr(0x140000000)
	m := FromRawHandle(&fakeReader{base: base, mem: buildFakePEImage()}, windows.Handle(base))

	addr, err := m.ExportAddress("foo")
	if err != nil {
		t.Fatalf("ExportAddress(foo): %v", err)
	}
	if want := base + 0x5000; addr != want {
		t.Fatalf("ExportAddress(foo) = %#x, want %#x", addr, want)
	}

	addr, err = m.ExportAddress("Bar")
	if err != nil {
		t.Fatalf("ExportAddress(Bar): %v", err)
	}
	if want := base + 0x6000; addr != want {
		t.Fatalf("ExportAddress(Bar) = %#x, want %#x", addr, want)
	}
}

func TestExportAddressNotFound(t *testing.T) {
	const base = uintptr(0x140000000)
	m := FromRawHandle(&fakeReader{base: base, mem: buildFakePEImage()}, windows.Handle(base))

	if _, err := m.ExportAddress("Missing"); !errors.Is(err, ErrExportNotFound) {
		t.Fatalf("ExportAddress(Missing) = %v, want ErrExportNotFound", err)
	}
}

func TestExportAddressRejectsCorruptDOSHeader(t *testing.T) {
	mem := buildFakePEImage()
	mem[0] = 0 // corrupt the "MZ" magic
	const base = uintptr(0x140000000)
	m := FromRawHandle(&fakeReader{base: base, mem: mem}, windows.Handle(base))

	if _, err := m.ExportAddress("Foo"); !errors.Is(err, ErrInvalidHeaders) {
		t.Fatalf("ExportAddress with corrupt DOS header = %v, want ErrInvalidHeaders", err)
	}
}

func TestBaseAddressIsTheHandleValue(t *testing.T) {
	m := FromRawHandle(&fakeReader{}, windows.Handle(0x7fff0000))
	if got := m.BaseAddress(); got != 0x7fff0000 {
		t.Fatalf("BaseAddress() = %#x, want 0x7fff0000", got)
	}
}
