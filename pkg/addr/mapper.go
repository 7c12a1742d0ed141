// Package addr implements the AddressMapper: a pure, cheap-to-call
// predicate/locator over the immutable code and data segment tuples
// declared by the memory config. Every address the generator places or
// the model loads is re-validated here at the boundary.
package addr

import (
	"fmt"

	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

// Segment is a half-open byte range [Base, Base+Size).
type Segment struct {
	Name string
	Base uint64
	Size uint64
}

// End returns Base+Size.
func (s Segment) End() uint64 { return s.Base + s.Size }

// Contains reports whether [addr, addr+size) lies fully inside s.
func (s Segment) Contains(address uint64, size uint64) bool {
	if size == 0 {
		size = 1
	}
	end := address + size
	if end < address { // overflow
		return false
	}
	return address >= s.Base && end <= s.End()
}

// Mapper validates and locates absolute addresses against the code and
// data segments declared by the memory config. It holds no mutable
// state after construction, so it is safe to call from anywhere.
type Mapper struct {
	Code []Segment
	Data []Segment
}

// New builds a Mapper. code must be non-empty.
func New(code, data []Segment) (*Mapper, error) {
	if len(code) == 0 {
		return nil, tibbarerr.New(tibbarerr.ConfigInvalid, "at least one code segment is required", nil)
	}
	return &Mapper{Code: code, Data: data}, nil
}

// RequireCodeAddr validates that [addr, addr+size) lies fully inside a
// single code segment, returning addr on success.
func (m *Mapper) RequireCodeAddr(address uint64, size uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}
	for _, seg := range m.Code {
		if seg.Contains(address, size) {
			return address, nil
		}
	}
	return 0, tibbarerr.New(tibbarerr.OutOfCodeBank,
		fmt.Sprintf("address 0x%x (size %d) is not inside any code segment", address, size),
		map[string]any{"addr": address, "size": size, "code_segments": m.Code})
}

// RequireStoreAddr validates that [addr, addr+size) lies inside either a
// code or a data segment.
func (m *Mapper) RequireStoreAddr(address uint64, size uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}
	for _, seg := range m.Code {
		if seg.Contains(address, size) {
			return address, nil
		}
	}
	for _, seg := range m.Data {
		if seg.Contains(address, size) {
			return address, nil
		}
	}
	return 0, tibbarerr.New(tibbarerr.OutsideMappedBanks,
		fmt.Sprintf("address 0x%x (size %d) is outside every mapped bank", address, size),
		map[string]any{"addr": address, "size": size, "code_segments": m.Code, "data_segments": m.Data})
}

// FindCodeSegmentIndex returns the index of the code segment that fully
// contains [addr, addr+size), or -1.
func (m *Mapper) FindCodeSegmentIndex(address uint64, size uint64) int {
	if size == 0 {
		size = 1
	}
	for i, seg := range m.Code {
		if seg.Contains(address, size) {
			return i
		}
	}
	return -1
}

// FindDataSegmentIndex returns the index of the data segment that fully
// contains [addr, addr+size), or -1.
func (m *Mapper) FindDataSegmentIndex(address uint64, size uint64) int {
	if size == 0 {
		size = 1
	}
	for i, seg := range m.Data {
		if seg.Contains(address, size) {
			return i
		}
	}
	return -1
}

// IsRuntimeCode reports whether addr lies in a code segment.
func (m *Mapper) IsRuntimeCode(address uint64) bool {
	return m.FindCodeSegmentIndex(address, 1) >= 0
}

// IsRuntimeData reports whether addr lies in a data segment.
func (m *Mapper) IsRuntimeData(address uint64) bool {
	return m.FindDataSegmentIndex(address, 1) >= 0
}
