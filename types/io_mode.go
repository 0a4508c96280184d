// io_mode.go defines the buffer sourcing strategies.

package types

import (
	"fmt"
	"strings"
)

// IOMode is the strategy used to source the memory of a buffer pool.
type IOMode int

const (
	// IOModeAuto lets the session choose (it resolves to IOModeDRM).
	IOModeAuto = IOMode(iota)

	// IOModeION allocates physically contiguous memory inside the codec service.
	IOModeION

	// IOModeDRM allocates DRM (dmabuf) memory inside the codec service.
	IOModeDRM

	// IOModeDMABufImport imports dmabuf-s provided by another pool.
	IOModeDMABufImport

	// IOModeRW copies data through regular system memory.
	IOModeRW

	// IOModeUserPtr is reserved.
	IOModeUserPtr

	endOfIOMode
)

func (m IOMode) String() string {
	switch m {
	case IOModeAuto:
		return "auto"
	case IOModeION:
		return "ion"
	case IOModeDRM:
		return "drm"
	case IOModeDMABufImport:
		return "dmabuf-import"
	case IOModeRW:
		return "rw"
	case IOModeUserPtr:
		return "userptr"
	default:
		return fmt.Sprintf("unknown_io_mode_%d", int(m))
	}
}

// IsInternal returns true if the memory is allocated by the codec service itself.
func (m IOMode) IsInternal() bool {
	return m == IOModeION || m == IOModeDRM
}

// UsesAllocator returns true if buffers of this mode are backed by
// hardware memory tracked by an allocator.
func (m IOMode) UsesAllocator() bool {
	return m.IsInternal() || m == IOModeDMABufImport
}

func ParseIOMode(s string) (IOMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m := IOModeAuto; m < endOfIOMode; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	switch s {
	case "dmabuf", "import":
		return IOModeDMABufImport, nil
	case "drmbuf":
		return IOModeDRM, nil
	}
	return IOModeAuto, fmt.Errorf("unknown IO mode '%s'", s)
}

// Set implements pflag.Value.
func (m *IOMode) Set(s string) error {
	v, err := ParseIOMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Type implements pflag.Value.
func (m *IOMode) Type() string {
	return "io-mode"
}

func (m IOMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *IOMode) UnmarshalText(b []byte) error {
	return m.Set(string(b))
}
