package qflash

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RegisterBlock is the access surface of the controller's memory-mapped
// register file. Offsets are byte offsets from the start of the block; all
// accesses are 32 bits wide.
type RegisterBlock interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// regWindow covers every register the engine touches.
const regWindow = 0x1000

// MappedRegs is a RegisterBlock over an mmap'd resource file.
type MappedRegs struct {
	f   *os.File
	mem []byte
}

// MapRegisters maps the controller register block from a resource file (a
// PCI BAR resource node or /dev/mem) at the given byte offset into it.
func MapRegisters(path string, offset int64) (*MappedRegs, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open register resource: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), offset, regWindow,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map registers from %s: %w", path, err)
	}
	return &MappedRegs{f: f, mem: mem}, nil
}

func (m *MappedRegs) Close() error {
	err := unix.Munmap(m.mem)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Register access must be a single aligned 32-bit load or store; going
// through sync/atomic keeps the compiler from splitting or eliding it.

func (m *MappedRegs) Read32(off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.mem[off])))
}

func (m *MappedRegs) Write32(off, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&m.mem[off])), val)
}
