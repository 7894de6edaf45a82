package qflash

import (
	"sync/atomic"
	"testing"
)

// journalEntry records one flash-level operation decoded by the simulator,
// in the order the controller issued it.
type journalEntry struct {
	op    string // "id", "status", "wren", "sector", "read", "program", "erase", "bulk"
	slave int
	addr  int64
	n     int
}

// flashSim models one NOR flash device: JEDEC ID, extended address
// register, write enable latch, and AND-semantics programming (program can
// only clear bits, so writing without an erase leaves stale data behind —
// exactly the failure the orchestrator must prevent).
type flashSim struct {
	size         int64
	mem          []byte // allocated on first data access
	manufacturer byte
	density      byte
	progCmd      byte
	sector       byte
	wel          bool
}

func (f *flashSim) ensureMem() {
	if f.mem == nil {
		f.mem = make([]byte, f.size)
		for i := range f.mem {
			f.mem[i] = 0xFF
		}
	}
}

func (f *flashSim) fullAddr(cmd []byte) int64 {
	return int64(f.sector)<<24 | int64(cmd[1])<<16 | int64(cmd[2])<<8 | int64(cmd[3])
}

// ctrlSim models the controller register file: control/status registers,
// the TX/RX FIFO pair, and the active-low slave select. Clearing the
// transmission inhibit bit executes the queued command against the
// selected flash and queues an equal-length response.
type ctrlSim struct {
	t     *testing.T
	depth int

	ctrl      uint32
	slaveMask uint32
	txq       []byte
	rxq       []byte

	slaves  [maxSlaves]*flashSim
	journal []journalEntry

	// Single-owner tracking: a slave must not be selected while another
	// transaction still owns the bus.
	inUse      atomic.Bool
	violations atomic.Int32
}

func newCtrlSim(t *testing.T, depth int, manufacturer, density, progCmd byte, size int64) *ctrlSim {
	s := &ctrlSim{t: t, depth: depth, slaveMask: slaveSelectNone}
	for i := range s.slaves {
		s.slaves[i] = &flashSim{
			size:         size,
			manufacturer: manufacturer,
			density:      density,
			progCmd:      progCmd,
		}
	}
	return s
}

// micronSim is the default test device: micron ID with two 16 MiB sectors.
func micronSim(t *testing.T) *ctrlSim {
	return newCtrlSim(t, 256, 0x20, 0x19, cmdQuadWrite, 32<<20)
}

func (s *ctrlSim) Read32(off uint32) uint32 {
	switch off {
	case regStatus:
		var v uint32
		if len(s.rxq) == 0 {
			v |= statusRxEmpty
		}
		if len(s.rxq) >= s.depth {
			v |= statusRxFull
		}
		if len(s.txq) == 0 {
			v |= statusTxEmpty
		}
		if len(s.txq) >= s.depth {
			v |= statusTxFull
		}
		return v
	case regControl:
		return s.ctrl
	case regRxData:
		if len(s.rxq) == 0 {
			return 0
		}
		b := s.rxq[0]
		s.rxq = s.rxq[1:]
		return uint32(b)
	case regSlaveSel:
		return s.slaveMask
	}
	return 0
}

func (s *ctrlSim) Write32(off, val uint32) {
	switch off {
	case regControl:
		if val&ctrlTxFIFOReset != 0 {
			s.txq = nil
		}
		if val&ctrlRxFIFOReset != 0 {
			s.rxq = nil
		}
		old := s.ctrl
		s.ctrl = val &^ (ctrlTxFIFOReset | ctrlRxFIFOReset)
		if old&ctrlTransInhibit != 0 && s.ctrl&ctrlTransInhibit == 0 {
			s.exec()
		}
	case regTxData:
		if len(s.txq) < s.depth {
			s.txq = append(s.txq, byte(val))
		}
	case regSlaveSel:
		if val&slaveSelectNone == slaveSelectNone {
			s.inUse.Store(false)
		} else if !s.inUse.CompareAndSwap(false, true) {
			s.violations.Add(1)
		}
		s.slaveMask = val
	}
}

func (s *ctrlSim) selectedSlave() int {
	for i := 0; i < maxSlaves; i++ {
		if s.slaveMask&(1<<i) == 0 {
			return i
		}
	}
	return slaveNone
}

func (s *ctrlSim) record(op string, slave int, addr int64, n int) {
	s.journal = append(s.journal, journalEntry{op: op, slave: slave, addr: addr, n: n})
}

// exec consumes the TX FIFO as one flash command and queues the response.
func (s *ctrlSim) exec() {
	if len(s.txq) == 0 {
		return
	}
	cmd := s.txq
	s.txq = nil

	sel := s.selectedSlave()
	if sel == slaveNone {
		return // nothing on the bus, response is lost
	}

	fl := s.slaves[sel]
	out := make([]byte, len(cmd))

	switch cmd[0] {
	case cmdReadID:
		if len(cmd) >= 4 {
			out[1] = fl.manufacturer
			out[3] = fl.density
		}
		s.record("id", sel, 0, len(cmd))

	case cmdStatusRead:
		// out[1] stays 0: the simulated device is always ready.
		s.record("status", sel, 0, 0)

	case cmdWriteEnable:
		fl.wel = true
		s.record("wren", sel, 0, 0)

	case cmdExtAddrWrite:
		if fl.wel && len(cmd) >= 2 {
			fl.sector = cmd[1]
			fl.wel = false
		}
		s.record("sector", sel, int64(fl.sector), 0)

	case cmdQuadRead:
		fl.ensureMem()
		addr := fl.fullAddr(cmd)
		payload := max(len(cmd)-4-readDummyLen, 0)
		for i := 0; i < payload; i++ {
			if addr+int64(i) < fl.size {
				out[4+readDummyLen+i] = fl.mem[addr+int64(i)]
			}
		}
		s.record("read", sel, addr, payload)

	case cmdSubsector4K, cmdSubsector32K, cmdSectorErase:
		unit := int64(pageSize4K)
		if cmd[0] == cmdSubsector32K {
			unit = pageSize32K
		} else if cmd[0] == cmdSectorErase {
			unit = pageSize64K
		}
		addr := fl.fullAddr(cmd) &^ (unit - 1)
		if fl.wel {
			fl.ensureMem()
			for i := int64(0); i < unit && addr+i < fl.size; i++ {
				fl.mem[addr+i] = 0xFF
			}
			fl.wel = false
		}
		s.record("erase", sel, addr, int(unit))

	case cmdBulkErase:
		if fl.wel {
			fl.ensureMem()
			for i := range fl.mem {
				fl.mem[i] = 0xFF
			}
			fl.wel = false
		}
		s.record("bulk", sel, 0, int(fl.size))

	case fl.progCmd:
		addr := fl.fullAddr(cmd)
		payload := cmd[4:]
		if fl.wel {
			fl.ensureMem()
			// NOR programming only clears bits.
			for i, b := range payload {
				if addr+int64(i) < fl.size {
					fl.mem[addr+int64(i)] &= b
				}
			}
			fl.wel = false
		}
		s.record("program", sel, addr, len(payload))

	default:
		s.t.Errorf("simulator: unexpected flash command 0x%02X", cmd[0])
	}

	s.rxq = append(s.rxq, out...)
}
