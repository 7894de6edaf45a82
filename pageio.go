package qflash

import (
	"fmt"
	"runtime"
	"time"
)

// Everything in this file runs with c.mu held and the active slave already
// picked from the request's address.

// isReady reports whether the flash device finished its last program or
// erase cycle. Reading the device status register needs one dummy byte
// after the command; the answer is in the second response byte.
func (c *Controller) isReady() bool {
	cmd := [2]byte{cmdStatusRead, 0}
	if err := c.t.Transact(c.currSlave, cmd[:], true); err != nil {
		return false
	}
	return cmd[1]&flashStatusBusy == 0
}

func (c *Controller) waitReady() error {
	return c.waitReadyFor(c.cfg.WaitTimeout)
}

func (c *Controller) waitReadyFor(timeout time.Duration) error {
	if busyWait(c.isReady, c.cfg.PollInterval, timeout) {
		return fmt.Errorf("flash device not ready: %w", ErrTimeout)
	}
	return nil
}

// enableWrite sets the device's write enable latch. Every program, erase
// and sector-select command needs it set first.
func (c *Controller) enableWrite() error {
	cmd := [1]byte{cmdWriteEnable}
	if err := c.t.Transact(c.currSlave, cmd[:], false); err != nil {
		return fmt.Errorf("write enable: %w", err)
	}
	return nil
}

// setSector writes the extended address register, skipping the transaction
// when the cached sector already matches.
func (c *Controller) setSector(sector byte) error {
	if sector == c.currSector {
		return nil
	}
	c.log.Debug("selecting sector", "sector", sector)

	if err := c.enableWrite(); err != nil {
		return err
	}
	cmd := [2]byte{cmdExtAddrWrite, sector}
	if err := c.t.Transact(c.currSlave, cmd[:], false); err != nil {
		return fmt.Errorf("select sector %d: %w", sector, err)
	}
	c.currSector = sector
	return nil
}

// ioHeader selects the sector of a and lays down the command header (opcode
// plus the three intra-sector address bytes) at the front of the scratch
// buffer. It returns the header length.
func (c *Controller) ioHeader(op byte, a flashAddr) (int, error) {
	if err := c.setSector(a.sector); err != nil {
		return 0, err
	}
	c.buf[0] = op
	c.buf[1] = a.hi
	c.buf[2] = a.mid
	c.buf[3] = a.lo
	return 4, nil
}

// readDummyLen is the number of garbage bytes the controller clocks in
// between the command header and real data on a quad read.
const readDummyLen = 4

// fifoRead does one bounded read transaction at off and returns the number
// of payload bytes copied into dst. The caller keeps off+len(dst) inside
// one 4 KiB page.
func (c *Controller) fifoRead(dst []byte, off int64) (int, error) {
	header, err := c.ioHeader(cmdQuadRead, encodeAddr(off))
	if err != nil {
		return 0, err
	}

	// One transaction must fit the transfer budget, header and dummy
	// bytes included.
	payload := min(len(dst), c.t.MaxTransfer()-header-readDummyLen)
	if payload <= 0 {
		return 0, &ProtocolError{Op: "fifo read",
			Reason: fmt.Sprintf("transfer budget %d leaves no room for data", c.t.MaxTransfer())}
	}
	total := header + readDummyLen + payload

	c.log.Debug("fifo read", "off", off, "len", payload)

	if err := c.t.Transact(c.currSlave, c.buf[:total], true); err != nil {
		return 0, err
	}

	// The first header+dummy bytes of the response are garbage.
	copy(dst, c.buf[header+readDummyLen:total])
	return payload, nil
}

// fifoWrite does one bounded program transaction at off, assuming the
// covering page is already erased. It returns the number of payload bytes
// consumed from src.
func (c *Controller) fifoWrite(src []byte, off int64) (int, error) {
	header, err := c.ioHeader(c.vendor.progCmd, encodeAddr(off))
	if err != nil {
		return 0, err
	}

	payload := min(len(src), c.t.MaxTransfer()-header, c.cfg.WriteBurst)
	if payload <= 0 {
		return 0, &ProtocolError{Op: "fifo write",
			Reason: fmt.Sprintf("transfer budget %d leaves no room for data", c.t.MaxTransfer())}
	}
	total := header + payload
	copy(c.buf[header:total], src)

	c.log.Debug("fifo write", "off", off, "len", payload)

	if err := c.enableWrite(); err != nil {
		return 0, err
	}
	if err := c.t.Transact(c.currSlave, c.buf[:total], false); err != nil {
		return 0, err
	}
	if err := c.waitReady(); err != nil {
		return 0, err
	}
	return payload, nil
}

// readBuf fills buf from flash starting at off, one FIFO transaction at a
// time.
func (c *Controller) readBuf(buf []byte, off int64) error {
	for n := 0; n < len(buf); {
		cur, err := c.fifoRead(buf[n:], off+int64(n))
		if err != nil {
			return err
		}
		n += cur
	}
	// Yield between buffers so multi-megabyte transfers don't pin a core.
	runtime.Gosched()
	return nil
}

// writeBuf stores buf to flash starting at off. The covering erase unit
// must already be erased.
func (c *Controller) writeBuf(buf []byte, off int64) error {
	for n := 0; n < len(buf); {
		cur, err := c.fifoWrite(buf[n:], off+int64(n))
		if err != nil {
			return err
		}
		n += cur
	}
	runtime.Gosched()
	return nil
}

// eraseUnit erases one aligned page of the given unit size.
func (c *Controller) eraseUnit(off, unit int64) error {
	cmd := eraseCmd(unit)
	if cmd == 0 || off%unit != 0 {
		return &ProtocolError{Op: "erase",
			Reason: fmt.Sprintf("unit 0x%x at offset 0x%x not erasable", unit, off)}
	}
	c.log.Debug("erasing", "off", off, "unit", unit, "cmd", cmd)

	if err := c.waitReady(); err != nil {
		return err
	}
	header, err := c.ioHeader(cmd, encodeAddr(off))
	if err != nil {
		return err
	}
	if err := c.enableWrite(); err != nil {
		return err
	}
	if err := c.t.Transact(c.currSlave, c.buf[:header], false); err != nil {
		return fmt.Errorf("erase 0x%x bytes at 0x%x: %w", unit, off, err)
	}
	return c.waitReady()
}
