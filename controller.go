package qflash

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Controller is one session against one flash controller. It owns the
// exclusive lock, the discovered flash geometry, the active slave and
// sector caches, and a scratch transaction buffer. All flash access from
// any caller serializes through it: the hardware has exactly one FIFO pair
// and one slave select register.
type Controller struct {
	t   Transactor
	cfg Config
	log Logger

	mu     sync.Mutex
	opened atomic.Bool

	vendor     *vendor
	flashSize  int64
	currSlave  int
	currSector byte
	buf        []byte
}

// New builds a session over an initialized Transactor, waits for the flash
// device to become ready and identifies it. An unrecognized vendor or
// density code fails construction with UnsupportedDeviceError.
func New(t Transactor, opts ...Option) (*Controller, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Controller{
		t:   t,
		cfg: cfg,
		log: cfg.Logger,

		// Identification probes the first flash only.
		currSlave:  0,
		currSector: sectorUnset,
		buf:        make([]byte, t.MaxTransfer()),
	}

	if err := c.waitReady(); err != nil {
		return nil, err
	}
	if err := c.identify(); err != nil {
		return nil, err
	}
	c.currSector = sectorUnset
	return c, nil
}

// identify reads the JEDEC ID and resolves the vendor profile and flash
// size. The manufacturer code is in response byte 1, the density code in
// byte 3.
func (c *Controller) identify() error {
	cmd := [5]byte{cmdReadID}
	if err := c.t.Transact(c.currSlave, cmd[:], true); err != nil {
		return fmt.Errorf("read flash ID: %w", err)
	}

	c.vendor = lookupVendor(cmd[1])
	if c.vendor == nil {
		return &UnsupportedDeviceError{Manufacturer: cmd[1], Density: cmd[3]}
	}

	sectors := c.vendor.sectors(cmd[3])
	if sectors == 0 {
		return &UnsupportedDeviceError{Manufacturer: cmd[1], Density: cmd[3]}
	}
	c.flashSize = int64(sectors) * sectorBytes

	c.log.Info("flash identified",
		"vendor", c.vendor.name, "size_mb", c.flashSize>>20)
	return nil
}

// Size returns the addressable capacity of one flash device in bytes.
func (c *Controller) Size() int64 { return c.flashSize }

// Type returns the device class exposed to consumers.
func (c *Controller) Type() string { return "spi" }

// VendorName returns the identified flash manufacturer.
func (c *Controller) VendorName() string { return c.vendor.name }

// Attrs returns the read-only attribute surface.
func (c *Controller) Attrs() map[string]string {
	return map[string]string{
		"flash_type": c.Type(),
		"size":       strconv.FormatInt(c.flashSize, 10),
	}
}

// ID reads back the raw JEDEC identification bytes from the active flash
// device.
func (c *Controller) ID() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := [5]byte{cmdReadID}
	if err := c.t.Transact(c.currSlave, cmd[:], true); err != nil {
		return nil, fmt.Errorf("read flash ID: %w", err)
	}
	return append([]byte(nil), cmd[1:]...), nil
}

// Status reads the flash device status register.
func (c *Controller) Status() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := [2]byte{cmdStatusRead, 0}
	if err := c.t.Transact(c.currSlave, cmd[:], true); err != nil {
		return 0, fmt.Errorf("read status register: %w", err)
	}
	return cmd[1], nil
}

// ReadAt reads len(p) bytes starting at the logical offset off. A
// zero-length or out-of-bounds read returns 0 bytes without error; a read
// running past the end of flash is clamped. It returns the bytes read.
func (c *Controller) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || !c.inBounds(off) {
		return 0, nil
	}
	n := len(p)
	if rem := c.flashSize - clampOffset(off); int64(n) > rem {
		n = int(rem)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug("read", "off", off, "len", n)
	c.currSlave = encodeAddr(off).slave
	if err := c.waitReady(); err != nil {
		return 0, err
	}

	// Chunk at 4 KiB page boundaries; a single FIFO read must not cross
	// an erase unit.
	cnt := 0
	for cnt < n {
		thisOff := off + int64(cnt)
		thisLen := min(n-cnt, int(pageRoundUp(thisOff)-thisOff))
		if err := c.readBuf(p[cnt:cnt+thisLen], thisOff); err != nil {
			return cnt, err
		}
		cnt += thisLen
	}
	return n, nil
}

// WriteAt writes len(p) bytes starting at the logical offset off, erasing
// the covering pages first. Page-aligned spans use the largest fitting
// erase unit; anything else goes through read-modify-write of one 4 KiB
// page at a time. A write starting out of bounds fails with ErrNoSpace; a
// write running past the end of flash is clamped, with the short count
// returned.
func (c *Controller) WriteAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || !c.inBounds(off) {
		return 0, ErrNoSpace
	}
	n := len(p)
	if rem := c.flashSize - clampOffset(off); int64(n) > rem {
		n = int(rem)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug("write", "off", off, "len", n)
	c.currSlave = encodeAddr(off).slave
	if err := c.waitReady(); err != nil {
		return 0, err
	}

	page := make([]byte, pageSize64K)
	cnt := 0
	for cnt < n {
		consumed, err := c.writePage(page, p[cnt:n], off+int64(cnt))
		if err != nil {
			return cnt, err
		}
		cnt += consumed
	}
	return n, nil
}

// writePage erases and programs one page's worth of src at off. It
// returns the number of caller bytes consumed, which is less than a full
// unit on the read-modify-write path.
func (c *Controller) writePage(page, src []byte, off int64) (int, error) {
	unit := pagePlan(off, len(src))
	if unit == 0 {
		return c.writeRMW(page[:pageSize4K], src, off)
	}

	copy(page[:unit], src[:unit])
	if err := c.eraseUnit(off, unit); err != nil {
		return 0, err
	}
	if err := c.writeBuf(page[:unit], off); err != nil {
		return 0, err
	}
	return int(unit), nil
}

// writeRMW reconstructs the 4 KiB page containing off around the caller's
// bytes, then erases and reprograms the whole page. Bytes outside the
// caller's range come back bit-identical.
func (c *Controller) writeRMW(page, src []byte, off int64) (int, error) {
	base := pageAlign(off)
	front := int(pageOffset(off))
	mid := min(len(src), pageSize4K-front)
	tail := pageSize4K - front - mid

	if front > 0 {
		if err := c.readBuf(page[:front], base); err != nil {
			return 0, err
		}
	}
	copy(page[front:front+mid], src)
	if tail > 0 {
		if err := c.readBuf(page[front+mid:], base+int64(front+mid)); err != nil {
			return 0, err
		}
	}

	if err := c.eraseUnit(base, pageSize4K); err != nil {
		return 0, err
	}
	if err := c.writeBuf(page, base); err != nil {
		return 0, err
	}
	return mid, nil
}

// Erase erases size bytes starting at off using the largest erase unit
// that fits, without programming anything back. Both off and size must be
// 4 KiB aligned.
func (c *Controller) Erase(off, size int64) error {
	if off%pageSize4K != 0 || size%pageSize4K != 0 {
		return &ProtocolError{Op: "erase",
			Reason: fmt.Sprintf("range 0x%x+0x%x not 4 KiB aligned", off, size)}
	}
	if size == 0 {
		return nil
	}
	if !c.inBounds(off) || clampOffset(off)+size > c.flashSize {
		return ErrNoSpace
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.currSlave = encodeAddr(off).slave
	if err := c.waitReady(); err != nil {
		return err
	}

	for remaining := size; remaining > 0; {
		unit := int64(pageSize4K)
		if off%pageSize64K == 0 && remaining >= pageSize64K {
			unit = pageSize64K
		} else if off%pageSize32K == 0 && remaining >= pageSize32K {
			unit = pageSize32K
		}
		if err := c.eraseUnit(off, unit); err != nil {
			return err
		}
		off += unit
		remaining -= unit
	}
	return nil
}

// EraseAll bulk-erases the whole flash device on slave 0. The ready-wait
// uses the bulk erase budget; chip erase takes on the order of a minute.
func (c *Controller) EraseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currSlave = 0
	if err := c.waitReady(); err != nil {
		return err
	}
	if err := c.enableWrite(); err != nil {
		return err
	}
	cmd := [1]byte{cmdBulkErase}
	if err := c.t.Transact(c.currSlave, cmd[:], false); err != nil {
		return fmt.Errorf("bulk erase: %w", err)
	}
	return c.waitReadyFor(c.cfg.BulkEraseTimeout)
}

// clampOffset strips the slave byte so arithmetic against flashSize works
// on the intra-device offset.
func clampOffset(off int64) int64 {
	a := encodeAddr(off)
	a.slave = 0
	return a.offset()
}
