package qflash

// flashAddr is the device-level form of a logical byte offset: the chip
// select index, the extended address register value ("sector"), and the
// 24-bit intra-sector address split into the three command address bytes.
type flashAddr struct {
	slave  int
	sector byte
	hi     byte
	mid    byte
	lo     byte
}

// encodeAddr splits a logical offset. The slave index lives in the top
// byte, the sector in bits 31-24, and the low 24 bits pass through.
func encodeAddr(off int64) flashAddr {
	return flashAddr{
		slave:  int(uint64(off) >> 56),
		sector: byte(off >> 24),
		hi:     byte(off >> 16),
		mid:    byte(off >> 8),
		lo:     byte(off),
	}
}

// offset reconstructs the logical offset, slave index folded back into the
// top byte.
func (a flashAddr) offset() int64 {
	off := int64(a.sector)
	off = off<<8 | int64(a.hi)
	off = off<<8 | int64(a.mid)
	off = off<<8 | int64(a.lo)
	return off | int64(a.slave)<<56
}

// inBounds reports whether off points into the flash. All slaves are
// assumed identically sized, so the check runs against slave 0.
func (c *Controller) inBounds(off int64) bool {
	a := encodeAddr(off)
	a.slave = 0
	return a.offset() < c.flashSize
}
