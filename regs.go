package qflash

// Controller register offsets [PG153]:
const (
	regSoftReset   = 0x40 // software reset (W)
	regControl     = 0x60 // SPI control (RW)
	regStatus      = 0x64 // SPI status (R)
	regTxData      = 0x68 // transmit FIFO, one byte per write (W)
	regRxData      = 0x6C // receive FIFO, one byte per read (R)
	regSlaveSel    = 0x70 // slave select mask, active low (RW)
	regTxOccupancy = 0x74 // transmit FIFO occupancy (R)
	regRxOccupancy = 0x78 // receive FIFO occupancy (R)
)

// Control register bits:
const (
	ctrlLoopback     = 1 << 0
	ctrlEnabled      = 1 << 1
	ctrlMasterMode   = 1 << 2
	ctrlClkPolarity  = 1 << 3
	ctrlClkPhase     = 1 << 4
	ctrlTxFIFOReset  = 1 << 5 // self-clearing
	ctrlRxFIFOReset  = 1 << 6 // self-clearing
	ctrlManualSlave  = 1 << 7
	ctrlTransInhibit = 1 << 8
	ctrlLSBFirst     = 1 << 9

	ctrlInitState = ctrlTransInhibit | ctrlManualSlave | ctrlRxFIFOReset |
		ctrlTxFIFOReset | ctrlEnabled | ctrlMasterMode
)

// Status register bits:
const (
	statusRxEmpty      = 1 << 0
	statusRxFull       = 1 << 1
	statusTxEmpty      = 1 << 2
	statusTxFull       = 1 << 3
	statusModeErr      = 1 << 4
	statusSlaveMode    = 1 << 5
	statusCPOLCPHAErr  = 1 << 6
	statusSlaveModeErr = 1 << 7
	statusMSBErr       = 1 << 8
	statusLoopbackErr  = 1 << 9
	statusCmdErr       = 1 << 10

	statusErrAny = statusCmdErr | statusLoopbackErr | statusMSBErr |
		statusSlaveModeErr | statusCPOLCPHAErr | statusModeErr
)

// Flash command set [N25Q|Table 16], [MX25]:
const (
	cmdPageProgram  = 0x02 // page program (single I/O)
	cmdStatusRead   = 0x05 // read status register
	cmdWriteEnable  = 0x06 // set write enable latch
	cmdSubsector4K  = 0x20 // 4 KiB subsector erase
	cmdQuadWrite    = 0x32 // quad input fast program
	cmdSubsector32K = 0x52 // 32 KiB subsector erase
	cmdQuadRead     = 0x6B // quad output fast read
	cmdReadID       = 0x9F // read JEDEC ID
	cmdExtAddrWrite = 0xC5 // write extended address register
	cmdBulkErase    = 0xC7 // whole-chip erase
	cmdSectorErase  = 0xD8 // 64 KiB sector erase
)

// Flash device status register, bit 0: write/erase in progress.
const flashStatusBusy = 0x01

// Chip selects. Up to two identically sized flash devices sit behind the
// controller; the slave select register is active low, one bit per line.
const (
	maxSlaves       = 2
	slaveNone       = -1
	slaveSelectNone = 1<<maxSlaves - 1
)

// Erase units. Read-modify-write always works on the smallest unit.
const (
	pageSize4K  = 4 << 10
	pageSize32K = 32 << 10
	pageSize64K = 64 << 10

	pageMask = pageSize4K - 1
)

// sectorBytes is the region addressed by one value of the extended address
// register (the "sector" byte, bits 31-24 of the logical offset).
const sectorBytes = 16 << 20

// sectorUnset forces a sector select before the first addressed command.
const sectorUnset = 0xFF

func pageAlign(off int64) int64  { return off &^ pageMask }
func pageOffset(off int64) int64 { return off & pageMask }

// pageRoundUp returns the first offset past the 4 KiB page containing off.
func pageRoundUp(off int64) int64 {
	return pageAlign(off) + pageSize4K
}

// eraseCmd maps an erase unit size to its command byte. Only 4 KiB, 32 KiB
// and 64 KiB units exist.
func eraseCmd(unit int64) byte {
	switch unit {
	case pageSize4K:
		return cmdSubsector4K
	case pageSize32K:
		return cmdSubsector32K
	case pageSize64K:
		return cmdSectorErase
	}
	return 0
}

// pagePlan returns the largest erase unit usable for a full-page write at
// off with n bytes remaining, or 0 when only read-modify-write works.
func pagePlan(off int64, n int) int64 {
	if off%pageSize64K == 0 && n >= pageSize64K {
		return pageSize64K
	}
	if off%pageSize32K == 0 && n >= pageSize32K {
		return pageSize32K
	}
	if off%pageSize4K == 0 && n >= pageSize4K {
		return pageSize4K
	}
	return 0
}
