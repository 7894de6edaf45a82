package qflash

// Transactor executes one flash command transaction: assert the chip
// select for slave, clock out buf, and deassert. When readback is set, the
// bytes clocked back from the device replace buf in place; full-duplex SPI
// always returns exactly as many bytes as were sent.
//
// The memory-mapped FIFO engine is the production implementation;
// SPITransactor drives the same command set through a bench SPI cable.
type Transactor interface {
	Transact(slave int, buf []byte, readback bool) error

	// MaxTransfer is the per-transaction byte budget, command header
	// included.
	MaxTransfer() int
}
