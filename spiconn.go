package qflash

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// SPITransactor drives the flash command set through a generic SPI port
// with a GPIO chip select, for programming boards on the bench before the
// memory-mapped controller is reachable. A bench cable has a single chip
// select line, so only slave 0 exists.
type SPITransactor struct {
	conn spi.Conn
	cs   gpio.PinIO
}

func NewSPITransactor(conn spi.Conn, cs gpio.PinIO) *SPITransactor {
	return &SPITransactor{conn: conn, cs: cs}
}

// Transact wraps one SPI transaction with CS assertion. SPI is full
// duplex, so the response always lands in buf; callers that set readback
// look at it, others ignore it.
func (s *SPITransactor) Transact(slave int, buf []byte, readback bool) (err error) {
	if slave != 0 {
		return &ProtocolError{Op: "spi transact", Reason: "bench cable has a single chip select"}
	}
	if err = s.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := s.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = s.conn.Tx(buf, buf)
	return
}

// MaxTransfer is the MPSSE transfer ceiling. [FTDI-AN_108]
func (s *SPITransactor) MaxTransfer() int { return 65536 }
