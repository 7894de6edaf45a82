package qflash

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// BenchDevice is an FT2232H programming cable wired to the flash's SPI
// pins, with the FPGA held in reset so it cannot act as a bus master.
type BenchDevice struct {
	FTDI *ftdi.FT232H

	cs    gpio.PinIO // ADBUS4 Chip Select
	reset gpio.PinIO // ADBUS7 FPGA Reset
	cdone gpio.PinIO // ADBUS6 FPGA Done

	clock physic.Frequency
	conn  spi.Conn
}

var hostInitialized atomic.Bool

// OpenBench finds an FT2232H cable and opens the MPSSE/SPI connection.
func OpenBench() (*BenchDevice, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	d := &BenchDevice{
		clock: 30 * physic.MegaHertz, // [FTDI-AN_135 3.2.1 Divisors]
	}
	if err := d.findFT2232H(); err != nil {
		return nil, err
	}

	d.cs = d.FTDI.D4
	d.reset = d.FTDI.D7
	d.cdone = d.FTDI.D6

	if err := d.connectSPI(); err != nil {
		return nil, err
	}
	return d, nil
}

// Transactor returns the flash-command transport over this cable.
func (d *BenchDevice) Transactor() *SPITransactor {
	return NewSPITransactor(d.conn, d.cs)
}

// HoldFPGAReset asserts the FPGA reset line so the FPGA releases the
// flash's SPI bus.
func (d *BenchDevice) HoldFPGAReset() error { return d.reset.Out(gpio.Low) }

// ReleaseFPGAReset deasserts the FPGA reset line.
func (d *BenchDevice) ReleaseFPGAReset() error { return d.reset.Out(gpio.High) }

// Done reports whether the FPGA has configured itself from flash, sampled
// from the CDONE pin. Configuration takes a moment after the reset line is
// released.
func (d *BenchDevice) Done() bool { return d.cdone.Read() == gpio.High }

func (d *BenchDevice) findFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			return nil
		}
	}
	return errors.New("FT2232H device not found")
}

func (d *BenchDevice) connectSPI() (err error) {
	port, err := d.FTDI.SPI()
	if err != nil {
		return fmt.Errorf("failed to get SPI port: %w", err)
	}

	// [FTDI-AN_114|1.2] MPSSE supports mode 0 and mode 2 only; the flash
	// parts take mode 0 and mode 3, so mode 0 it is.
	d.conn, err = port.Connect(d.clock, spi.Mode0, 8)
	return err
}
