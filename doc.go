// Package qflash programs and reads the QSPI NOR flash behind the
// memory-mapped flash controller found on FPGA accelerator cards.
//
// The controller exposes a single TX/RX FIFO pair and up to two chip
// select lines. Every flash command is one FIFO transaction: the command
// bytes are pushed into the TX FIFO, transmission is released, and the
// same number of bytes is clocked back through the RX FIFO. Reads and
// writes at arbitrary byte offsets are translated into page-aligned
// erase+program sequences, falling back to read-modify-write of a single
// 4 KiB page when the range is not page-aligned.
//
// The same command set can also be driven through a plain SPI port with a
// GPIO chip select (see SPITransactor), which is how boards are programmed
// on the bench over an FT2232H cable before the controller is reachable.
//
// # References:
//
// Controller
//   - [PG153]: AXI Quad SPI LogiCORE IP Product Guide (https://docs.amd.com/r/en-US/pg153-axi-quad-spi)
//
// SPI Flash
//   - [N25Q]: Micron N25Q serial NOR flash datasheet (Table 16: Command Set)
//   - [MX25]: Macronix MX25L multi-I/O serial NOR flash datasheet
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
package qflash
