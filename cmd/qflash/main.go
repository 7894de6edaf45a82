// Command qflash programs and inspects the QSPI NOR flash on FPGA
// accelerator cards, over the memory-mapped controller registers or over an
// FT2232H bench cable.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/sigurn/crc16"

	"github.com/gentam/qflash"
)

var cli struct {
	Verbose bool `short:"v" help:"Log controller activity to stderr."`

	Dev  string `help:"Register resource file (PCI BAR resource node or /dev/mem)." type:"path" xor:"backend"`
	Base int64  `help:"Byte offset of the controller registers inside the resource." default:"0"`
	SPI  bool   `name:"spi" help:"Use an FT2232H bench cable instead of mapped registers." xor:"backend"`

	Info  InfoCmd  `cmd:"" help:"Identify the flash device."`
	Read  ReadCmd  `cmd:"" help:"Read flash contents."`
	Write WriteCmd `cmd:"" help:"Program a file into flash."`
	Erase EraseCmd `cmd:"" help:"Erase a flash region or the whole device."`
}

type app struct {
	flash *qflash.Controller
	bench *qflash.BenchDevice
	regs  *qflash.MappedRegs
}

func openApp() (*app, error) {
	var opts []qflash.Option
	if cli.Verbose {
		opts = append(opts, qflash.WithLogger(stderrLogger{}))
	}

	a := &app{}
	var t qflash.Transactor
	switch {
	case cli.SPI:
		bench, err := qflash.OpenBench()
		if err != nil {
			return nil, err
		}
		// The FPGA must be off the bus while we drive the flash.
		if err := bench.HoldFPGAReset(); err != nil {
			return nil, fmt.Errorf("hold FPGA reset: %w", err)
		}
		a.bench = bench
		t = bench.Transactor()

	case cli.Dev != "":
		regs, err := qflash.MapRegisters(cli.Dev, cli.Base)
		if err != nil {
			return nil, err
		}
		a.regs = regs
		eng, err := qflash.NewEngine(regs, opts...)
		if err != nil {
			regs.Close()
			return nil, err
		}
		t = eng

	default:
		return nil, errors.New("one of --dev or --spi is required")
	}

	flash, err := qflash.New(t, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.flash = flash
	return a, nil
}

func (a *app) close() {
	if a.bench != nil {
		a.bench.ReleaseFPGAReset()
		if !a.bench.Done() {
			fmt.Fprintln(os.Stderr,
				color.YellowString("FPGA has not reported done yet; configuration may still be running"))
		}
	}
	if a.regs != nil {
		a.regs.Close()
	}
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("qflash"),
		kong.Description("QSPI NOR flash tool for FPGA accelerator cards."),
		kong.UsageOnError(),
	)

	a, err := openApp()
	if err != nil {
		fatal(err)
	}
	defer a.close()

	if err := ctx.Run(a); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("qflash: %v", err))
	os.Exit(1)
}

type InfoCmd struct{}

func (InfoCmd) Run(a *app) error {
	fmt.Printf("vendor: %s\n", a.flash.VendorName())
	fmt.Printf("type:   %s\n", a.flash.Type())
	fmt.Printf("size:   %d MiB\n", a.flash.Size()>>20)
	for k, v := range a.flash.Attrs() {
		fmt.Printf("attr:   %s=%s\n", k, v)
	}
	return nil
}

type ReadCmd struct {
	Offset int64  `help:"Flash offset to read from." default:"0"`
	Length int64  `short:"n" help:"Bytes to read (default: to end of flash)."`
	Output string `short:"o" help:"Output file (default: stdout)." default:"-"`
	ID     bool   `help:"Print the JEDEC identification bytes instead of data." xor:"what"`
	Status bool   `help:"Print the flash status register instead of data." xor:"what"`
}

func (r ReadCmd) Run(a *app) error {
	if r.ID {
		id, err := a.flash.ID()
		if err != nil {
			return err
		}
		fmt.Printf("% 02X\n", id)
		return nil
	}
	if r.Status {
		status, err := a.flash.Status()
		if err != nil {
			return err
		}
		fmt.Printf("0x%02X\n", status)
		return nil
	}

	f, err := a.flash.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(r.Offset, io.SeekStart); err != nil {
		return err
	}
	length := r.Length
	if length == 0 {
		length = a.flash.Size() - r.Offset
	}

	var w io.Writer = os.Stdout
	if r.Output != "-" {
		out, err := os.Create(r.Output)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}

	n, err := io.CopyN(w, f, length)
	if err != nil {
		return fmt.Errorf("read %d of %d bytes: %w", n, length, err)
	}
	return nil
}

type WriteCmd struct {
	Input  string `arg:"" help:"File to program." type:"existingfile"`
	Offset int64  `help:"Flash offset to program at." default:"0"`
	Verify bool   `help:"Read the range back and compare checksums."`
}

func (w WriteCmd) Run(a *app) error {
	data, err := os.ReadFile(w.Input)
	if err != nil {
		return err
	}

	f, err := a.flash.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(w.Offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	fmt.Println(color.GreenString("programmed %d bytes at 0x%x", len(data), w.Offset))

	if w.Verify {
		if err := verify(a.flash, data, w.Offset); err != nil {
			return err
		}
		fmt.Println(color.GreenString("verify OK"))
	}
	return nil
}

func verify(c *qflash.Controller, data []byte, off int64) error {
	table := crc16.MakeTable(crc16.CRC16_XMODEM)
	want := crc16.Checksum(data, table)

	back := make([]byte, len(data))
	n, err := c.ReadAt(back, off)
	if err != nil {
		return fmt.Errorf("verify readback: %w", err)
	}
	if got := crc16.Checksum(back[:n], table); n != len(data) || got != want {
		return fmt.Errorf("verify failed: checksum 0x%04X, want 0x%04X", got, want)
	}
	return nil
}

type EraseCmd struct {
	Offset int64 `help:"Flash offset to erase from." default:"0"`
	Size   int64 `help:"Bytes to erase (4 KiB aligned)." xor:"range"`
	All    bool  `help:"Erase the entire device." xor:"range"`
}

func (e EraseCmd) Run(a *app) error {
	if e.All {
		fmt.Println("erasing entire device, this takes a while...")
		if err := a.flash.EraseAll(); err != nil {
			return err
		}
	} else {
		if e.Size == 0 {
			return errors.New("either --size or --all is required")
		}
		if err := a.flash.Erase(e.Offset, e.Size); err != nil {
			return err
		}
	}
	fmt.Println(color.GreenString("erase OK"))
	return nil
}

// stderrLogger prints controller activity as k=v lines.
type stderrLogger struct{}

func (stderrLogger) Debug(msg string, kv ...any) { logLine("debug", msg, kv) }
func (stderrLogger) Info(msg string, kv ...any)  { logLine("info", msg, kv) }
func (stderrLogger) Error(msg string, kv ...any) { logLine("error", msg, kv) }

func logLine(level, msg string, kv []any) {
	fmt.Fprintf(os.Stderr, "%s: %s", level, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(os.Stderr, " %v=%v", kv[i], kv[i+1])
	}
	fmt.Fprintln(os.Stderr)
}
