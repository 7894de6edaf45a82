package qflash

import (
	"fmt"
	"time"
)

// busyWait polls cond every interval until it reports true or the timeout
// expires. It returns true if the wait timed out.
func busyWait(cond func() bool, interval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// Engine drives the controller's FIFO command protocol. It is the only
// code that touches hardware registers. One Engine owns one register
// block; serialization across callers is the Controller's job.
type Engine struct {
	regs      RegisterBlock
	fifoDepth int
	cfg       Config
	log       Logger
}

// NewEngine puts the controller into a known state (master mode, manual
// slave select, transmission inhibited, both FIFOs reset, all chip selects
// deasserted) and probes the transmit FIFO depth.
func NewEngine(regs RegisterBlock, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &Engine{regs: regs, cfg: cfg, log: cfg.Logger}

	e.setCtrl(ctrlInitState)
	e.selectSlave(slaveNone)

	depth, err := e.probeFIFODepth()
	if err != nil {
		return nil, fmt.Errorf("probe FIFO depth: %w", err)
	}
	if depth == 0 {
		return nil, &ProtocolError{Op: "probe FIFO depth", Reason: "transmit FIFO reported zero depth"}
	}
	e.fifoDepth = depth
	e.log.Debug("controller initialized", "fifo_depth", depth)
	return e, nil
}

// MaxTransfer reports the discovered FIFO depth: one transaction must fit
// in the transmit FIFO whole.
func (e *Engine) MaxTransfer() int { return e.fifoDepth }

func (e *Engine) status() uint32   { return e.regs.Read32(regStatus) }
func (e *Engine) ctrl() uint32     { return e.regs.Read32(regControl) }
func (e *Engine) setCtrl(v uint32) { e.regs.Write32(regControl, v) }
func (e *Engine) send8(b byte)     { e.regs.Write32(regTxData, uint32(b)) }
func (e *Engine) read8() byte      { return byte(e.regs.Read32(regRxData)) }

// hasErr reports whether any error status bit is set. Callers must treat
// a true result as a hard failure of the in-flight transaction.
func (e *Engine) hasErr() bool {
	status := e.status()
	if status&statusErrAny == 0 {
		return false
	}
	e.log.Error("controller error status", "status", fmt.Sprintf("0x%x", status))
	return true
}

// selectSlave writes the active-low select mask asserting exactly one chip
// select line, or none for slaveNone.
func (e *Engine) selectSlave(index int) {
	mask := uint32(slaveSelectNone)
	if index != slaveNone {
		mask = ^uint32(1 << index)
	}
	e.regs.Write32(regSlaveSel, mask)
}

// resetFIFOs drains both FIFOs. It returns immediately when both are
// already empty.
func (e *Engine) resetFIFOs() error {
	const fifoMask = statusTxFull | statusRxFull | statusTxEmpty | statusRxEmpty
	const fifoEmpty = statusTxEmpty | statusRxEmpty

	if e.status()&fifoMask == fifoEmpty {
		return nil
	}

	e.setCtrl(e.ctrl() | ctrlTxFIFOReset | ctrlRxFIFOReset)

	timedOut := busyWait(func() bool {
		return e.status()&fifoMask == fifoEmpty
	}, e.cfg.PollInterval, e.cfg.WaitTimeout)
	if timedOut {
		return fmt.Errorf("reset FIFOs: status 0x%x: %w", e.status(), ErrTimeout)
	}
	return nil
}

// tx pushes buf into the transmit FIFO, releases transmission, and waits
// for the FIFO to drain. The caller guarantees len(buf) <= fifoDepth.
func (e *Engine) tx(buf []byte) error {
	ctrl := e.ctrl()

	// Stop transferring while the FIFO is filled.
	e.setCtrl(ctrl | ctrlTransInhibit)
	for _, b := range buf {
		e.send8(b)
	}
	e.setCtrl(ctrl &^ ctrlTransInhibit)

	timedOut := busyWait(func() bool {
		return e.status()&(statusTxEmpty|statusErrAny) != 0
	}, e.cfg.PollInterval, e.cfg.WaitTimeout)
	if timedOut {
		return fmt.Errorf("transmit: status 0x%x: %w", e.status(), ErrTimeout)
	}

	// Always stop transferring once the FIFO has drained.
	e.setCtrl(ctrl | ctrlTransInhibit)

	if e.hasErr() {
		return &DeviceError{Op: "transmit", Status: e.status()}
	}
	return nil
}

// rx pulls exactly n bytes out of the receive FIFO into buf (discarding
// them when buf is nil). The FIFO must hold exactly n bytes.
func (e *Engine) rx(buf []byte, n int) error {
	for i := 0; i < n; i++ {
		if e.status()&statusRxEmpty != 0 {
			return &ProtocolError{Op: "receive", Reason: "receive FIFO ran dry"}
		}
		c := e.read8()
		if buf != nil {
			buf[i] = c
		}
	}
	if e.status()&statusRxEmpty == 0 {
		return &ProtocolError{Op: "receive", Reason: "receive FIFO not drained"}
	}
	if e.hasErr() {
		return &DeviceError{Op: "receive", Status: e.status()}
	}
	return nil
}

// Transact runs one FIFO transaction: reset both FIFOs, assert the chip
// select, clock out buf, and drain the response. The chip select is
// deasserted afterwards even when the transaction fails.
func (e *Engine) Transact(slave int, buf []byte, readback bool) error {
	if len(buf) > e.fifoDepth {
		return &ProtocolError{Op: "transact",
			Reason: fmt.Sprintf("%d bytes exceed FIFO depth %d", len(buf), e.fifoDepth)}
	}
	if slave < 0 || slave >= maxSlaves {
		return &ProtocolError{Op: "transact",
			Reason: fmt.Sprintf("slave index %d out of range", slave)}
	}

	if err := e.resetFIFOs(); err != nil {
		return err
	}
	e.selectSlave(slave)

	err := e.tx(buf)
	if err == nil {
		if readback {
			err = e.rx(buf, len(buf))
		} else {
			// The FIFO must be drained even when the response is garbage.
			err = e.rx(nil, len(buf))
		}
	}

	e.selectSlave(slaveNone)
	return err
}

// probeFIFODepth discovers the transmit FIFO depth by pushing filler bytes
// with transmission inhibited until the full flag or an error bit shows.
// Pushing zero bytes trips the command decoder, so the filler is 0x01.
func (e *Engine) probeFIFODepth() (int, error) {
	if err := e.resetFIFOs(); err != nil {
		return 0, err
	}

	ctrl := e.ctrl()
	e.setCtrl(ctrl | ctrlTransInhibit)

	depth := 0
	for e.status()&(statusTxFull|statusErrAny) == 0 {
		e.send8(0x01)
		depth++
	}

	if e.hasErr() {
		return 0, &DeviceError{Op: "probe FIFO depth", Status: e.status()}
	}

	// Restore the control register and drop the filler bytes.
	e.setCtrl(ctrl)
	if err := e.resetFIFOs(); err != nil {
		return 0, err
	}
	return depth, nil
}
