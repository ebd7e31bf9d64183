package w5500

// Bus is the synchronous byte-exchange transport over which the driver
// speaks the chip's register protocol, typically an SPI controller with a
// dedicated chip-select line. The driver never assumes a specific bus
// controller; implementations are supplied by the caller. See the spidev
// subpackage for a Linux implementation and internal/chiptest for a
// simulated chip.
//
// Implementations need not be safe for concurrent use; the driver issues
// transactions from a single logical thread of control.
type Bus interface {
	// Select asserts the chip-select line, opening a transaction.
	Select()
	// Deselect deasserts the chip-select line, closing the transaction.
	Deselect()
	// Transfer exchanges a single byte full-duplex: b is shifted out while
	// the returned byte is shifted in.
	Transfer(b byte) byte
}

// busIO performs one framed bus transaction against the selected block:
// chip select, 3-byte command (16-bit big-endian offset followed by a
// control byte encoding block selector and data direction), then len(buf)
// full-duplex byte exchanges, then deselect. Writes shift out buf; reads
// shift out zeros and capture the response into buf. The transaction
// boundary is atomic with respect to register semantics: no exit path
// leaves chip select asserted.
//
// busIO cannot fail. A dead or miswired bus is invisible at this layer and
// surfaces only as stuck or incorrect register values observed by callers.
func (d *Device) busIO(block blockSelector, addr uint16, wr bool, buf []byte) {
	ctl := uint8(block) << 3
	if wr {
		ctl |= 1 << 2
	}
	bus := d.bus
	bus.Select()
	bus.Transfer(byte(addr >> 8))
	bus.Transfer(byte(addr))
	bus.Transfer(ctl)
	if wr {
		for _, b := range buf {
			bus.Transfer(b)
		}
	} else {
		for i := range buf {
			buf[i] = bus.Transfer(0)
		}
	}
	bus.Deselect()
}

func (d *Device) write(block blockSelector, addr uint16, data []byte) {
	d.busIO(block, addr, true, data)
}

func (d *Device) read(block blockSelector, addr uint16, dst []byte) {
	d.busIO(block, addr, false, dst)
}

func (d *Device) write8(block blockSelector, addr uint16, v uint8) {
	buf := [1]byte{v}
	d.write(block, addr, buf[:])
}

func (d *Device) read8(block blockSelector, addr uint16) uint8 {
	var buf [1]byte
	d.read(block, addr, buf[:])
	return buf[0]
}

// Multi-byte registers are big-endian on the wire.

func (d *Device) write16(block blockSelector, addr uint16, v uint16) {
	buf := [2]byte{byte(v >> 8), byte(v)}
	d.write(block, addr, buf[:])
}

func (d *Device) read16(block blockSelector, addr uint16) uint16 {
	var buf [2]byte
	d.read(block, addr, buf[:])
	return uint16(buf[0])<<8 | uint16(buf[1])
}

// read16Stable reads a 16-bit register twice in succession and accepts the
// value only when both reads agree, retrying up to the wait bound. The
// double read is a lock-free consistency check against the chip updating
// the register mid-read; a persistent mismatch means the register never
// settled and ok is false.
func (d *Device) read16Stable(block blockSelector, addr uint16) (v uint16, ok bool) {
	for i := 0; i < maxWaitIters; i++ {
		first := d.read16(block, addr)
		second := d.read16(block, addr)
		if first == second {
			return second, true
		}
	}
	return 0, false
}

// waitBitClear8 polls an 8-bit register until the masked bits self-clear,
// bounded by maxWaitIters.
func (d *Device) waitBitClear8(block blockSelector, addr uint16, mask uint8) bool {
	for i := 0; i < maxWaitIters; i++ {
		if d.read8(block, addr)&mask == 0 {
			return true
		}
	}
	return false
}

// waitCmdClear polls the socket command register until the chip accepts the
// pending command, bounded by maxWaitIters.
func (d *Device) waitCmdClear() bool {
	for i := 0; i < maxWaitIters; i++ {
		if d.read8(blockSocket0, regSnCR) == 0 {
			return true
		}
	}
	return false
}
