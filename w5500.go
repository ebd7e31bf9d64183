// Package w5500 implements a polled MAC-raw driver for the WIZnet W5500
// SPI Ethernet controller. The driver opens hardware socket 0 in MACRAW
// mode and exposes raw Ethernet frame transmit/receive plus link state to
// an upper-layer stack, keeping no chip state in driver memory: every
// decision re-reads the live registers over the bus.
//
// The driver never blocks. Every wait on a hardware register is a bounded
// retry loop that degrades to an error; the caller's next poll cycle is the
// retry mechanism.
package w5500

import (
	"errors"
	"log/slog"

	"github.com/soypat/w5500/internal"
)

// Compile-time driver knobs.
const (
	// maxWaitIters bounds every busy-wait on a hardware register. It is an
	// iteration count, not a wall-clock timeout: the polling loop owns time.
	maxWaitIters = 1000
	// defaultBufferKB is the per-socket RX/TX buffer size programmed during
	// Init when the config leaves it zero. Socket 0 gets the chip's entire
	// 16KiB of buffer memory in single-socket MACRAW operation.
	defaultBufferKB = 16
)

var (
	errNotConfigured     = errors.New("w5500: Configure device before use")
	errBadBufferSize     = errors.New("w5500: buffer size must be 1, 2, 4, 8 or 16 KiB")
	errBadHardwareAddr   = errors.New("w5500: hardware address must be 6 bytes")
	errResetTimeout      = errors.New("w5500: reset bit did not self-clear")
	errCommandTimeout    = errors.New("w5500: socket command did not clear")
	errUnexpectedStatus  = errors.New("w5500: unexpected socket status after open")
	errRxSizeUnstable    = errors.New("w5500: RX received-size register unstable")
	errTxFreeUnstable    = errors.New("w5500: TX free-size register unstable")
	errTxExceedsFree     = errors.New("w5500: frame exceeds TX free size")
	errRxExceedsBuffer   = errors.New("w5500: received frame exceeds destination buffer")
	errSocketClosed      = errors.New("w5500: socket closed, reinitialize interface")
	errSendFault         = errors.New("w5500: send timeout or disconnect")
)

// Device is a W5500 chip driver instance bound to a [Bus] transport.
// The zero value is unusable; call [Device.Configure] first.
//
// Device methods are not safe for concurrent use: the system is driven by a
// single caller-owned polling loop. Callers that share the bus with an
// asynchronous context must bracket calls externally (see ethif).
type Device struct {
	bus   Bus
	bufKB uint8
	logger
}

// DeviceConfig configures a [Device]. The zero value selects defaults.
type DeviceConfig struct {
	// BufferSizeKB is the socket 0 RX and TX buffer size in kibibytes.
	// Valid values are 1, 2, 4, 8 and 16. Zero selects 16.
	BufferSizeKB uint8
	// Logger receives driver diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Configure validates cfg and binds the device to bus. It performs no bus
// traffic; call [Device.Init] to reset and program the chip.
func (d *Device) Configure(bus Bus, cfg DeviceConfig) error {
	if bus == nil {
		return errors.New("w5500: nil bus")
	}
	bufKB := cfg.BufferSizeKB
	if bufKB == 0 {
		bufKB = defaultBufferKB
	}
	switch bufKB {
	case 1, 2, 4, 8, 16:
	default:
		return errBadBufferSize
	}
	*d = Device{
		bus:    bus,
		bufKB:  bufKB,
		logger: logger{log: cfg.Logger},
	}
	return nil
}

// Init resets and programs the chip for MACRAW operation on socket 0.
// If hwaddr is a 6-byte hardware address it is programmed into the common
// address register and the socket opens with MAC filtering enabled; a nil
// hwaddr opens the socket unfiltered. hwaddr must not change for the
// lifetime of the interface.
//
// Init may be re-invoked to re-run the full reset sequence but must not be
// called concurrently with Send or Recv.
func (d *Device) Init(hwaddr []byte) error {
	if d.bus == nil {
		return errNotConfigured
	}
	if hwaddr != nil && len(hwaddr) != 6 {
		return errBadHardwareAddr
	}
	d.bus.Deselect() // In case a previous transaction was left half-open.

	d.write8(blockCommon, addrMR, mrRST)
	if !d.waitBitClear8(blockCommon, addrMR, mrRST) {
		return errResetTimeout
	}
	// PHY reset followed by all-capable auto-negotiation.
	d.write8(blockCommon, addrPHYCFGR, 0)
	d.write8(blockCommon, addrPHYCFGR, uint8(phyRSTn|phyOPMD|phyOPMDCAll))

	d.write8(blockSocket0, regSnRXBUFSIZE, d.bufKB)
	d.write8(blockSocket0, regSnTXBUFSIZE, d.bufKB)

	if hwaddr != nil {
		d.write(blockCommon, addrSHAR, hwaddr)
		d.write8(blockSocket0, regSnMR, snMRMACRaw|snMRMFEN)
	} else {
		d.write8(blockSocket0, regSnMR, snMRMACRaw)
	}
	d.write8(blockSocket0, regSnCR, cmdOpen)
	if !d.waitCmdClear() {
		return errCommandTimeout
	}
	status := d.SocketStatus()
	if status != StatusMACRaw {
		d.error("w5500:init", slog.String("err", "socket not in macraw"), slog.String("status", status.String()))
		return errUnexpectedStatus
	}
	d.debug("w5500:init-ok", slog.Uint64("version", uint64(d.Version())), slog.Uint64("bufKB", uint64(d.bufKB)))
	return nil
}

// Recv reads one pending Ethernet frame into dst and returns its payload
// length. A result of (0, nil) means no frame is available; poll again next
// cycle. A frame larger than dst is discarded whole, never truncated: the
// RX pointer still advances past it and Recv reports 0 bytes so a corrupted
// partial frame can never reach a higher layer.
func (d *Device) Recv(dst []byte) (int, error) {
	size, ok := d.read16Stable(blockSocket0, regSnRXRSR)
	if !ok {
		// A changing value means a frame is still arriving over the wire.
		return 0, errRxSizeUnstable
	}
	if size == 0 {
		return 0, nil
	}
	ptr := d.read16(blockSocket0, regSnRXRD)
	// Each MACRAW frame is prefixed by a 2-byte big-endian length field
	// that counts itself.
	var hdr [2]byte
	d.read(blockSocket0RX, ptr, hdr[:])
	frameLen := uint16(hdr[0])<<8 | uint16(hdr[1])
	var payloadLen uint16
	if frameLen > 2 {
		payloadLen = frameLen - 2
	}

	var err error
	if int(payloadLen) > len(dst) {
		d.warn("w5500:rx-discard", internal.SlogReg16("payloadlen", payloadLen), slog.Int("buflen", len(dst)))
		payloadLen = 0
		err = errRxExceedsBuffer
	} else {
		d.read(blockSocket0RX, ptr+2, dst[:payloadLen])
	}

	// Advance past the entire frame, header included. Pointer arithmetic
	// wraps at 2^16; the chip masks it down to the buffer size.
	d.write16(blockSocket0, regSnRXRD, ptr+frameLen)
	d.write8(blockSocket0, regSnCR, cmdRecv)
	if !d.waitCmdClear() {
		// The pointer advance is committed. The caller must keep polling
		// rather than retry this frame.
		d.error("w5500:rx", slog.String("err", "RECV command not accepted"))
		return 0, errCommandTimeout
	}
	return int(payloadLen), err
}

// Send transmits frame as a single unit and returns the number of bytes
// accepted, either len(frame) or 0. A frame is never fragmented across
// calls: if the hardware TX buffer lacks room the call fails with no
// partial effect. A (0, error) result with the socket in a closed state
// signals the higher layer to re-initialize the interface.
func (d *Device) Send(frame []byte) (int, error) {
	if len(frame) == 0 {
		return 0, nil
	}
	free, ok := d.read16Stable(blockSocket0, regSnTXFSR)
	if !ok {
		return 0, errTxFreeUnstable
	}
	if int(free) < len(frame) {
		d.warn("w5500:tx-full", internal.SlogReg16("free", free), slog.Int("framelen", len(frame)))
		return 0, errTxExceedsFree
	}
	status := d.SocketStatus()
	if status.isNonOperational() {
		d.error("w5500:tx", slog.String("err", "socket not operational"), slog.String("status", status.String()))
		return 0, errSocketClosed
	}

	ptr := d.read16(blockSocket0, regSnTXWR)
	d.write(blockSocket0TX, ptr, frame)
	d.write16(blockSocket0, regSnTXWR, ptr+uint16(len(frame)))
	d.write8(blockSocket0, regSnCR, cmdSend)
	if !d.waitCmdClear() {
		d.error("w5500:tx", slog.String("err", "SEND command not accepted"))
		return 0, errCommandTimeout
	}

	// Wait for the send outcome interrupt and clear whatever was raised so
	// no stale flag survives into the next call.
	var ir sockIR
	for i := 0; i < maxWaitIters; i++ {
		ir = d.readIRAndClear()
		if ir&(irSENDOK|irTIMEOUT|irDISCON) != 0 {
			break
		}
	}
	if ir&(irTIMEOUT|irDISCON) != 0 {
		// The command completed but the frame did not leave the wire
		// reliably. Partial transmission is not observable; report failure.
		d.error("w5500:tx", slog.String("err", "send fault"), slog.Uint64("ir", uint64(ir)))
		return 0, errSendFault
	}
	if ir&irSENDOK == 0 {
		d.warn("w5500:tx-noirq", slog.Uint64("ir", uint64(ir)))
	}
	return len(frame), nil
}

// readIRAndClear reads the socket interrupt register masked to its defined
// bits and writes any set bits back to clear them.
func (d *Device) readIRAndClear() sockIR {
	ir := sockIR(d.read8(blockSocket0, regSnIR)) & irMaskAll
	if ir != 0 {
		d.write8(blockSocket0, regSnIR, uint8(ir))
	}
	return ir
}

// PollLink reports whether the PHY link is up. It is a pure observation
// with no side effects and is safe to call every poll cycle.
func (d *Device) PollLink() bool {
	return PHYCfg(d.read8(blockCommon, addrPHYCFGR)).LinkUp()
}

// PHYStatus returns the live PHY configuration register contents with link,
// speed and duplex state.
func (d *Device) PHYStatus() PHYCfg {
	return PHYCfg(d.read8(blockCommon, addrPHYCFGR))
}

// SocketStatus returns the live socket 0 hardware status.
func (d *Device) SocketStatus() Status {
	return Status(d.read8(blockSocket0, regSnSR))
}

// Version reads the chip version register. Real silicon reports 0x04; any
// other value usually means a wiring or bus framing problem.
func (d *Device) Version() uint8 {
	return d.read8(blockCommon, addrVERSIONR)
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
