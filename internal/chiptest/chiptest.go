// Package chiptest simulates a W5500 Ethernet controller behind its SPI
// byte protocol. It implements the driver's Bus capability set and models
// the register files, MACRAW frame buffers and command handshakes of the
// real chip, with programmable latencies and fault injection for stuck and
// unstable registers. It exists so driver and shim tests run against chip
// behavior instead of canned register traces.
package chiptest

// Register layout mirrored from the chip's datasheet. The simulator keeps
// its own copy of these constants: it models the silicon, not the driver.
const (
	blockCommon = 0
	blockSocket = 1
	blockTX     = 2
	blockRX     = 3

	addrMR       = 0x0000
	addrSHAR     = 0x0009
	addrPHYCFGR  = 0x002E
	addrVERSIONR = 0x0039

	regSnMR        = 0x0000
	regSnCR        = 0x0001
	regSnIR        = 0x0002
	regSnSR        = 0x0003
	regSnRXBUFSIZE = 0x001E
	regSnTXBUFSIZE = 0x001F
	regSnTXFSR     = 0x0020
	regSnTXRD      = 0x0022
	regSnTXWR      = 0x0024
	regSnRXRSR     = 0x0026
	regSnRXRD      = 0x0028
	regSnRXWR      = 0x002A

	mrRST      = 0x80
	snMRMACRaw = 0x04
	snMRTCP    = 0x01
	snMRUDP    = 0x02

	cmdOpen  = 0x01
	cmdClose = 0x10
	cmdSend  = 0x20
	cmdRecv  = 0x40

	irSENDOK = 0x10

	statusClosed = 0x00
	statusInit   = 0x13
	statusUDP    = 0x22
	statusMACRaw = 0x42

	chipVersion = 0x04
	memSize     = 16 * 1024
)

// Sim is a simulated W5500. The zero value is a powered-up chip with the
// link down and all registers cleared. Knob fields may be set at any point
// between bus transactions.
//
// Sim panics on bus protocol violations (transfer while deselected, nested
// select) since those are driver bugs, not chip behavior.
type Sim struct {
	// ResetPolls is the number of mode register reads that still report the
	// reset bit set after a software reset is requested.
	ResetPolls int
	// CmdPolls is the number of command register reads that still report a
	// pending command before it clears.
	CmdPolls int
	// StickyReset makes the reset bit never self-clear.
	StickyReset bool
	// StickyCmd makes issued socket commands never clear.
	StickyCmd bool
	// UnstableRSR makes the next n reads of the RX received-size register
	// return a changing value, as if a frame were arriving mid-read.
	UnstableRSR int
	// UnstableFSR is the TX free-size analogue of UnstableRSR.
	UnstableFSR int
	// SendIR holds the socket interrupt bits raised when a SEND command
	// completes. Zero selects SENDOK.
	SendIR uint8
	// LinkUp drives the PHY configuration register link bit. While up the
	// PHY also reports a negotiated 100M full-duplex link.
	LinkUp bool

	common [0x40]byte
	sock   [0x30]byte
	rxmem  [memSize]byte
	txmem  [memSize]byte

	selected bool
	nb       int
	hdr      [3]byte
	block    uint8
	addr     uint16
	wr       bool

	resetStuck     bool
	resetRemaining int
	pendingCmd     uint8
	cmdStuck       bool
	cmdRemaining   int

	txRD   uint16
	rxWR   uint16
	writes int
	sent   [][]byte
}

// Select asserts the simulated chip-select line.
func (s *Sim) Select() {
	if s.selected {
		panic("chiptest: select while selected")
	}
	s.selected = true
	s.nb = 0
}

// Deselect deasserts chip select. Deselecting an already deselected chip is
// legal; the driver does so defensively before initialization.
func (s *Sim) Deselect() { s.selected = false }

// Transfer exchanges one byte with the simulated chip.
func (s *Sim) Transfer(b byte) byte {
	if !s.selected {
		panic("chiptest: transfer while deselected")
	}
	if s.nb < 3 {
		s.hdr[s.nb] = b
		s.nb++
		if s.nb == 3 {
			s.addr = uint16(s.hdr[0])<<8 | uint16(s.hdr[1])
			s.block = s.hdr[2] >> 3
			s.wr = s.hdr[2]&0x04 != 0
		}
		return 0
	}
	s.nb++
	if s.wr {
		s.writeByte(b)
		return 0
	}
	return s.readByte()
}

// IsSelected reports whether chip select is currently asserted. A true
// result between driver calls means a transaction was left open.
func (s *Sim) IsSelected() bool { return s.selected }

func (s *Sim) readByte() byte {
	v := s.regRead(s.block, s.addr)
	s.addr++
	return v
}

func (s *Sim) writeByte(b byte) {
	s.regWrite(s.block, s.addr, b)
	s.addr++
	s.writes++
}

func (s *Sim) regRead(block uint8, addr uint16) byte {
	switch block {
	case blockCommon:
		return s.commonRead(addr)
	case blockSocket:
		return s.sockRead(addr)
	case blockTX:
		return s.txmem[int(addr)&s.txMask()]
	case blockRX:
		return s.rxmem[int(addr)&s.rxMask()]
	}
	return 0
}

func (s *Sim) regWrite(block uint8, addr uint16, b byte) {
	switch block {
	case blockCommon:
		s.commonWrite(addr, b)
	case blockSocket:
		s.sockWrite(addr, b)
	case blockTX:
		s.txmem[int(addr)&s.txMask()] = b
	case blockRX:
		s.rxmem[int(addr)&s.rxMask()] = b
	}
}

func (s *Sim) commonRead(addr uint16) byte {
	switch addr {
	case addrMR:
		if s.resetStuck {
			return s.common[addrMR] | mrRST
		}
		if s.resetRemaining > 0 {
			s.resetRemaining--
			return s.common[addrMR] | mrRST
		}
		return s.common[addrMR]
	case addrPHYCFGR:
		v := s.common[addrPHYCFGR] &^ 0x07
		if s.LinkUp {
			v |= 0x07 // 100M full-duplex link established
		}
		return v
	case addrVERSIONR:
		return chipVersion
	}
	if int(addr) < len(s.common) {
		return s.common[addr]
	}
	return 0
}

func (s *Sim) commonWrite(addr uint16, b byte) {
	if int(addr) >= len(s.common) {
		return
	}
	if addr == addrMR && b&mrRST != 0 {
		s.reset()
		return
	}
	s.common[addr] = b
}

// reset models the software reset: all register state and pointers clear,
// buffer memory contents are left as-is like on real silicon.
func (s *Sim) reset() {
	s.common = [0x40]byte{}
	s.sock = [0x30]byte{}
	s.txRD = 0
	s.rxWR = 0
	s.pendingCmd = 0
	s.cmdStuck = false
	s.cmdRemaining = 0
	if s.StickyReset {
		s.resetStuck = true
		return
	}
	s.resetRemaining = s.ResetPolls
}

func (s *Sim) sockRead(addr uint16) byte {
	switch addr {
	case regSnCR:
		if s.pendingCmd == 0 {
			return 0
		}
		if s.cmdStuck {
			return s.pendingCmd
		}
		if s.cmdRemaining > 0 {
			s.cmdRemaining--
			return s.pendingCmd
		}
		s.pendingCmd = 0
		return 0
	case regSnIR:
		return s.sock[regSnIR] & 0x1f
	case regSnTXFSR:
		put16(s.sock[regSnTXFSR:], s.computeFSR())
	case regSnRXRSR:
		put16(s.sock[regSnRXRSR:], s.computeRSR())
	case regSnTXRD:
		put16(s.sock[regSnTXRD:], s.txRD)
	case regSnRXWR:
		put16(s.sock[regSnRXWR:], s.rxWR)
	}
	if int(addr) < len(s.sock) {
		return s.sock[addr]
	}
	return 0
}

func (s *Sim) sockWrite(addr uint16, b byte) {
	if int(addr) >= len(s.sock) {
		return
	}
	switch addr {
	case regSnCR:
		if b != 0 {
			s.command(b)
		}
		return
	case regSnIR:
		s.sock[regSnIR] &^= b // write-1-to-clear
		return
	}
	s.sock[addr] = b
}

// command applies a socket command's effect and arms the self-clearing
// command register handshake.
func (s *Sim) command(cmd uint8) {
	switch cmd {
	case cmdOpen:
		switch {
		case s.sock[regSnMR]&snMRMACRaw != 0:
			s.sock[regSnSR] = statusMACRaw
		case s.sock[regSnMR]&snMRUDP != 0:
			s.sock[regSnSR] = statusUDP
		case s.sock[regSnMR]&snMRTCP != 0:
			s.sock[regSnSR] = statusInit
		default:
			s.sock[regSnSR] = statusClosed
		}
	case cmdClose:
		s.sock[regSnSR] = statusClosed
	case cmdSend:
		s.captureSend()
	case cmdRecv:
		// RX received size derives from the pointers; nothing else to do.
	}
	s.pendingCmd = cmd
	if s.StickyCmd {
		s.cmdStuck = true
		return
	}
	s.cmdRemaining = s.CmdPolls
}

// captureSend copies the TX window between the internal read pointer and
// the host-written write pointer out of buffer memory and raises the send
// outcome interrupt bits.
func (s *Sim) captureSend() {
	wr := get16(s.sock[regSnTXWR:])
	n := int(wr - s.txRD) // wraps modulo 2^16 like the chip pointers
	frame := make([]byte, n)
	for i := 0; i < n; i++ {
		frame[i] = s.txmem[int(s.txRD+uint16(i))&s.txMask()]
	}
	s.sent = append(s.sent, frame)
	s.txRD = wr
	ir := s.SendIR
	if ir == 0 {
		ir = irSENDOK
	}
	s.sock[regSnIR] |= ir
}

func (s *Sim) computeFSR() uint16 {
	bufsize := uint16(s.sock[regSnTXBUFSIZE]) * 1024
	used := get16(s.sock[regSnTXWR:]) - s.txRD
	free := bufsize - used
	if s.UnstableFSR > 0 {
		free += uint16(s.UnstableFSR)
		s.UnstableFSR--
	}
	return free
}

func (s *Sim) computeRSR() uint16 {
	rsr := s.rxWR - get16(s.sock[regSnRXRD:])
	if s.UnstableRSR > 0 {
		rsr += uint16(s.UnstableRSR)
		s.UnstableRSR--
	}
	return rsr
}

func (s *Sim) rxMask() int {
	if s.sock[regSnRXBUFSIZE] == 0 {
		return memSize - 1
	}
	return int(s.sock[regSnRXBUFSIZE])*1024 - 1
}

func (s *Sim) txMask() int {
	if s.sock[regSnTXBUFSIZE] == 0 {
		return memSize - 1
	}
	return int(s.sock[regSnTXBUFSIZE])*1024 - 1
}

//
// Test inspection and stimulus API. Only call between bus transactions.
//

// InjectFrame makes payload available as one received MACRAW frame,
// prefixing the 2-byte length header the chip writes into RX memory.
// Call after the driver has initialized the chip.
func (s *Sim) InjectFrame(payload []byte) {
	frameLen := uint16(len(payload)) + 2
	s.rxPut(s.rxWR, byte(frameLen>>8))
	s.rxPut(s.rxWR+1, byte(frameLen))
	for i, b := range payload {
		s.rxPut(s.rxWR+2+uint16(i), b)
	}
	s.rxWR += frameLen
}

func (s *Sim) rxPut(addr uint16, b byte) {
	s.rxmem[int(addr)&s.rxMask()] = b
}

// SentFrames returns every frame captured by a SEND command so far.
func (s *Sim) SentFrames() [][]byte { return s.sent }

// MAC returns the programmed source hardware address register.
func (s *Sim) MAC() (mac [6]byte) {
	copy(mac[:], s.common[addrSHAR:addrSHAR+6])
	return mac
}

// SocketMode returns the socket 0 mode register.
func (s *Sim) SocketMode() uint8 { return s.sock[regSnMR] }

// SocketStatus returns the socket 0 status register.
func (s *Sim) SocketStatus() uint8 { return s.sock[regSnSR] }

// ForceSocketStatus overrides the socket 0 status register, simulating a
// state change the chip performed on its own.
func (s *Sim) ForceSocketStatus(v uint8) { s.sock[regSnSR] = v }

// RXReadPointer returns the host-managed RX read pointer register.
func (s *Sim) RXReadPointer() uint16 { return get16(s.sock[regSnRXRD:]) }

// TXWritePointer returns the host-managed TX write pointer register.
func (s *Sim) TXWritePointer() uint16 { return get16(s.sock[regSnTXWR:]) }

// BufferSizesKB returns the programmed RX and TX buffer sizes.
func (s *Sim) BufferSizesKB() (rx, tx uint8) {
	return s.sock[regSnRXBUFSIZE], s.sock[regSnTXBUFSIZE]
}

// RegisterWrites returns the total count of register and memory bytes
// written by the driver, for asserting an operation had no side effects.
func (s *Sim) RegisterWrites() int { return s.writes }

func put16(dst []byte, v uint16) {
	dst[0] = byte(v >> 8)
	dst[1] = byte(v)
}

func get16(src []byte) uint16 {
	return uint16(src[0])<<8 | uint16(src[1])
}
