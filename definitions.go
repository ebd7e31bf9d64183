package w5500

// blockSelector selects one of the W5500's SPI addressable memory blocks.
// The selector is encoded into bits 3..7 of the transaction control byte.
type blockSelector uint8

const (
	blockCommon    blockSelector = 0 // common register block
	blockSocket0   blockSelector = 1 // socket 0 register block
	blockSocket0TX blockSelector = 2 // socket 0 TX buffer memory
	blockSocket0RX blockSelector = 3 // socket 0 RX buffer memory
)

// Common register block offsets.
const (
	addrMR       uint16 = 0x0000 // mode register (R/W)
	addrSHAR     uint16 = 0x0009 // source hardware (MAC) address register (R/W)
	addrINTLEVEL uint16 = 0x0013 // interrupt low-level timer register (R/W)
	addrIR       uint16 = 0x0015 // interrupt register (R/W)
	addrIMR      uint16 = 0x0016 // interrupt mask register (R/W)
	addrSIR      uint16 = 0x0017 // socket interrupt register (R/W)
	addrSIMR     uint16 = 0x0018 // socket interrupt mask register (R/W)
	addrRTR      uint16 = 0x0019 // retry timeout register, unit=100us (R/W)
	addrRCR      uint16 = 0x001B // retry count register (R/W)
	addrUIPR     uint16 = 0x0028 // unreachable IP register in UDP mode (RO)
	addrUPORTR   uint16 = 0x002C // unreachable port register in UDP mode (RO)
	addrPHYCFGR  uint16 = 0x002E // PHY configuration register (R/W)
	addrVERSIONR uint16 = 0x0039 // chip version register (RO)
)

// Socket register block offsets.
const (
	regSnMR        uint16 = 0x0000 // socket mode register (R/W)
	regSnCR        uint16 = 0x0001 // socket command register (R/W)
	regSnIR        uint16 = 0x0002 // socket interrupt register (R)
	regSnSR        uint16 = 0x0003 // socket status register (R)
	regSnPORT      uint16 = 0x0004 // source port register (R/W)
	regSnDHAR      uint16 = 0x0006 // destination MAC register (R/W)
	regSnDIPR      uint16 = 0x000C // destination IP register (R/W)
	regSnDPORT     uint16 = 0x0010 // destination port register (R/W)
	regSnMSSR      uint16 = 0x0012 // maximum segment size register (R/W)
	regSnTOS       uint16 = 0x0015 // type of service register (R/W)
	regSnTTL       uint16 = 0x0016 // time to live register (R/W)
	regSnRXBUFSIZE uint16 = 0x001E // RX buffer size register (R/W)
	regSnTXBUFSIZE uint16 = 0x001F // TX buffer size register (R/W)
	regSnTXFSR     uint16 = 0x0020 // TX free size register (R)
	regSnTXRD      uint16 = 0x0022 // TX read pointer register (R)
	regSnTXWR      uint16 = 0x0024 // TX write pointer register (R/W)
	regSnRXRSR     uint16 = 0x0026 // RX received size register (R)
	regSnRXRD      uint16 = 0x0028 // RX read pointer register (R/W)
	regSnRXWR      uint16 = 0x002A // RX write pointer register (R)
	regSnIMR       uint16 = 0x002C // socket interrupt mask register (R)
	regSnFRAG      uint16 = 0x002D // fragment field register (R/W)
	regSnKPALVTR   uint16 = 0x002F // keep-alive timer register (R/W)
)

// Mode register (MR) bits.
const (
	mrRST   uint8 = 0x80 // software reset, self-clearing
	mrWOL   uint8 = 0x20 // wake on LAN
	mrPB    uint8 = 0x10 // ping block
	mrPPPoE uint8 = 0x08 // enable PPPoE mode
	mrFARP  uint8 = 0x02 // force ARP in UDP
)

// Socket mode register (Sn_MR) bits. The MACRAW-specific bits share values
// with the multicast bits used in UDP mode.
const (
	snMRClose  uint8 = 0x00 // socket not used
	snMRTCP    uint8 = 0x01 // TCP mode
	snMRUDP    uint8 = 0x02 // UDP mode
	snMRMACRaw uint8 = 0x04 // MAC RAW mode
	snMRMIP6B  uint8 = 0x10 // block IPv6 packets in MACRAW
	snMRMMB    uint8 = 0x20 // block multicast in MACRAW
	snMRMFEN   uint8 = 0x80 // enable MAC filtering in MACRAW
)

// Socket command register (Sn_CR) values. The register self-clears once the
// chip has accepted the command.
const (
	cmdOpen     uint8 = 0x01
	cmdListen   uint8 = 0x02
	cmdConnect  uint8 = 0x04
	cmdDiscon   uint8 = 0x08
	cmdClose    uint8 = 0x10
	cmdSend     uint8 = 0x20
	cmdSendMAC  uint8 = 0x21
	cmdSendKeep uint8 = 0x22
	cmdRecv     uint8 = 0x40
)

// sockIR holds socket interrupt register (Sn_IR) bits. Set bits are cleared
// by writing 1 back to them.
type sockIR uint8

const (
	irCON     sockIR = 0x01 // connection established
	irDISCON  sockIR = 0x02 // disconnected
	irRECV    sockIR = 0x04 // data received
	irTIMEOUT sockIR = 0x08 // timeout occurred
	irSENDOK  sockIR = 0x10 // send operation completed

	irMaskAll sockIR = 0x1f
)

// Status is the socket status as reported by the hardware Sn_SR register.
// The chip owns this state entirely; [Device] reads it live on every
// decision and never caches it across calls.
type Status uint8

const (
	StatusClosed      Status = 0x00 // closed
	StatusInit        Status = 0x13 // init
	StatusListen      Status = 0x14 // listen
	StatusSYNSent     Status = 0x15 // syn-sent
	StatusSYNRecv     Status = 0x16 // syn-recv
	StatusEstablished Status = 0x17 // established
	StatusFINWait     Status = 0x18 // fin-wait
	StatusClosing     Status = 0x1A // closing
	StatusTimeWait    Status = 0x1B // time-wait
	StatusCloseWait   Status = 0x1C // close-wait
	StatusLastACK     Status = 0x1D // last-ack
	StatusUDP         Status = 0x22 // udp
	StatusMACRaw      Status = 0x42 // macraw
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusInit:
		return "init"
	case StatusListen:
		return "listen"
	case StatusSYNSent:
		return "syn-sent"
	case StatusSYNRecv:
		return "syn-recv"
	case StatusEstablished:
		return "established"
	case StatusFINWait:
		return "fin-wait"
	case StatusClosing:
		return "closing"
	case StatusTimeWait:
		return "time-wait"
	case StatusCloseWait:
		return "close-wait"
	case StatusLastACK:
		return "last-ack"
	case StatusUDP:
		return "udp"
	case StatusMACRaw:
		return "macraw"
	}
	return "unknown"
}

// isNonOperational returns true for the socket states in which a MACRAW
// transmit must not be attempted; a higher layer must re-initialize first.
func (s Status) isNonOperational() bool {
	return s == StatusClosed || s == StatusClosing || s == StatusTimeWait || s == StatusCloseWait
}

// PHYCfg holds the PHY configuration register (PHYCFGR) contents exposing
// link, speed and duplex state of the chip's integrated transceiver.
type PHYCfg uint8

// PHYCFGR bits. The reset bit is active low: writing 0 to bit 7 resets the
// PHY. Operating mode is taken from the OPMDC bits while OPMD is set.
const (
	phyRSTn           PHYCfg = 1 << 7 // held high for normal operation
	phyOPMD           PHYCfg = 1 << 6 // use OPMDC bits for configuration
	phyOPMDCAll       PHYCfg = 7 << 3 // all capable, auto-negotiation
	phyOPMDCPowerDown PHYCfg = 6 << 3 // power-down mode
	phyOPMDC100FA     PHYCfg = 4 << 3 // 100M full-duplex auto-negotiation
	phyOPMDC100F      PHYCfg = 3 << 3 // 100M full-duplex
	phyOPMDC100H      PHYCfg = 2 << 3 // 100M half-duplex
	phyOPMDC10F       PHYCfg = 1 << 3 // 10M full-duplex
	phyOPMDC10H       PHYCfg = 0 << 3 // 10M half-duplex
	phyDPXFull        PHYCfg = 1 << 2 // full-duplex when set
	phySPD100         PHYCfg = 1 << 1 // 100Mbps when set
	phyLNK            PHYCfg = 1 << 0 // link up when set
)

// LinkUp returns true if the PHY reports an established link.
func (p PHYCfg) LinkUp() bool { return p&phyLNK != 0 }

// Is100Mbps returns true if the negotiated link speed is 100Mbps, false for 10Mbps.
func (p PHYCfg) Is100Mbps() bool { return p&phySPD100 != 0 }

// IsFullDuplex returns true if the negotiated link is full-duplex.
func (p PHYCfg) IsFullDuplex() bool { return p&phyDPXFull != 0 }

func (p PHYCfg) String() string {
	if !p.LinkUp() {
		return "link-down"
	}
	switch {
	case p.Is100Mbps() && p.IsFullDuplex():
		return "100M-full"
	case p.Is100Mbps():
		return "100M-half"
	case p.IsFullDuplex():
		return "10M-full"
	}
	return "10M-half"
}
