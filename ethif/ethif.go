// Package ethif adapts a raw Ethernet MAC/PHY chip driver into a polled
// network interface for an IP stack. It owns the poll cadence, link
// up/down edge detection and frame delivery; the chip driver underneath
// owns the hardware. All hardware access from Poll and Output is bracketed
// by the configured critical-section guard so a stack running in another
// context can share the bus safely.
package ethif

import (
	"errors"
	"log/slog"

	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/w5500/internal"
)

// DefaultMTU is the interface MTU selected when the config leaves it zero.
const DefaultMTU = 1500

// frameOverhead is the link-layer headroom above the MTU: 14-byte Ethernet
// header plus a 4-byte VLAN tag.
const frameOverhead = 18

var (
	// ErrHardware reports that the chip accepted fewer bytes than the frame
	// holds, which MACRAW hardware must never do for an accepted frame.
	ErrHardware = errors.New("ethif: hardware fault")

	errNotReset      = errors.New("ethif: Reset interface before use")
	errNilChip       = errors.New("ethif: nil chip")
	errNilHandler    = errors.New("ethif: receive handler is required")
	errGuardMismatch = errors.New("ethif: Protect and Unprotect must be set together")
	errFrameTooLong  = errors.New("ethif: frame exceeds MTU")
)

// Chip is the capability set ethif requires of a MAC/PHY driver.
// [github.com/soypat/w5500.Device] implements it.
type Chip interface {
	// Init resets the chip and opens it for raw frame traffic, filtering
	// to hwaddr when non-nil.
	Init(hwaddr []byte) error
	// Send transmits one frame whole, returning len(frame) or 0.
	Send(frame []byte) (int, error)
	// Recv reads one pending frame into dst; (0, nil) means none pending.
	Recv(dst []byte) (int, error)
	// PollLink reports PHY link state with no side effects.
	PollLink() bool
}

// Flags describe interface capabilities in the usual netif sense.
type Flags uint8

const (
	FlagBroadcast Flags = 1 << iota // accepts broadcast frames
	FlagARP                         // resolves link-layer addresses via ARP
	FlagEthernet                    // frames are Ethernet II
)

// Interface is a polled Ethernet network interface over a [Chip].
// The zero value is unusable; call [Interface.Reset] first.
type Interface struct {
	chip      Chip
	mac       [6]byte
	filtered  bool
	mtu       int
	name      string
	flags     Flags
	linkUp    bool
	rxbuf     []byte
	txbuf     []byte
	handler   func(frame []byte) error
	onLink    func(up bool)
	protect   func() uintptr
	unprotect func(token uintptr)
	logger
}

// Config configures an [Interface]. RecvHandler is the only required field.
type Config struct {
	// Name identifies the interface in logs, e.g. "eth0".
	Name string
	// HardwareAddr is the interface MAC address. An all-zero address opens
	// the chip unfiltered (promiscuous) with no address programmed.
	HardwareAddr [6]byte
	// MTU is the IP-layer maximum transmission unit. Zero selects 1500.
	MTU int
	// RecvHandler is invoked from Poll with each received frame. The frame
	// buffer is only valid for the duration of the call.
	RecvHandler func(frame []byte) error
	// OnLinkChange, if set, is invoked from Poll on every link state edge.
	OnLinkChange func(up bool)
	// Protect enters the critical section guarding hardware access and
	// returns a token for the matching Unprotect. Both must be set or both
	// nil; nil disables guarding for single-context systems.
	// See [MutexGuard] for a ready-made pair.
	Protect func() uintptr
	// Unprotect exits the critical section entered by Protect.
	Unprotect func(token uintptr)
	// Logger receives interface diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Reset initializes or re-initializes the interface over chip, running the
// chip's full reset sequence. It reuses the interface's frame buffers when
// their capacity permits, so a periodic Reset on link trouble does not
// allocate.
func (e *Interface) Reset(chip Chip, cfg Config) error {
	if chip == nil {
		return errNilChip
	}
	if cfg.RecvHandler == nil {
		return errNilHandler
	}
	if (cfg.Protect == nil) != (cfg.Unprotect == nil) {
		return errGuardMismatch
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}

	filtered := cfg.HardwareAddr != [6]byte{}
	var hwaddr []byte
	if filtered {
		hwaddr = cfg.HardwareAddr[:]
	}
	err := chip.Init(hwaddr)
	if err != nil {
		return err
	}

	frameMax := mtu + frameOverhead
	rxbuf, txbuf := e.rxbuf, e.txbuf
	if cap(rxbuf) < frameMax {
		rxbuf = make([]byte, frameMax)
	}
	if cap(txbuf) < frameMax {
		txbuf = make([]byte, frameMax)
	}
	*e = Interface{
		chip:      chip,
		mac:       cfg.HardwareAddr,
		filtered:  filtered,
		mtu:       mtu,
		name:      cfg.Name,
		flags:     FlagBroadcast | FlagARP | FlagEthernet,
		rxbuf:     rxbuf[:frameMax],
		txbuf:     txbuf[:frameMax],
		handler:   cfg.RecvHandler,
		onLink:    cfg.OnLinkChange,
		protect:   cfg.Protect,
		unprotect: cfg.Unprotect,
		logger:    logger{log: cfg.Logger},
	}
	e.info("ethif:up", slog.String("if", e.name), internal.SlogAddr6("mac", &e.mac), slog.Int("mtu", e.mtu), slog.Bool("filtered", e.filtered))
	return nil
}

// Poll runs one interface service cycle: it samples PHY link state,
// reporting edges through the OnLinkChange callback, then receives at most
// one pending frame and delivers it to the RecvHandler. gotFrame reports
// whether a frame was delivered so callers can poll in a tight loop while
// traffic is pending. A handler error is logged, not returned; a non-nil
// err is a hardware-level receive fault.
func (e *Interface) Poll() (gotFrame bool, err error) {
	if e.chip == nil {
		return false, errNotReset
	}
	token := e.enter()
	up := e.chip.PollLink()
	n, err := e.chip.Recv(e.rxbuf)
	e.exit(token)

	if up != e.linkUp {
		e.linkUp = up
		e.info("ethif:link", slog.String("if", e.name), slog.Bool("up", up))
		if e.onLink != nil {
			e.onLink(up)
		}
	}
	if err != nil {
		e.error("ethif:rx", slog.String("err", err.Error()))
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	frame := e.rxbuf[:n]
	if e.logEnabled(slog.LevelDebug) {
		e.debugFrame("ethif:rx", frame)
	}
	if err := e.handler(frame); err != nil {
		// The frame was consumed as far as the hardware is concerned; a
		// handler error must not stall the poll loop.
		e.error("ethif:rx-handler", slog.String("err", err.Error()))
	}
	return true, nil
}

// Output transmits one complete Ethernet frame. The whole hardware
// interaction happens inside the critical section so an asynchronous stack
// context never observes a half-written TX buffer.
func (e *Interface) Output(frame []byte) error {
	if e.chip == nil {
		return errNotReset
	}
	if len(frame) > e.mtu+frameOverhead {
		return errFrameTooLong
	}
	if e.logEnabled(slog.LevelDebug) {
		e.debugFrame("ethif:tx", frame)
	}
	token := e.enter()
	n, err := e.chip.Send(frame)
	e.exit(token)
	if err != nil {
		e.error("ethif:tx", slog.String("err", err.Error()))
		return err
	}
	if n != len(frame) {
		return ErrHardware
	}
	return nil
}

// OutputSegments transmits a frame scattered across segments, such as a
// header chain with a payload tail, coalescing it into the interface's
// transmit buffer first.
func (e *Interface) OutputSegments(segments ...[]byte) error {
	if e.chip == nil {
		return errNotReset
	}
	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	if total > len(e.txbuf) {
		return errFrameTooLong
	}
	off := 0
	for _, seg := range segments {
		off += copy(e.txbuf[off:], seg)
	}
	return e.Output(e.txbuf[:total])
}

// debugFrame logs frame addressing and type at debug level. Parse failures
// are logged raw since malformed frames are exactly the interesting case.
func (e *Interface) debugFrame(msg string, frame []byte) {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		e.debug(msg, slog.Int("plen", len(frame)), slog.String("err", err.Error()))
		return
	}
	e.debug(msg,
		slog.Int("plen", len(frame)),
		internal.SlogAddr6("dst", efrm.DestinationHardwareAddr()),
		internal.SlogAddr6("src", efrm.SourceHardwareAddr()),
		slog.Uint64("ethertype", uint64(efrm.EtherTypeOrSize())),
	)
}

func (e *Interface) enter() uintptr {
	if e.protect != nil {
		return e.protect()
	}
	return 0
}

func (e *Interface) exit(token uintptr) {
	if e.unprotect != nil {
		e.unprotect(token)
	}
}

// HardwareAddr6 returns the interface MAC address; all-zero when the
// interface runs unfiltered.
func (e *Interface) HardwareAddr6() [6]byte { return e.mac }

// MTU returns the interface maximum transmission unit.
func (e *Interface) MTU() int { return e.mtu }

// Name returns the configured interface name.
func (e *Interface) Name() string { return e.name }

// LinkUp reports the link state as of the last Poll.
func (e *Interface) LinkUp() bool { return e.linkUp }

// Flags returns the interface capability flags.
func (e *Interface) Flags() Flags { return e.flags }

type logger struct {
	log *slog.Logger
}

func (l logger) logEnabled(lvl slog.Level) bool { return internal.LogEnabled(l.log, lvl) }
func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
