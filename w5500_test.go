package w5500

import (
	"bytes"
	"errors"
	"testing"

	"github.com/soypat/w5500/internal/chiptest"
)

func newTestDevice(t *testing.T, sim *chiptest.Sim, cfg DeviceConfig) *Device {
	t.Helper()
	var d Device
	err := d.Configure(sim, cfg)
	if err != nil {
		t.Fatal("configure:", err)
	}
	return &d
}

func TestConfigureValidation(t *testing.T) {
	var d Device
	if err := d.Configure(nil, DeviceConfig{}); err == nil {
		t.Fatal("expected error for nil bus")
	}
	sim := &chiptest.Sim{}
	err := d.Configure(sim, DeviceConfig{BufferSizeKB: 3})
	if !errors.Is(err, errBadBufferSize) {
		t.Fatal("expected bad buffer size error, got", err)
	}
	for _, kb := range []uint8{0, 1, 2, 4, 8, 16} {
		if err := d.Configure(sim, DeviceConfig{BufferSizeKB: kb}); err != nil {
			t.Fatalf("bufKB=%d: %v", kb, err)
		}
	}
}

func TestInitNotConfigured(t *testing.T) {
	var d Device
	if err := d.Init(nil); !errors.Is(err, errNotConfigured) {
		t.Fatal("expected not-configured error, got", err)
	}
}

func TestInitColdBoot(t *testing.T) {
	// Reset bit takes a few polls to self-clear, as on real power-up.
	sim := &chiptest.Sim{ResetPolls: 3, CmdPolls: 2}
	d := newTestDevice(t, sim, DeviceConfig{})
	mac := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	if err := d.Init(mac); err != nil {
		t.Fatal("init:", err)
	}
	if got := sim.MAC(); !bytes.Equal(got[:], mac) {
		t.Fatalf("hardware address not programmed: %x", got)
	}
	if mode := sim.SocketMode(); mode != snMRMACRaw|snMRMFEN {
		t.Fatalf("socket mode=%#x, want macraw+filter", mode)
	}
	if st := d.SocketStatus(); st != StatusMACRaw {
		t.Fatal("socket status:", st.String())
	}
	rx, tx := sim.BufferSizesKB()
	if rx != 16 || tx != 16 {
		t.Fatalf("buffer sizes rx=%d tx=%d, want 16/16", rx, tx)
	}
	if v := d.Version(); v != 0x04 {
		t.Fatalf("chip version=%#x", v)
	}
	if sim.IsSelected() {
		t.Fatal("chip select left asserted after init")
	}
}

func TestInitUnfiltered(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{BufferSizeKB: 2})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	if mode := sim.SocketMode(); mode != snMRMACRaw {
		t.Fatalf("socket mode=%#x, want plain macraw", mode)
	}
	rx, tx := sim.BufferSizesKB()
	if rx != 2 || tx != 2 {
		t.Fatalf("buffer sizes rx=%d tx=%d, want 2/2", rx, tx)
	}
}

func TestInitBadHardwareAddr(t *testing.T) {
	d := newTestDevice(t, &chiptest.Sim{}, DeviceConfig{})
	err := d.Init([]byte{1, 2, 3, 4, 5})
	if !errors.Is(err, errBadHardwareAddr) {
		t.Fatal("expected bad hwaddr error, got", err)
	}
}

func TestInitResetStuck(t *testing.T) {
	sim := &chiptest.Sim{StickyReset: true}
	d := newTestDevice(t, sim, DeviceConfig{})
	err := d.Init(nil)
	if !errors.Is(err, errResetTimeout) {
		t.Fatal("expected reset timeout, got", err)
	}
}

func TestInitCommandStuck(t *testing.T) {
	sim := &chiptest.Sim{StickyCmd: true}
	d := newTestDevice(t, sim, DeviceConfig{})
	err := d.Init(nil)
	if !errors.Is(err, errCommandTimeout) {
		t.Fatal("expected command timeout, got", err)
	}
}

func TestRecvNoFrame(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	var buf [1536]byte
	n, err := d.Recv(buf[:])
	if n != 0 || err != nil {
		t.Fatalf("empty recv: n=%d err=%v", n, err)
	}
}

func TestRecvFrame(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	payload := make([]byte, 14)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	sim.InjectFrame(payload)

	var buf [1536]byte
	n, err := d.Recv(buf[:])
	if err != nil {
		t.Fatal("recv:", err)
	}
	if n != 14 {
		t.Fatalf("payload length=%d, want 14", n)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("payload mismatch: %x", buf[:n])
	}
	// 14-byte payload plus 2-byte length header.
	if ptr := sim.RXReadPointer(); ptr != 16 {
		t.Fatalf("read pointer=%d, want 16", ptr)
	}
	// Queue drained.
	n, err = d.Recv(buf[:])
	if n != 0 || err != nil {
		t.Fatalf("drained recv: n=%d err=%v", n, err)
	}
}

func TestRecvMultipleFrames(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	frames := [][]byte{
		bytes.Repeat([]byte{0xaa}, 60),
		bytes.Repeat([]byte{0xbb}, 1514),
		{0x01},
	}
	for _, f := range frames {
		sim.InjectFrame(f)
	}
	var buf [1536]byte
	for i, want := range frames {
		n, err := d.Recv(buf[:])
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("frame %d mismatch: got %d bytes", i, n)
		}
	}
}

func TestRecvOversizedFrameDiscarded(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.InjectFrame(make([]byte, 1500)) // frame length 1502 on the wire
	small := make([]byte, 64)
	n, err := d.Recv(small)
	if !errors.Is(err, errRxExceedsBuffer) {
		t.Fatal("expected oversize error, got", err)
	}
	if n != 0 {
		t.Fatal("oversized frame must not be truncated into dst, got n =", n)
	}
	// Pointer advances past the discarded frame so the queue stays aligned.
	if ptr := sim.RXReadPointer(); ptr != 1502 {
		t.Fatalf("read pointer=%d, want 1502", ptr)
	}
	// The next frame is still receivable.
	sim.InjectFrame([]byte{1, 2, 3})
	n, err = d.Recv(small)
	if err != nil || n != 3 {
		t.Fatalf("next frame after discard: n=%d err=%v", n, err)
	}
}

func TestRecvUnstableSize(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.InjectFrame([]byte{1, 2, 3})
	sim.UnstableRSR = 1 << 30 // never settles within the wait bound
	writes := sim.RegisterWrites()
	var buf [64]byte
	n, err := d.Recv(buf[:])
	if !errors.Is(err, errRxSizeUnstable) {
		t.Fatal("expected unstable size error, got", err)
	}
	if n != 0 {
		t.Fatal("unstable recv must return 0 bytes")
	}
	if sim.RegisterWrites() != writes {
		t.Fatal("unstable recv must not modify chip state")
	}
	// Settles after a few reads on the next poll.
	sim.UnstableRSR = 3
	n, err = d.Recv(buf[:])
	if err != nil || n != 3 {
		t.Fatalf("settled recv: n=%d err=%v", n, err)
	}
}

func TestRecvCommandStuck(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.InjectFrame([]byte{1, 2, 3, 4})
	sim.StickyCmd = true
	var buf [64]byte
	_, err := d.Recv(buf[:])
	if !errors.Is(err, errCommandTimeout) {
		t.Fatal("expected command timeout, got", err)
	}
	// The pointer advance commits before the command is acknowledged.
	if ptr := sim.RXReadPointer(); ptr != 6 {
		t.Fatalf("read pointer=%d, want 6", ptr)
	}
}

func TestSendFrame(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	frame := bytes.Repeat([]byte{0x5a}, 60)
	n, err := d.Send(frame)
	if err != nil {
		t.Fatal("send:", err)
	}
	if n != len(frame) {
		t.Fatalf("sent %d bytes, want %d", n, len(frame))
	}
	sent := sim.SentFrames()
	if len(sent) != 1 || !bytes.Equal(sent[0], frame) {
		t.Fatalf("chip captured %d frames", len(sent))
	}
	if ptr := sim.TXWritePointer(); ptr != 60 {
		t.Fatalf("write pointer=%d, want 60", ptr)
	}
}

func TestSendEmptyFrame(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	n, err := d.Send(nil)
	if n != 0 || err != nil {
		t.Fatalf("empty send: n=%d err=%v", n, err)
	}
	if len(sim.SentFrames()) != 0 {
		t.Fatal("empty send reached the chip")
	}
}

func TestSendExceedsFree(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{BufferSizeKB: 1})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	n, err := d.Send(make([]byte, 1100))
	if !errors.Is(err, errTxExceedsFree) {
		t.Fatal("expected exceeds-free error, got", err)
	}
	if n != 0 {
		t.Fatal("oversized send must not be fragmented")
	}
	if ptr := sim.TXWritePointer(); ptr != 0 {
		t.Fatal("TX pointer modified by rejected send")
	}
}

func TestSendClosedSocket(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.ForceSocketStatus(uint8(StatusClosed))
	n, err := d.Send(make([]byte, 60))
	if !errors.Is(err, errSocketClosed) {
		t.Fatal("expected socket closed error, got", err)
	}
	if n != 0 {
		t.Fatal("closed-socket send reported bytes sent")
	}
	if ptr := sim.TXWritePointer(); ptr != 0 {
		t.Fatal("TX pointer modified on closed socket")
	}
	if len(sim.SentFrames()) != 0 {
		t.Fatal("frame reached the wire on closed socket")
	}
}

func TestSendUnstableFree(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.UnstableFSR = 1 << 30
	_, err := d.Send(make([]byte, 60))
	if !errors.Is(err, errTxFreeUnstable) {
		t.Fatal("expected unstable free-size error, got", err)
	}
}

func TestSendFault(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.SendIR = uint8(irTIMEOUT)
	n, err := d.Send(make([]byte, 60))
	if !errors.Is(err, errSendFault) {
		t.Fatal("expected send fault, got", err)
	}
	if n != 0 {
		t.Fatal("faulted send reported bytes sent")
	}
	// The fault interrupt must have been acknowledged so the next send
	// does not observe a stale flag.
	sim.SendIR = 0
	n, err = d.Send(make([]byte, 60))
	if err != nil || n != 60 {
		t.Fatalf("send after fault: n=%d err=%v", n, err)
	}
}

func TestSendCommandStuck(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.StickyCmd = true
	_, err := d.Send(make([]byte, 60))
	if !errors.Is(err, errCommandTimeout) {
		t.Fatal("expected command timeout, got", err)
	}
}

// TestPointerWraparound pushes enough traffic through a 1KiB buffer for the
// 16-bit hardware pointers to wrap past 0xFFFF while the buffer index wraps
// many times over; frame contents must survive both wraps.
func TestPointerWraparound(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{BufferSizeKB: 1})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	payload := make([]byte, 600)
	var buf [1024]byte
	for i := 0; i < 120; i++ {
		for j := range payload {
			payload[j] = byte(i + j)
		}
		sim.InjectFrame(payload)
		n, err := d.Recv(buf[:])
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], payload) {
			t.Fatalf("recv %d payload mismatch", i)
		}
		n, err = d.Send(payload)
		if err != nil || n != len(payload) {
			t.Fatalf("send %d: n=%d err=%v", i, n, err)
		}
	}
	// 120 frames of 602 bytes comfortably exceed 0xFFFF.
	total := 120 * 602
	if ptr := sim.RXReadPointer(); ptr != uint16(total) {
		t.Fatalf("read pointer=%d, want %d", ptr, uint16(total))
	}
	sent := sim.SentFrames()
	if len(sent) != 120 {
		t.Fatalf("chip captured %d frames, want 120", len(sent))
	}
	if !bytes.Equal(sent[119], payload) {
		t.Fatal("last sent frame corrupted across wraparound")
	}
}

func TestPollLink(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	if d.PollLink() {
		t.Fatal("link reported up while down")
	}
	sim.LinkUp = true
	if !d.PollLink() {
		t.Fatal("link reported down while up")
	}
	// Observation only: repeated polls must not write to the chip.
	writes := sim.RegisterWrites()
	for i := 0; i < 10; i++ {
		d.PollLink()
	}
	if sim.RegisterWrites() != writes {
		t.Fatal("PollLink modified chip state")
	}
	phy := d.PHYStatus()
	if !phy.LinkUp() || !phy.Is100Mbps() || !phy.IsFullDuplex() {
		t.Fatal("PHY status:", phy.String())
	}
	if phy.String() != "100M-full" {
		t.Fatal("PHY string:", phy.String())
	}
}

func TestReinit(t *testing.T) {
	sim := &chiptest.Sim{}
	d := newTestDevice(t, sim, DeviceConfig{})
	if err := d.Init(nil); err != nil {
		t.Fatal("init:", err)
	}
	sim.ForceSocketStatus(uint8(StatusClosed))
	mac := []byte{2, 0, 0, 0, 0, 7}
	if err := d.Init(mac); err != nil {
		t.Fatal("reinit:", err)
	}
	if st := d.SocketStatus(); st != StatusMACRaw {
		t.Fatal("socket status after reinit:", st.String())
	}
	if got := sim.MAC(); !bytes.Equal(got[:], mac) {
		t.Fatalf("hardware address after reinit: %x", got)
	}
}
