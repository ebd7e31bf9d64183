//go:build linux

// Package spidev implements the chip driver's bus transport over a Linux
// /dev/spidevB.C character device. The kernel's own chip-select handling is
// disabled and the select line is driven through a caller-supplied GPIO
// callback so a transaction can span multiple ioctls, matching the framed
// select/transfer/deselect protocol the driver speaks.
package spidev

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/soypat/w5500"
)

// spidev ioctl request numbers from linux/spi/spidev.h.
const (
	iocWrMode       = 0x40016b01 // SPI_IOC_WR_MODE
	iocWrBitsPWord  = 0x40016b03 // SPI_IOC_WR_BITS_PER_WORD
	iocWrMaxSpeedHz = 0x40046b04 // SPI_IOC_WR_MAX_SPEED_HZ
	iocMessage1     = 0x40206b00 // SPI_IOC_MESSAGE(1)

	modeNoCS = 0x40 // SPI_NO_CS
)

// spiTransfer mirrors struct spi_ioc_transfer.
type spiTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	pad         uint32
}

// Config configures an SPI bus handle. ChipSelect is the only required
// field.
type Config struct {
	// Mode selects SPI mode 0..3. The chip speaks mode 0.
	Mode uint8
	// SpeedHz is the SPI clock rate. Zero selects 4MHz.
	SpeedHz uint32
	// ChipSelect drives the chip-select GPIO: true asserts (line low for
	// the usual active-low wiring), false deasserts.
	ChipSelect func(assert bool)
}

// Bus is a [w5500.Bus] over a spidev character device.
//
// The bus interface has no error returns, so I/O errors are latched into
// the handle and reads return zeroes from then on; poll Err after driver
// operations to detect a failed bus.
type Bus struct {
	fd      int
	cs      func(assert bool)
	speedHz uint32
	err     error
}

var _ w5500.Bus = (*Bus)(nil)

// Open opens the spidev device at path, e.g. "/dev/spidev0.0", and programs
// its mode, word size and clock rate.
func Open(path string, cfg Config) (*Bus, error) {
	if cfg.ChipSelect == nil {
		return nil, errors.New("spidev: ChipSelect is required")
	}
	if cfg.Mode > 3 {
		return nil, errors.New("spidev: mode must be 0..3")
	}
	speed := cfg.SpeedHz
	if speed == 0 {
		speed = 4_000_000
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("spidev: open %s: %w", path, err)
	}
	b := &Bus{fd: fd, cs: cfg.ChipSelect, speedHz: speed}

	mode := cfg.Mode | modeNoCS
	if err := b.ioctl(iocWrMode, unsafe.Pointer(&mode)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spidev: set mode: %w", err)
	}
	bits := uint8(8)
	if err := b.ioctl(iocWrBitsPWord, unsafe.Pointer(&bits)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spidev: set word size: %w", err)
	}
	if err := b.ioctl(iocWrMaxSpeedHz, unsafe.Pointer(&speed)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spidev: set speed: %w", err)
	}
	b.cs(false) // known deasserted state before first transaction
	return b, nil
}

// Select asserts the chip-select GPIO.
func (b *Bus) Select() { b.cs(true) }

// Deselect deasserts the chip-select GPIO.
func (b *Bus) Deselect() { b.cs(false) }

// Transfer exchanges one byte full-duplex. On an ioctl error it latches the
// error and returns 0.
func (b *Bus) Transfer(tx byte) byte {
	if b.err != nil {
		return 0
	}
	var rx byte
	xfer := spiTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx))),
		len:         1,
		speedHz:     b.speedHz,
		bitsPerWord: 8,
	}
	if err := b.ioctl(iocMessage1, unsafe.Pointer(&xfer)); err != nil {
		b.err = fmt.Errorf("spidev: transfer: %w", err)
		return 0
	}
	return rx
}

// Err returns the first I/O error latched by Transfer, or nil.
func (b *Bus) Err() error { return b.err }

// Close deasserts chip select and releases the device.
func (b *Bus) Close() error {
	b.cs(false)
	return unix.Close(b.fd)
}

func (b *Bus) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
