package ethif

import (
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// MutexGuard returns a Protect/Unprotect pair backed by a mutex, suitable
// for systems where the stack and the poll loop run as goroutines rather
// than interrupt contexts. The token is unused and always zero.
func MutexGuard() (protect func() uintptr, unprotect func(token uintptr)) {
	var mu sync.Mutex
	protect = func() uintptr {
		mu.Lock()
		return 0
	}
	unprotect = func(uintptr) {
		mu.Unlock()
	}
	return protect, unprotect
}

var startTime = time.Now()

// Millis returns a monotonic millisecond tick for stack timers. It wraps
// around after roughly 49 days like most embedded millisecond clocks;
// consumers must compare ticks by subtraction.
func Millis() uint32 {
	return uint32(time.Since(startTime) / time.Millisecond)
}

// DeriveHardwareAddr deterministically derives a locally administered
// unicast MAC address from seed, typically a board serial number or
// hostname. Equal seeds yield equal addresses so a device keeps its
// address across reboots without persistent storage.
func DeriveHardwareAddr(seed []byte) (mac [6]byte) {
	sum := sha3.Sum256(seed)
	copy(mac[:], sum[:6])
	mac[0] |= 0x02   // locally administered
	mac[0] &^= 0x01  // unicast
	return mac
}
