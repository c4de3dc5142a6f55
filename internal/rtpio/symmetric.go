package rtpio

import (
	"net"
	"net/netip"
	"sync"
)

// Binder implements symmetric RTP: the destination we send to is kept in
// sync with the source address packets actually arrive from, which lets
// a caller behind a NAT receive audio without requiring ICE or
// STUN/TURN. Observe takes the source address of an inbound packet and
// rebinds immediately when it changes; the write side reads the bound
// address through Current.
type Binder struct {
	mu   sync.RWMutex
	addr netip.AddrPort
	set  bool

	onRebind func(netip.AddrPort)
}

// NewBinder returns a Binder with no destination set yet; until Observe
// is called at least once, Current returns the zero value and ok=false.
func NewBinder() *Binder {
	return &Binder{}
}

// OnRebind registers a callback invoked whenever Observe changes the
// bound address. Useful for logging or updating a diago/sipgo session's
// destination.
func (b *Binder) OnRebind(fn func(netip.AddrPort)) {
	b.mu.Lock()
	b.onRebind = fn
	b.mu.Unlock()
}

// Observe records src as the most recently seen source of inbound RTP.
// If src differs from the currently bound destination, the binder
// rebinds and fires the registered callback.
func (b *Binder) Observe(src netip.AddrPort) {
	b.mu.Lock()
	changed := !b.set || b.addr != src
	if changed {
		b.addr = src
		b.set = true
	}
	cb := b.onRebind
	b.mu.Unlock()

	if changed && cb != nil {
		cb(src)
	}
}

// Current returns the currently bound destination, or ok=false if
// Observe has never been called.
func (b *Binder) Current() (addr netip.AddrPort, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addr, b.set
}

// UDPAddr is a convenience wrapper over Current for callers that still
// deal in *net.UDPAddr (most SIP/RTP stacks do).
func (b *Binder) UDPAddr() (*net.UDPAddr, bool) {
	addr, ok := b.Current()
	if !ok {
		return nil, false
	}
	return net.UDPAddrFromAddrPort(addr), true
}
