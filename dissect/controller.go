// Package dissect controls how deep gopacket is allowed to parse packets
// and extracts stream identity plus opaque payload bytes for masking.
package dissect

import (
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// defaultTCPBindings are the TCP port → layer bindings gopacket registers
// at init time. While any of these is active, bytes after the TCP header on
// a bound port decode into typed sub-protocol layers instead of one opaque
// blob. Disable rebinds them to the plain payload layer; Restore re-binds
// exactly this set.
var defaultTCPBindings = map[layers.TCPPort]gopacket.LayerType{
	53:   layers.LayerTypeDNS,
	443:  layers.LayerTypeTLS,
	502:  layers.LayerTypeModbusTCP,
	5060: layers.LayerTypeSIP,
}

// Controller suspends and restores gopacket's TCP port dissection
// bindings. The underlying binding table is process-global, so there is
// exactly one Controller state per process: use Default().
type Controller struct {
	mu           sync.Mutex
	runMu        sync.Mutex
	disabled     bool
	disableCalls int
	restoreCalls int
}

var global Controller

// Default returns the process-wide controller.
func Default() *Controller {
	return &global
}

// Disable rebinds the default TCP port dissection bindings to the opaque
// payload layer. Idempotent: calling while already disabled only bumps the
// call counter.
func (c *Controller) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disableCalls++
	if c.disabled {
		return
	}
	for port := range defaultTCPBindings {
		layers.RegisterTCPPortLayerType(port, gopacket.LayerTypePayload)
	}
	c.disabled = true
}

// Restore re-registers the bindings removed by Disable. Idempotent.
func (c *Controller) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.restoreCalls++
	if !c.disabled {
		return
	}
	for port, lt := range defaultTCPBindings {
		layers.RegisterTCPPortLayerType(port, lt)
	}
	c.disabled = false
}

// Disabled reports whether dissection is currently suppressed.
func (c *Controller) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Counters returns the number of Disable and Restore calls seen so far.
func (c *Controller) Counters() (disableCalls, restoreCalls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disableCalls, c.restoreCalls
}

// WithDisabled runs fn with dissection suppressed and restores the
// bindings afterwards, whatever fn returns. The binding table is shared by
// the whole process, so concurrent callers are serialized: one masking run
// at a time holds the suppressed state.
func (c *Controller) WithDisabled(fn func() error) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.Disable()
	defer c.Restore()
	return fn()
}
