// Package backend implements the tiered cache→origin chain: a Driver
// vtable, a Device holding one tier plus an optional child tier, and the
// chain-composition functions giving GET/SET/DEL/TEST/freeup semantics
// across the whole chain.
//
// Ported from original_source/server/backend/backend.{h,c}. The original
// expresses GET/SET/DEL/freeup as chains of callbacks with heap-allocated
// continuations; per the callback-chain-composition design note this is
// redesigned as ordinary synchronous Go functions — ordinary goroutines
// already give the cooperative-task behaviour the original's callbacks
// simulated, and the at-most-one-in-flight-per-key contract is preserved
// by the session's owning-thread discipline, not by the backend layer.
//
// © 2025 PrisKV authors. Apache License 2.0.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DwyaneShi/priskv/pkg/protocol"
)

// Driver is the vtable every backend tier implements, mirroring
// priskv_backend_driver.
type Driver interface {
	Open(ctx context.Context, address string) (Handle, error)
}

// Handle is the per-device-open state a Driver returns from Open; it is
// thread-level in the original (one handle per owning thread) and here is
// simply held by the one Device that opened it.
type Handle interface {
	Close() error
	IsCacheable(valueLen uint64) bool
	Get(ctx context.Context, key string, val []byte) (n uint32, status protocol.Status)
	Set(ctx context.Context, key string, val []byte, timeout time.Duration) protocol.Status
	Del(ctx context.Context, key string) protocol.Status
	Test(ctx context.Context, key string) protocol.Status
	// Evict asks the tier to free space for at least valueLen bytes,
	// used by freeup below.
	Evict(ctx context.Context, valueLen uint64) protocol.Status
	Clearup() error
}

// Factory constructs a fresh Driver instance, registered under a protocol
// name in the package registry below.
type Factory func() Driver

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a named driver factory, called from each driver's
// init(), the Go idiom for the original's constructor-attribute
// registration (backend_init).
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func lookup(name string) (Factory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := registry[name]
	return f, ok
}

// Link is one parsed protocol:address pair from the chain address
// grammar.
type Link struct {
	Protocol string
	Address  string
}

// ErrBadAddress is returned by ParseChain for a malformed address string.
type ErrBadAddress struct{ Reason string }

func (e ErrBadAddress) Error() string { return "backend: bad address: " + e.Reason }

// ParseChain parses "proto1:addr1;proto2:addr2;..." into an ordered list
// of Links, per §6's grammar: empty protocol or address is rejected.
func ParseChain(address string) ([]Link, error) {
	parts := strings.Split(address, ";")
	links := make([]Link, 0, len(parts))

	for _, part := range parts {
		proto, addr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, ErrBadAddress{Reason: fmt.Sprintf("missing ':' in %q", part)}
		}
		if proto == "" || addr == "" {
			return nil, ErrBadAddress{Reason: fmt.Sprintf("empty protocol or address in %q", part)}
		}
		links = append(links, Link{Protocol: proto, Address: addr})
	}
	return links, nil
}

// Device is one tier of the chain: a driver handle plus an optional child
// tier consulted on miss.
type Device struct {
	link  Link
	drv   Driver
	h     Handle
	child *Device
	log   *zap.Logger
}

// Open builds the full chain described by address, opening every tier in
// order and wiring each one's Child to the next.
func Open(ctx context.Context, address string, log *zap.Logger) (*Device, error) {
	links, err := ParseChain(address)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return openChain(ctx, links, log)
}

func openChain(ctx context.Context, links []Link, log *zap.Logger) (*Device, error) {
	if len(links) == 0 {
		return nil, nil
	}

	factory, ok := lookup(links[0].Protocol)
	if !ok {
		return nil, ErrBadAddress{Reason: fmt.Sprintf("unregistered driver %q", links[0].Protocol)}
	}

	drv := factory()
	h, err := drv.Open(ctx, links[0].Address)
	if err != nil {
		return nil, err
	}

	child, err := openChain(ctx, links[1:], log)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	return &Device{link: links[0], drv: drv, h: h, child: child, log: log}, nil
}

// NewDeviceWithHandle wires an already-constructed Handle as one tier in
// front of an optional child chain, for callers (such as the engine) that
// build a tier's Handle directly rather than through the address-grammar
// registry.
func NewDeviceWithHandle(h Handle, child *Device, log *zap.Logger) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	return &Device{h: h, child: child, log: log}
}

// Close tears down this tier and every descendant.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	if d.child != nil {
		_ = d.child.Close()
	}
	return d.h.Close()
}

// Get implements §4.6's GET composition: parent.get; on NOT_FOUND, if a
// child exists, recurse; on a child hit, freeup the parent then
// repopulate it, but treat a repopulation failure as logged-not-
// propagated since the read itself succeeded.
func (d *Device) Get(ctx context.Context, key string, val []byte) (uint32, protocol.Status) {
	n, status := d.h.Get(ctx, key, val)
	if status != protocol.StatusNotFound || d.child == nil {
		return n, status
	}

	n, status = d.child.Get(ctx, key, val)
	if status != protocol.StatusOK {
		return n, status
	}

	if err := d.freeup(ctx, uint64(n)); err != nil {
		d.log.Warn("backend: freeup before repopulation failed", zap.String("key", key), zap.Error(err))
		return n, protocol.StatusOK
	}
	if setStatus := d.h.Set(ctx, key, val[:n], 0); setStatus != protocol.StatusOK {
		d.log.Warn("backend: cache repopulation after child hit failed",
			zap.String("key", key), zap.Stringer("status", setStatus))
	}
	return n, protocol.StatusOK
}

// Set implements §4.6's SET: if a child exists, write through to it
// first and invalidate the parent on success (a parent that holds no
// copy of key is already invalid); otherwise set locally, retrying once
// after a freeup on NO_SPACE. Any non-OK status from the necessary step
// is surfaced to the caller unchanged.
func (d *Device) Set(ctx context.Context, key string, val []byte, timeout time.Duration) protocol.Status {
	if d.child != nil {
		status := d.child.Set(ctx, key, val, timeout)
		if status != protocol.StatusOK {
			return status
		}
		if status := d.h.Del(ctx, key); status != protocol.StatusNotFound {
			return status
		}
		return protocol.StatusOK
	}

	status := d.h.Set(ctx, key, val, timeout)
	if status != protocol.StatusNoSpace {
		return status
	}
	if err := d.freeup(ctx, uint64(len(val))); err != nil {
		return protocol.StatusNoSpace
	}
	return d.h.Set(ctx, key, val, timeout)
}

// Del implements §4.6's DEL: if a child exists, delete there first and
// only delete locally on success; otherwise delete locally.
func (d *Device) Del(ctx context.Context, key string) protocol.Status {
	if d.child != nil {
		status := d.child.Del(ctx, key)
		if status != protocol.StatusOK {
			return status
		}
		return d.h.Del(ctx, key)
	}
	return d.h.Del(ctx, key)
}

// Test implements §4.6's TEST: parent.test; on NOT_FOUND fall through to
// child.test.
func (d *Device) Test(ctx context.Context, key string) protocol.Status {
	status := d.h.Test(ctx, key)
	if status != protocol.StatusNotFound || d.child == nil {
		return status
	}
	return d.child.Test(ctx, key)
}

// freeup evicts from this tier until it reports cacheable for valueLen,
// mirroring priskv_backend_freeup.
func (d *Device) freeup(ctx context.Context, valueLen uint64) error {
	const maxAttempts = 64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if d.h.IsCacheable(valueLen) {
			return nil
		}
		if status := d.h.Evict(ctx, valueLen); status != protocol.StatusOK {
			return fmt.Errorf("backend: evict failed: %s", status)
		}
	}
	return fmt.Errorf("backend: could not free enough space for %d bytes", valueLen)
}
