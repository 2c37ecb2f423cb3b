// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package blocker is the Blocker (C5): it maintains a set of currently
// blocked addresses with bounded lifetime, reconciles them with a kernel
// firewall, and rejects private-range addresses before any kernel call
// (spec §4.5).
package blocker

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"grimm.is/ngfw/internal/errors"
)

// Handle is an opaque identifier for an installed kernel rule. The engine
// never interprets its contents — it is stored exactly as FirewallAdmin
// returned it and passed back unchanged on removal, which is the fix for
// the reference's documented defect of scanning rule text to find a rule
// to delete.
type Handle []byte

// Outcome is the result of a block/unblock call.
type Outcome int

const (
	Blocked Outcome = iota
	AlreadyBlocked
	Rejected
	Failed
	Unblocked
	NotBlocked
)

// FirewallAdmin is the external collaborator that encapsulates all
// kernel-firewall dialect (nftables/pf/iptables/BPF). All calls may fail;
// callers classify failures as transient (retry) or permanent (give up,
// surface) via errors.GetKind.
type FirewallAdmin interface {
	EnsureChain(ctx context.Context) error
	AddDrop(ctx context.Context, addr netip.Addr) (Handle, error)
	Remove(ctx context.Context, h Handle) error
}

// Entry is a single blocked address and its kernel-rule handle.
type Entry struct {
	Addr      netip.Addr
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Handle    Handle
}

// privateNetworks is the reject-before-kernel-call list from spec §4.5:
// the three RFC1918 ranges. The unspecified address is checked separately
// since it is not a CIDR block.
var privateNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

// IsPrivate reports whether addr is a private-range or unspecified
// address, per spec §4.5's reject-before-any-kernel-call policy.
func IsPrivate(addr netip.Addr) bool {
	if !addr.IsValid() || addr.IsUnspecified() {
		return true
	}
	for _, p := range privateNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Config tunes Blocker's default TTL.
type Config struct {
	DefaultTTL time.Duration
}

// DefaultConfig matches spec §4.5's 60-minute default TTL.
func DefaultConfig() Config {
	return Config{DefaultTTL: 60 * time.Minute}
}

// clockSource is the minimal time source Blocker needs; satisfied by both
// clock.Real and clock.Mock.
type clockSource interface {
	Now() time.Time
}

// Blocker maintains the block list described in spec §4.5. Its internal
// state is guarded by a single mutex; all FirewallAdmin calls are made
// while the mutex is held, which spec §5 calls out as acceptable because
// block/unblock rates are low and kernel latency is bounded.
type Blocker struct {
	mu      sync.Mutex
	admin   FirewallAdmin
	clock   clockSource
	cfg     Config
	entries map[netip.Addr]*Entry
}

// New constructs a Blocker. EnsureChain is the caller's responsibility at
// startup (spec §4.5's FirewallInitError is a startup-fatal condition,
// handled by cmd/ngfwd before the pipeline starts).
func New(admin FirewallAdmin, clk clockSource, cfg Config) *Blocker {
	return &Blocker{
		admin:   admin,
		clock:   clk,
		cfg:     cfg,
		entries: make(map[netip.Addr]*Entry),
	}
}

// Block installs a kernel drop rule for addr, or refreshes an existing
// block's expiry. Private-range and unspecified addresses are rejected
// before any kernel call (invariant 4 in spec §8).
func (b *Blocker) Block(ctx context.Context, addr netip.Addr, reason string, ttl time.Duration) (Outcome, error) {
	if IsPrivate(addr) {
		return Rejected, nil
	}
	if ttl <= 0 {
		ttl = b.cfg.DefaultTTL
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if e, ok := b.entries[addr]; ok {
		// Re-blocking an already-blocked address refreshes timestamps but
		// never installs a duplicate kernel rule (spec §4.5, invariant 5).
		e.CreatedAt = now
		e.ExpiresAt = now.Add(ttl)
		e.Reason = reason
		return AlreadyBlocked, nil
	}

	handle, err := b.admin.AddDrop(ctx, addr)
	if err != nil {
		return Failed, err
	}

	b.entries[addr] = &Entry{
		Addr:      addr,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Handle:    handle,
	}
	return Blocked, nil
}

// Unblock removes addr's kernel rule using its recorded handle — never by
// scanning rule text, which is the reference's documented, racy defect.
func (b *Blocker) Unblock(ctx context.Context, addr netip.Addr) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[addr]
	if !ok {
		return NotBlocked, nil
	}

	if err := b.admin.Remove(ctx, e.Handle); err != nil {
		return Failed, err
	}
	delete(b.entries, addr)
	return Unblocked, nil
}

// Sweep removes every entry whose ExpiresAt has passed as of now, and
// returns the addresses that were unblocked. Sweep is idempotent: a
// second call at the same `now` with nothing newly expired is a no-op.
//
// The mutex is held across the admin.Remove calls, per spec §5's "all
// FirewallAdmin calls are made while the mutex is held" — block/unblock
// rates are low enough that this is acceptable. Releasing the lock
// between selecting expired entries and removing them would let a
// concurrent Block() refresh an entry's ExpiresAt in between, and Sweep
// would then delete the just-refreshed (still live) entry out from under
// it.
func (b *Blocker) Sweep(ctx context.Context, now time.Time) ([]netip.Addr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed []netip.Addr
	var firstErr error
	for addr, e := range b.entries {
		if now.Before(e.ExpiresAt) {
			continue
		}
		if err := b.admin.Remove(ctx, e.Handle); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(b.entries, addr)
		removed = append(removed, addr)
	}
	if firstErr != nil {
		return removed, errors.Wrap(firstErr, errors.KindUnavailable, "sweep could not remove every expired rule")
	}
	return removed, nil
}

// Snapshot returns a copy of every currently tracked BlockEntry, for
// introspection by an EventSink or UI.
func (b *Blocker) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	return out
}

// IsBlocked reports whether addr has a live (non-expired) entry.
func (b *Blocker) IsBlocked(addr netip.Addr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[addr]
	return ok && b.clock.Now().Before(e.ExpiresAt)
}
