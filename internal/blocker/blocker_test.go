// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package blocker

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ngfw/internal/clock"
)

func TestIsPrivateRejectsRFC1918AndUnspecified(t *testing.T) {
	private := []string{"10.0.0.5", "172.16.1.1", "172.31.255.255", "192.168.1.1", "0.0.0.0"}
	for _, s := range private {
		assert.True(t, IsPrivate(netip.MustParseAddr(s)), s)
	}
}

func TestIsPrivateAllowsPublicAddresses(t *testing.T) {
	public := []string{"8.8.8.8", "1.1.1.1", "203.0.113.5"}
	for _, s := range public {
		assert.False(t, IsPrivate(netip.MustParseAddr(s)), s)
	}
}

// S2 Burst anomaly (the block half): a single block call installs exactly
// one kernel rule with a recorded handle.
func TestBlockInstallsOneRule(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())

	addr := netip.MustParseAddr("203.0.113.5")
	outcome, err := b.Block(context.Background(), addr, "anomalous flow", 0)
	require.NoError(t, err)
	assert.Equal(t, Blocked, outcome)
	assert.Equal(t, 1, admin.RuleCount())
	assert.True(t, b.IsBlocked(addr))
}

// S3 Private-range guard: no kernel call is made for a private address.
func TestBlockRejectsPrivateAddressBeforeKernelCall(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())

	outcome, err := b.Block(context.Background(), netip.MustParseAddr("10.0.0.5"), "anomalous flow", 0)
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome)
	assert.Equal(t, 0, admin.RuleCount())
}

// S4 Duplicate block: re-blocking refreshes expiry without a duplicate rule.
func TestReblockRefreshesWithoutDuplicateRule(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())
	addr := netip.MustParseAddr("203.0.113.5")

	_, err := b.Block(context.Background(), addr, "first", time.Minute)
	require.NoError(t, err)
	firstExpiry := b.Snapshot()[0].ExpiresAt

	mock.Advance(30 * time.Second)
	outcome, err := b.Block(context.Background(), addr, "second", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, AlreadyBlocked, outcome)
	assert.Equal(t, 1, admin.RuleCount())

	secondExpiry := b.Snapshot()[0].ExpiresAt
	assert.True(t, secondExpiry.After(firstExpiry))
}

// S5 Expiry: advancing the mock clock 61 minutes past a 60-minute TTL
// causes exactly one removal on sweep; a second sweep is a no-op.
func TestSweepRemovesExpiredExactlyOnce(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())
	addr := netip.MustParseAddr("203.0.113.5")

	_, err := b.Block(context.Background(), addr, "anomalous flow", 60*time.Minute)
	require.NoError(t, err)

	mock.Advance(61 * time.Minute)

	removed, err := b.Sweep(context.Background(), mock.Now())
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{addr}, removed)
	assert.Equal(t, 0, admin.RuleCount())
	assert.False(t, b.IsBlocked(addr))

	removedAgain, err := b.Sweep(context.Background(), mock.Now())
	require.NoError(t, err)
	assert.Empty(t, removedAgain)
}

// A block refreshed before its original deadline must survive a Sweep run
// after that deadline: Sweep evaluates ExpiresAt under the same lock it
// removes the entry in, so a refresh can never be clobbered by a sweep
// that read a stale deadline.
func TestSweepHonorsRefreshedExpiry(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())
	addr := netip.MustParseAddr("203.0.113.5")

	_, err := b.Block(context.Background(), addr, "first", time.Minute)
	require.NoError(t, err)

	mock.Advance(30 * time.Second)
	outcome, err := b.Block(context.Background(), addr, "refreshed", time.Minute)
	require.NoError(t, err)
	require.Equal(t, AlreadyBlocked, outcome)

	// 75s after the original block: past the original 60s TTL (the
	// deadline a lock-released Sweep would have read before the refresh),
	// but still within the refreshed one (granted at t=30s, expiring 90s).
	removed, err := b.Sweep(context.Background(), time.Unix(0, 0).Add(75*time.Second))
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.True(t, b.IsBlocked(addr))
	assert.Equal(t, 1, admin.RuleCount())
}

func TestUnblockUsesRecordedHandleNotTextScan(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())
	addr := netip.MustParseAddr("203.0.113.5")

	_, err := b.Block(context.Background(), addr, "anomalous flow", time.Minute)
	require.NoError(t, err)

	outcome, err := b.Unblock(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, Unblocked, outcome)
	assert.Equal(t, 0, admin.RuleCount())
}

func TestUnblockNotBlocked(t *testing.T) {
	admin := NewSimAdmin()
	mock := clock.NewMock(time.Unix(0, 0))
	b := New(admin, mock, DefaultConfig())

	outcome, err := b.Unblock(context.Background(), netip.MustParseAddr("203.0.113.5"))
	require.NoError(t, err)
	assert.Equal(t, NotBlocked, outcome)
}
