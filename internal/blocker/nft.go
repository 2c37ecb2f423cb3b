// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package blocker

import (
	"context"
	"encoding/binary"
	"net/netip"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/ngfw/internal/errors"
)

const (
	tableName = "ngfw"
	chainName = "ngfw_block"
)

// NFTAdmin is the real FirewallAdmin, backed directly by
// github.com/google/nftables — the same library the teacher's
// internal/firewall/manager_linux.go wires up via nftables.New(). Unlike
// the reference's unblock path, which scans `nft list ruleset` text to
// guess a rule's handle, NFTAdmin reads the real kernel-assigned handle
// off the *nftables.Rule returned by AddRule once Flush has run, and
// stores it directly.
type NFTAdmin struct {
	conn  *nftables.Conn
	table *nftables.Table
	chain *nftables.Chain
}

// NewNFTAdmin opens a connection to the kernel's nftables subsystem.
func NewNFTAdmin() (*NFTAdmin, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open nftables connection")
	}
	return &NFTAdmin{conn: conn}, nil
}

// EnsureChain creates the table/chain this engine's drop rules live in,
// if they do not already exist.
func (a *NFTAdmin) EnsureChain(ctx context.Context) error {
	a.table = a.conn.AddTable(&nftables.Table{
		Name:   tableName,
		Family: nftables.TableFamilyIPv4,
	})
	policy := nftables.ChainPolicyAccept
	a.chain = a.conn.AddChain(&nftables.Chain{
		Name:     chainName,
		Table:    a.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})
	if err := a.conn.Flush(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to install base chain")
	}
	return nil
}

// AddDrop installs a drop rule for addr and returns its kernel-assigned
// handle.
func (a *NFTAdmin) AddDrop(ctx context.Context, addr netip.Addr) (Handle, error) {
	a4 := addr.As4()

	rule := &nftables.Rule{
		Table: a.table,
		Chain: a.chain,
		Exprs: []expr.Any{
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseNetworkHeader,
				Offset:       12, // IPv4 source address offset
				Len:          4,
			},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     a4[:],
			},
			&expr.Verdict{
				Kind: expr.VerdictDrop,
			},
		},
	}

	rule = a.conn.AddRule(rule)
	if err := a.conn.Flush(); err != nil {
		return nil, classifyFlushError(err, "failed to install drop rule")
	}

	return encodeHandle(rule.Handle), nil
}

// Remove deletes the rule identified by h.
func (a *NFTAdmin) Remove(ctx context.Context, h Handle) error {
	handle, err := decodeHandle(h)
	if err != nil {
		return errors.Wrap(err, errors.KindValidation, "malformed rule handle")
	}

	rule := &nftables.Rule{
		Table:  a.table,
		Chain:  a.chain,
		Handle: handle,
	}
	a.conn.DelRule(rule)
	if err := a.conn.Flush(); err != nil {
		return classifyFlushError(err, "failed to remove drop rule")
	}
	return nil
}

// encodeHandle packs a kernel rule handle (uint64) into the opaque Handle
// byte string the engine passes around without interpretation.
func encodeHandle(h uint64) Handle {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h)
	return Handle(buf)
}

func decodeHandle(h Handle) (uint64, error) {
	if len(h) != 8 {
		return 0, errors.New(errors.KindValidation, "rule handle must be 8 bytes")
	}
	return binary.BigEndian.Uint64(h), nil
}

// isPermanentNFTError classifies an nftables failure as permanent (the
// base chain or table was deleted externally and cannot be recreated by
// adding a rule to it) versus transient, per spec §4.5's FirewallAdmin
// contract and spec §7's Runtime-fatal condition.
func isPermanentNFTError(err error) bool {
	return errors.Is(err, unix.ENOENT)
}

// classifyFlushError wraps a failed Flush as KindInternal when
// isPermanentNFTError judges it unrecoverable (the caller should stop
// retrying and enter degraded mode), or KindUnavailable when it looks
// transient (safe to retry on the next flow).
func classifyFlushError(err error, msg string) error {
	if isPermanentNFTError(err) {
		return errors.Wrap(err, errors.KindInternal, msg+": firewall chain is permanently unavailable")
	}
	return errors.Wrap(err, errors.KindUnavailable, msg)
}
