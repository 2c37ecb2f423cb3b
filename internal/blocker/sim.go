// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package blocker

import (
	"context"
	"net/netip"
	"sync"

	"github.com/google/uuid"

	"grimm.is/ngfw/internal/errors"
)

// SimAdmin is an in-memory FirewallAdmin, grounded on the teacher's
// simulated kernel (internal/kernel/provider_sim.go) adapted to this
// module's narrower FirewallAdmin interface. It backs the tests;
// cmd/ngfwd always uses NFTAdmin.
type SimAdmin struct {
	mu    sync.Mutex
	rules map[string]netip.Addr
	Fail  error // when set, every call fails with this error
}

// NewSimAdmin constructs an empty SimAdmin.
func NewSimAdmin() *SimAdmin {
	return &SimAdmin{rules: make(map[string]netip.Addr)}
}

// EnsureChain is a no-op for the simulated admin.
func (s *SimAdmin) EnsureChain(ctx context.Context) error {
	if s.Fail != nil {
		return s.Fail
	}
	return nil
}

// AddDrop records addr under a freshly minted handle.
func (s *SimAdmin) AddDrop(ctx context.Context, addr netip.Addr) (Handle, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.rules[id] = addr
	return Handle(id), nil
}

// Remove deletes the rule identified by h.
func (s *SimAdmin) Remove(ctx context.Context, h Handle) error {
	if s.Fail != nil {
		return s.Fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := string(h)
	if _, ok := s.rules[id]; !ok {
		return errors.New(errors.KindNotFound, "no such rule handle")
	}
	delete(s.rules, id)
	return nil
}

// RuleCount reports how many rules are currently installed, for test
// assertions like spec §8 invariant 5 ("increases kernel rule count by 0").
func (s *SimAdmin) RuleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// Has reports whether addr currently has an installed rule.
func (s *SimAdmin) Has(addr netip.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.rules {
		if a == addr {
			return true
		}
	}
	return false
}
