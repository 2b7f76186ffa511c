// Package hostlist declares the hostile-address check QueryResponder
// consults before honoring an OOB return address. The actual ban-list
// (local blocklists, P2P hostile-IP feeds) is out of scope (spec §1).
package hostlist

import "net/netip"

// Checker reports whether an address is on a hostile/banned list.
type Checker interface {
	IsHostile(addr netip.Addr) bool
}

// Allow is a Checker that never flags an address; useful as a default
// and in tests.
type Allow struct{}

func (Allow) IsHostile(netip.Addr) bool { return false }
