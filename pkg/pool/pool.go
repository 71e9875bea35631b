// Package pool turns configured CIDRs into runtime allocation state.
//
// The configuration stores networks, the runtime stores allocatable items:
// IPv4 pools hand out host addresses, IPv6 pools hand out /64 prefixes and
// delegated pools hand out /56 prefixes. Allocation pops from the head of
// the sequence, restoration pushes to the tail. Allocation state is
// process-local: a restart re-enumerates the full pool.
package pool

import (
	"fmt"
	"math/rand"
	"net/netip"
	"sync"
)

const (
	prefixLenIPv6      = 64
	prefixLenDelegated = 56
)

// Spec describes a single named pool as found in the policy configuration.
type Spec struct {
	Shuffle       bool
	IPv4          []string
	IPv6          []string
	IPv6Delegated []string
}

// Runtime is the allocation state for one pool.
//
// All methods are safe for concurrent use; handlers for different datagrams
// may allocate from the same pool at the same time.
type Runtime struct {
	mu            sync.Mutex
	ipv4          []netip.Addr
	ipv6          []netip.Prefix
	ipv6Delegated []netip.Prefix
}

// New builds a Runtime from a pool spec.
//
// IPv4 networks expand into their host addresses (for /31 and /32 the
// endpoints themselves). IPv6 networks shorter than the target prefix length
// are split into subnets of that length; networks at or beyond the target
// length are kept as-is. With Shuffle set, each sequence is permuted once at
// construction.
func New(spec Spec) (*Runtime, error) {
	ipv4, err := expandIPv4Hosts(spec.IPv4)
	if err != nil {
		return nil, err
	}
	ipv6, err := expandIPv6Prefixes(spec.IPv6, prefixLenIPv6)
	if err != nil {
		return nil, err
	}
	delegated, err := expandIPv6Prefixes(spec.IPv6Delegated, prefixLenDelegated)
	if err != nil {
		return nil, err
	}

	if spec.Shuffle {
		rand.Shuffle(len(ipv4), func(i, j int) { ipv4[i], ipv4[j] = ipv4[j], ipv4[i] })
		rand.Shuffle(len(ipv6), func(i, j int) { ipv6[i], ipv6[j] = ipv6[j], ipv6[i] })
		rand.Shuffle(len(delegated), func(i, j int) { delegated[i], delegated[j] = delegated[j], delegated[i] })
	}

	return &Runtime{
		ipv4:          ipv4,
		ipv6:          ipv6,
		ipv6Delegated: delegated,
	}, nil
}

// AllocateIPv4 pops the next host address. ok is false when the pool is
// exhausted.
func (r *Runtime) AllocateIPv4() (addr string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ipv4) == 0 {
		return "", false
	}
	a := r.ipv4[0]
	r.ipv4 = r.ipv4[1:]
	return a.String(), true
}

// AllocateIPv6 pops the next /64 prefix in canonical <addr>/<len> form.
func (r *Runtime) AllocateIPv6() (prefix string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ipv6) == 0 {
		return "", false
	}
	p := r.ipv6[0]
	r.ipv6 = r.ipv6[1:]
	return p.String(), true
}

// AllocateIPv6Delegated pops the next /56 prefix in canonical form.
func (r *Runtime) AllocateIPv6Delegated() (prefix string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ipv6Delegated) == 0 {
		return "", false
	}
	p := r.ipv6Delegated[0]
	r.ipv6Delegated = r.ipv6Delegated[1:]
	return p.String(), true
}

// RestoreIPv4 pushes a host address back onto the tail of the sequence.
// The caller is trusted: the address does not have to originate from this
// pool, it only has to parse.
func (r *Runtime) RestoreIPv4(address string) error {
	a, err := netip.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("restore ipv4 %q: %w", address, err)
	}
	if !a.Is4() {
		return fmt.Errorf("restore ipv4 %q: not an IPv4 address", address)
	}

	r.mu.Lock()
	r.ipv4 = append(r.ipv4, a)
	r.mu.Unlock()
	return nil
}

// RestoreIPv6 pushes a prefix back onto the tail of the /64 sequence.
func (r *Runtime) RestoreIPv6(prefix string) error {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return fmt.Errorf("restore ipv6 %q: %w", prefix, err)
	}

	r.mu.Lock()
	r.ipv6 = append(r.ipv6, p)
	r.mu.Unlock()
	return nil
}

// RestoreIPv6Delegated pushes a prefix back onto the tail of the /56 sequence.
func (r *Runtime) RestoreIPv6Delegated(prefix string) error {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return fmt.Errorf("restore delegated ipv6 %q: %w", prefix, err)
	}

	r.mu.Lock()
	r.ipv6Delegated = append(r.ipv6Delegated, p)
	r.mu.Unlock()
	return nil
}

// Remaining reports how many items are left in each sequence.
func (r *Runtime) Remaining() (ipv4, ipv6, ipv6Delegated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ipv4), len(r.ipv6), len(r.ipv6Delegated)
}

// BuildRuntimes converts a map of pool specs into runtimes, keyed by pool
// name.
func BuildRuntimes(specs map[string]Spec) (map[string]*Runtime, error) {
	runtimes := make(map[string]*Runtime, len(specs))
	for name, spec := range specs {
		rt, err := New(spec)
		if err != nil {
			return nil, fmt.Errorf("pool %q: %w", name, err)
		}
		runtimes[name] = rt
	}
	return runtimes, nil
}

// expandIPv4Hosts enumerates the host addresses of each network.
// Example: 10.0.0.0/30 -> 10.0.0.1, 10.0.0.2
func expandIPv4Hosts(networks []string) ([]netip.Addr, error) {
	var hosts []netip.Addr
	for _, cidr := range networks {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid ipv4 network %q: %w", cidr, err)
		}
		if !p.Addr().Is4() {
			return nil, fmt.Errorf("invalid ipv4 network %q: not IPv4", cidr)
		}
		p = p.Masked()

		// /31 and /32 have no network/broadcast distinction; the endpoints
		// themselves are usable.
		if p.Bits() >= 31 {
			for a := p.Addr(); p.Contains(a); a = a.Next() {
				hosts = append(hosts, a)
			}
			continue
		}

		first := p.Addr().Next() // skip network address
		for a := first; p.Contains(a.Next()); a = a.Next() {
			hosts = append(hosts, a) // loop condition skips broadcast
		}
	}
	return hosts, nil
}

// expandIPv6Prefixes splits each network into subnets of newPrefix bits.
// Networks already at or beyond newPrefix are kept unchanged.
func expandIPv6Prefixes(networks []string, newPrefix int) ([]netip.Prefix, error) {
	var expanded []netip.Prefix
	for _, cidr := range networks {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid ipv6 network %q: %w", cidr, err)
		}
		if !p.Addr().Is6() || p.Addr().Is4In6() {
			return nil, fmt.Errorf("invalid ipv6 network %q: not IPv6", cidr)
		}
		p = p.Masked()

		if p.Bits() >= newPrefix {
			expanded = append(expanded, p)
			continue
		}

		count := uint64(1) << (newPrefix - p.Bits())
		sub := netip.PrefixFrom(p.Addr(), newPrefix)
		for i := uint64(0); i < count; i++ {
			expanded = append(expanded, sub)
			sub = netip.PrefixFrom(nextSubnetAddr(sub.Addr(), newPrefix), newPrefix)
		}
	}
	return expanded, nil
}

// nextSubnetAddr advances addr by one subnet of the given prefix length.
func nextSubnetAddr(addr netip.Addr, prefixLen int) netip.Addr {
	b := addr.As16()
	for i := (prefixLen - 1) / 8; i >= 0; i-- {
		step := byte(1)
		if i == (prefixLen-1)/8 && prefixLen%8 != 0 {
			step = 1 << (8 - prefixLen%8)
		}
		b[i] += step
		if b[i] >= step {
			break // no carry
		}
		// overflowed this byte, carry into the next one with step 1
	}
	return netip.AddrFrom16(b)
}
