package signer

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Pool spreads signed requests over several keys using atomic round-robin
// selection. It is safe for concurrent use.
type Pool struct {
	signers []*Signer
	counter atomic.Uint64
}

// NewPool creates a Pool with one Signer per key. addresses[i], when present
// and non-empty, is the requester address for keys[i]; otherwise the key's own
// address is used. At least one key is required.
func NewPool(keys, addresses []string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("signer pool: at least one key is required")
	}
	if len(addresses) > len(keys) {
		return nil, fmt.Errorf("signer pool: %d addresses for %d keys", len(addresses), len(keys))
	}
	p := &Pool{signers: make([]*Signer, 0, len(keys))}
	for i, k := range keys {
		var addr string
		if i < len(addresses) {
			addr = strings.TrimSpace(addresses[i])
		}
		s, err := New(k, addr)
		if err != nil {
			return nil, fmt.Errorf("signer pool: key %d: %w", i+1, err)
		}
		p.signers = append(p.signers, s)
	}
	return p, nil
}

// Next returns the next signer.
func (p *Pool) Next() *Signer {
	idx := p.counter.Add(1) - 1
	return p.signers[idx%uint64(len(p.signers))]
}

// Len returns the number of signers in the pool.
func (p *Pool) Len() int { return len(p.signers) }

// Addresses returns the requester addresses in pool order.
func (p *Pool) Addresses() []string {
	out := make([]string, len(p.signers))
	for i, s := range p.signers {
		out[i] = s.address
	}
	return out
}

// Headers signs payload with the next signer.
func (p *Pool) Headers(payload []byte, target string) (map[string]string, error) {
	return p.Next().Headers(payload, target)
}
