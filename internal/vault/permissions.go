package vault

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Capability names an operation category guarded by the permission set.
type Capability string

const (
	CapConfigure Capability = "configure"
	CapPause     Capability = "pause"
	CapStrategy  Capability = "strategy"
	CapAdmin     Capability = "admin"
)

var capabilities = []Capability{CapConfigure, CapPause, CapStrategy, CapAdmin}

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	for _, c := range capabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown capability %q", ErrInvalidInput, s)
}

// Permissions maps each capability to the addresses holding it.
type Permissions map[Capability]map[common.Address]struct{}

func (p Permissions) Has(c Capability, who common.Address) bool {
	_, ok := p[c][who]
	return ok
}

func (p Permissions) grant(c Capability, who common.Address) {
	if p[c] == nil {
		p[c] = make(map[common.Address]struct{})
	}
	p[c][who] = struct{}{}
}

func (p Permissions) revoke(c Capability, who common.Address) {
	delete(p[c], who)
}

// Holders lists the addresses holding c, sorted.
func (p Permissions) Holders(c Capability) []common.Address {
	out := make([]common.Address, 0, len(p[c]))
	for a := range p[c] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (p Permissions) clone() Permissions {
	out := make(Permissions, len(p))
	for c, set := range p {
		cp := make(map[common.Address]struct{}, len(set))
		for a := range set {
			cp[a] = struct{}{}
		}
		out[c] = cp
	}
	return out
}

func (p Permissions) require(c Capability, who common.Address) error {
	if !p.Has(c, who) {
		return fmt.Errorf("%w: %s needs %s", ErrMissingCapability, who.Hex(), c)
	}
	return nil
}
