package access

import (
	"sort"
	"sync"

	"github.com/roelfdiedericks/reportbot/internal/messaging"
)

// Entitlement is the set of zones an address may request reports for.
type Entitlement struct {
	// All grants every zone and the all-zones report.
	All   bool
	Zones map[string]bool
}

// Allows reports whether zone may be requested.
func (e Entitlement) Allows(zone string) bool {
	return e.All || e.Zones[zone]
}

// Empty reports whether nothing may be requested.
func (e Entitlement) Empty() bool {
	return !e.All && len(e.Zones) == 0
}

// Policy holds the superadmin and per-zone allowlists. It is replaced
// wholesale on config reload.
type Policy struct {
	mu          sync.RWMutex
	superadmins map[string]bool
	zonesByAddr map[string]map[string]bool
}

// NewPolicy builds a policy from raw allowlists; addresses are normalized.
func NewPolicy(superadmins []string, zoneAdmins map[string][]string) *Policy {
	p := &Policy{}
	p.Update(superadmins, zoneAdmins)
	return p
}

// Update replaces the allowlists.
func (p *Policy) Update(superadmins []string, zoneAdmins map[string][]string) {
	supers := make(map[string]bool, len(superadmins))
	for _, a := range superadmins {
		if key := messaging.NormalizeKey(a); key != "" {
			supers[key] = true
		}
	}
	byAddr := make(map[string]map[string]bool)
	for zone, addrs := range zoneAdmins {
		for _, a := range addrs {
			key := messaging.NormalizeKey(a)
			if key == "" {
				continue
			}
			if byAddr[key] == nil {
				byAddr[key] = make(map[string]bool)
			}
			byAddr[key][zone] = true
		}
	}

	p.mu.Lock()
	p.superadmins = supers
	p.zonesByAddr = byAddr
	p.mu.Unlock()
}

// IsSuperadmin reports whether address is on the superadmin allowlist.
func (p *Policy) IsSuperadmin(address string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.superadmins[address]
}

// Resolve returns the entitlement of address holding role.
func (p *Policy) Resolve(address string, role Role) Entitlement {
	if role == RoleBlocked || role == RolePending {
		return Entitlement{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if role == RoleSuperadmin || p.superadmins[address] {
		return Entitlement{All: true}
	}
	zones := make(map[string]bool, len(p.zonesByAddr[address]))
	for z := range p.zonesByAddr[address] {
		zones[z] = true
	}
	return Entitlement{Zones: zones}
}

// ZoneNames lists the zones of e in name order, for logs.
func (e Entitlement) ZoneNames() []string {
	out := make([]string, 0, len(e.Zones))
	for z := range e.Zones {
		out = append(out, z)
	}
	sort.Strings(out)
	return out
}
