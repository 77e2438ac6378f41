package device

import (
	"fmt"
	"net/netip"
	"strings"
)

// ACL is an ordered permit/deny list evaluated top to bottom; the last
// matching rule wins, matching how PBX host configs layer deny= before
// permit= lines. An empty ACL permits everything.
type ACL struct {
	rules []aclRule
}

type aclRule struct {
	permit bool
	prefix netip.Prefix
}

// AddPermit appends a permit rule. A rule is an address with an
// optional /mask; a bare address means /32.
func (a *ACL) AddPermit(spec string) error { return a.add(spec, true) }

// AddDeny appends a deny rule.
func (a *ACL) AddDeny(spec string) error { return a.add(spec, false) }

func (a *ACL) add(spec string, permit bool) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if !strings.Contains(spec, "/") {
		spec += "/32"
	}
	p, err := netip.ParsePrefix(spec)
	if err != nil {
		return fmt.Errorf("acl entry %q: %w", spec, err)
	}
	a.rules = append(a.rules, aclRule{permit: permit, prefix: p.Masked()})
	return nil
}

// Allows reports whether addr passes the list.
func (a *ACL) Allows(addr netip.Addr) bool {
	allowed := true
	for _, r := range a.rules {
		if r.prefix.Contains(addr.Unmap()) {
			allowed = r.permit
		}
	}
	return allowed
}

// Empty reports whether the ACL has no rules.
func (a *ACL) Empty() bool { return len(a.rules) == 0 }
