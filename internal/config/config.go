package config

import (
	"fmt"
	"net/netip"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns"
)

// PTRMap maps IP addresses in forward notation to their desired PTR values.
type PTRMap struct {
	entries map[netip.Addr]string
}

// LoadPTRMap reads a YAML file mapping addresses to PTR values, e.g.
//
//	195.123.45.78: mailserver.example.com
//	"2001:db8::1": mailserver.example.com
//
// Every key must be a forward-notation address and every value a domain
// name. All invalid entries are reported together.
func LoadPTRMap(path string) (*PTRMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading PTR map file: %w", err)
	}

	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing PTR map file: %w", err)
	}

	var errs error
	entries := make(map[netip.Addr]string, len(raw))
	for key, ptr := range raw {
		addr, err := rdns.ParseAddress(key)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("entry %q: %w", key, err))
			continue
		}
		if err := rdns.ValidatePTR(ptr); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("entry %q: %w", key, err))
			continue
		}
		if prev, dup := entries[addr]; dup && prev != ptr {
			errs = multierror.Append(errs, fmt.Errorf("entry %q: address listed twice with different PTRs", key))
			continue
		}
		entries[addr] = ptr
	}
	if errs != nil {
		return nil, fmt.Errorf("invalid PTR map file %s: %w", path, errs)
	}

	return &PTRMap{entries: entries}, nil
}

// LookupPTR returns the desired PTR for addr.
func (pm *PTRMap) LookupPTR(addr netip.Addr) (string, bool) {
	ptr, ok := pm.entries[addr.Unmap()]
	return ptr, ok
}

// Addresses returns all configured addresses in ascending order.
func (pm *PTRMap) Addresses() []netip.Addr {
	addrs := make([]netip.Addr, 0, len(pm.entries))
	for a := range pm.entries {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	return addrs
}

// DesiredStates returns one rdns.DesiredState per entry, in address order.
func (pm *PTRMap) DesiredStates() []rdns.DesiredState {
	addrs := pm.Addresses()
	states := make([]rdns.DesiredState, 0, len(addrs))
	for _, a := range addrs {
		states = append(states, rdns.DesiredState{Address: a.String(), PTR: pm.entries[a]})
	}
	return states
}
