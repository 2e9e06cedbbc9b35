package rdns

import (
	"context"
	"net/netip"
)

// PTREntry is a single address-to-name mapping inside an advertised network.
type PTREntry struct {
	Addr netip.Addr `json:"ip"`
	PTR  string     `json:"dns_ptr"`
}

// RecordAddress is one address slot of a ServerRecord. Either Addr is set
// (a single address with an optional PTR) or Network is set (an IPv6 block
// with per-address PTR entries).
type RecordAddress struct {
	Addr    netip.Addr   `json:"addr,omitzero"`
	PTR     *string      `json:"dns_ptr,omitempty"`
	Network netip.Prefix `json:"network,omitzero"`
	Entries []PTREntry   `json:"entries,omitempty"`
}

// ServerRecord is one entry of a vendor directory.
type ServerRecord struct {
	ID        int64           `json:"id,omitempty"` // 0 when the vendor assigns none
	Name      string          `json:"name,omitempty"`
	Addresses []RecordAddress `json:"addresses"`
}

// Match is the directory record selected for a target address.
type Match struct {
	Record  ServerRecord
	Address netip.Addr
	PTR     string
	HasPTR  bool
	Payload any // raw lookup response, kept for reporting
}

// Provider is the interface that reverse DNS backends must implement.
type Provider interface {
	// Name returns the registry name of the provider.
	Name() string
	// Lookup finds the directory record holding addr.
	Lookup(ctx context.Context, addr netip.Addr) (*Match, error)
	// SetPTR points the matched address at ptr and returns the raw response.
	SetPTR(ctx context.Context, match *Match, ptr string) (any, error)
}
