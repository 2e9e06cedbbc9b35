package rdns

import (
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/miekg/dns"
)

// ParseAddress parses an IPv4 or IPv6 address in forward notation
// (e.g. 127.0.0.1). Reverse notation such as 1.0.0.127.in-addr.arpa is
// rejected, as are zoned addresses. IPv4-mapped IPv6 addresses are unmapped.
func ParseAddress(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, invalidInput("empty address")
	}

	fqdn := dns.Fqdn(strings.ToLower(s))
	if dns.IsSubDomain("in-addr.arpa.", fqdn) || dns.IsSubDomain("ip6.arpa.", fqdn) {
		return netip.Addr{}, invalidInput("address %q is in reverse notation, expected forward notation", s)
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, &Error{Reason: ReasonInvalidInput, Msg: "invalid address " + s, Err: err}
	}
	if addr.Zone() != "" {
		return netip.Addr{}, invalidInput("address %q has a zone", s)
	}
	return addr.Unmap(), nil
}

// ValidatePTR checks that ptr is usable as a PTR record value.
func ValidatePTR(ptr string) error {
	if strings.TrimSpace(ptr) == "" {
		return invalidInput("empty PTR value")
	}
	if !utf8.ValidString(ptr) {
		return invalidInput("PTR value %q is not valid UTF-8", ptr)
	}
	if dns.CountLabel(ptr) == 0 {
		return invalidInput("PTR value %q has no labels", ptr)
	}
	if _, ok := dns.IsDomainName(ptr); !ok {
		return invalidInput("PTR value %q is not a valid domain name", ptr)
	}
	return nil
}

// ReverseName returns the in-addr.arpa or ip6.arpa name of addr.
func ReverseName(addr netip.Addr) string {
	name, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return ""
	}
	return name
}

// SamePTR compares two PTR values as DNS names: case-insensitively and
// ignoring a trailing dot.
func SamePTR(a, b string) bool {
	return strings.EqualFold(dns.Fqdn(a), dns.Fqdn(b))
}
