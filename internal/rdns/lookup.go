package rdns

import (
	"fmt"
	"net/netip"
	"strings"
)

// FindRecord selects the record whose address set contains target.
//
// IPv4 targets match by equality only. IPv6 targets match a single address
// by equality or fall inside an advertised network; in the latter case the
// PTR sub-entry with the same address, if any, supplies the current PTR.
// No match yields a not_found error, more than one matching record an
// ambiguous error.
func FindRecord(records []ServerRecord, target netip.Addr) (*Match, error) {
	target = target.Unmap()

	var matches []*Match
	for _, rec := range records {
		if m := matchRecord(rec, target); m != nil {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return nil, &Error{
			Reason: ReasonNotFound,
			Op:     "lookup",
			Msg:    fmt.Sprintf("could not find server with address %s", target),
		}
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, recordLabel(m.Record))
		}
		return nil, &Error{
			Reason: ReasonAmbiguous,
			Op:     "lookup",
			Msg:    fmt.Sprintf("address %s is held by %d servers (%s)", target, len(matches), strings.Join(ids, ", ")),
		}
	}
}

func matchRecord(rec ServerRecord, target netip.Addr) *Match {
	for _, ra := range rec.Addresses {
		if ra.Addr.IsValid() && ra.Addr.Unmap() == target {
			m := &Match{Record: rec, Address: target}
			if ra.PTR != nil {
				m.PTR, m.HasPTR = *ra.PTR, true
			}
			return m
		}

		if !target.Is6() || !ra.Network.IsValid() || !ra.Network.Contains(target) {
			continue
		}
		m := &Match{Record: rec, Address: target}
		for _, e := range ra.Entries {
			if e.Addr == target {
				m.PTR, m.HasPTR = e.PTR, true
				break
			}
		}
		return m
	}
	return nil
}

func recordLabel(rec ServerRecord) string {
	switch {
	case rec.Name != "" && rec.ID != 0:
		return fmt.Sprintf("%s/%d", rec.Name, rec.ID)
	case rec.ID != 0:
		return fmt.Sprintf("%d", rec.ID)
	case rec.Name != "":
		return rec.Name
	}
	return "?"
}
