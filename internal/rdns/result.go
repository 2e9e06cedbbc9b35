package rdns

import (
	"fmt"
	"net/netip"
)

// Outcome is the terminal state of a reconciliation.
type Outcome string

const (
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeWouldChange Outcome = "would_change"
	OutcomeChanged     Outcome = "changed"
	OutcomeFailed      Outcome = "failed"
)

// DesiredState is the PTR value requested for an address.
type DesiredState struct {
	Address string `json:"ip" yaml:"ip"`
	PTR     string `json:"ptr" yaml:"ptr"`
}

// Result describes what a reconciliation did.
type Result struct {
	Outcome     Outcome
	Address     netip.Addr
	ReverseName string
	PTR         string // desired value
	Previous    string // value found by lookup, empty when absent
	RecordID    int64
	Message     string
	Value       any // raw lookup or update response
}

// Changed reports whether the PTR was, or in dry-run would have been, written.
func (r *Result) Changed() bool {
	return r.Outcome == OutcomeChanged || r.Outcome == OutcomeWouldChange
}

// Report is the caller-facing summary of a reconciliation.
type Report struct {
	Changed bool   `json:"changed"`
	Failed  bool   `json:"failed,omitempty"`
	Msg     string `json:"msg"`
	Value   any    `json:"value,omitempty"`
}

// Report converts the result into its caller-facing form.
func (r *Result) Report() Report {
	return Report{
		Changed: r.Changed(),
		Failed:  r.Outcome == OutcomeFailed,
		Msg:     r.Message,
		Value:   r.Value,
	}
}

// FailureReport builds the caller-facing report for a failed call to provider.
func FailureReport(provider string, err error) Report {
	return Report{
		Changed: false,
		Failed:  true,
		Msg:     fmt.Sprintf("failed in call to %s API: %v", provider, err),
	}
}
