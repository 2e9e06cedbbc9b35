package rdns

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why a reconciliation failed.
type Reason string

const (
	ReasonTransport       Reason = "transport"
	ReasonNotFound        Reason = "not_found"
	ReasonVendorRejection Reason = "vendor_rejection"
	ReasonAmbiguous       Reason = "ambiguous"
	ReasonInvalidInput    Reason = "invalid_input"
)

// Error is the terminal failure of a single reconciliation.
type Error struct {
	Reason     Reason
	Op         string // "lookup" or "update"
	URL        string
	StatusCode int
	Body       string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Reason))
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s", e.URL)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, " -> %d", e.StatusCode)
		}
		b.WriteString(")")
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Msg != "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf returns the Reason carried by err, or ReasonTransport for errors
// that did not come from this package.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Reason
	}
	return ReasonTransport
}

// IsNotFound reports whether err means the address has no directory record.
func IsNotFound(err error) bool {
	return ReasonOf(err) == ReasonNotFound
}

// IsPermanent reports whether repeating the same call cannot succeed without
// a change of input or directory contents.
func IsPermanent(err error) bool {
	switch ReasonOf(err) {
	case ReasonNotFound, ReasonInvalidInput, ReasonAmbiguous:
		return true
	}
	return false
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Reason: ReasonInvalidInput, Msg: fmt.Sprintf(format, args...)}
}
