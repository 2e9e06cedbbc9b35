package rdns

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Reconciler brings the PTR record of one address to a desired value.
type Reconciler struct {
	Provider Provider
	Log      logr.Logger
}

// NewReconciler returns a Reconciler backed by p.
func NewReconciler(p Provider, log logr.Logger) *Reconciler {
	return &Reconciler{Provider: p, Log: log}
}

// Reconcile looks up the current PTR of desired.Address and updates it to
// desired.PTR when they differ. In dry-run mode no update is issued and a
// needed change is reported as OutcomeWouldChange.
//
// On failure the returned Result has OutcomeFailed and err wraps an *Error.
// Nothing is retried.
func (r *Reconciler) Reconcile(ctx context.Context, desired DesiredState, dryRun bool) (*Result, error) {
	start := time.Now()
	res, err := r.reconcile(ctx, desired, dryRun)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Message = err.Error()
	}
	recordReconcile(r.Provider.Name(), res.Outcome, time.Since(start))
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, desired DesiredState, dryRun bool) (*Result, error) {
	res := &Result{PTR: desired.PTR}

	addr, err := ParseAddress(desired.Address)
	if err != nil {
		return res, err
	}
	if err := ValidatePTR(desired.PTR); err != nil {
		return res, err
	}
	res.Address = addr
	res.ReverseName = ReverseName(addr)

	log := r.Log.WithValues("run", uuid.NewString(), "provider", r.Provider.Name(), "ip", addr.String(), "ptr", desired.PTR)

	match, err := r.Provider.Lookup(ctx, addr)
	if err != nil {
		log.V(1).Info("lookup failed", "error", err.Error())
		return res, err
	}
	res.RecordID = match.Record.ID
	res.Previous = match.PTR
	res.Value = match.Payload

	if match.HasPTR && SamePTR(match.PTR, desired.PTR) {
		log.V(1).Info("PTR already up to date", "record", match.Record.ID)
		res.Outcome = OutcomeUnchanged
		res.Message = "OK"
		return res, nil
	}

	if dryRun {
		log.Info("PTR would change (check mode)", "current", match.PTR, "record", match.Record.ID)
		res.Outcome = OutcomeWouldChange
		res.Message = "OK"
		return res, nil
	}

	log.Info("updating PTR", "current", match.PTR, "record", match.Record.ID)
	value, err := r.Provider.SetPTR(ctx, match, desired.PTR)
	if err != nil {
		return res, fmt.Errorf("setting PTR for %s: %w", addr, err)
	}
	log.Info("PTR updated", "record", match.Record.ID)

	res.Outcome = OutcomeChanged
	res.Message = "OK"
	res.Value = value
	return res, nil
}
