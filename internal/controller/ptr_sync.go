package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"k8s.io/client-go/util/retry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/config"
	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns"
)

const (
	ptrAnnotation     = "rdns.yk/ptr"
	appliedAnnotation = "rdns.yk/applied"

	// appliedAtAnnotation holds the RFC 3339 time the applied records were
	// last confirmed against the provider.
	appliedAtAnnotation = "rdns.yk/applied-at"
)

// PTRSync is the part shared by the Node and Gateway reconcilers: it turns a
// set of addresses into desired PTR records and drives them through the
// rdns reconciler.
type PTRSync struct {
	Reconciler *rdns.Reconciler

	// PTRMap, when set, supplies the PTR for addresses of objects that carry
	// no ptr annotation.
	PTRMap *config.PTRMap
	DryRun bool

	// VerifyInterval is how often records that are already applied get
	// looked up again, so changes made outside the controller are reverted.
	// Zero disables the re-check.
	VerifyInterval time.Duration
}

// desired maps every usable address to the PTR it should carry.
func (s *PTRSync) desired(log logr.Logger, annotations map[string]string, addresses []string) map[string]string {
	ptr := strings.TrimSpace(annotations[ptrAnnotation])

	out := make(map[string]string)
	for _, raw := range addresses {
		addr, err := rdns.ParseAddress(raw)
		if err != nil {
			log.V(1).Info("skipping unusable address", "address", raw, "error", err.Error())
			continue
		}
		switch {
		case ptr != "":
			out[addr.String()] = ptr
		case s.PTRMap != nil:
			if mapped, ok := s.PTRMap.LookupPTR(addr); ok {
				out[addr.String()] = mapped
			}
		}
	}
	return out
}

// apply reconciles every desired entry in address order. It returns the
// entries that are now in place and the aggregated transient failures.
// Permanent failures are logged and left out of both.
func (s *PTRSync) apply(ctx context.Context, log logr.Logger, desired map[string]string) (map[string]string, error) {
	applied := make(map[string]string, len(desired))
	var errs *multierror.Error

	for _, addr := range slices.Sorted(maps.Keys(desired)) {
		ptr := desired[addr]
		res, err := s.Reconciler.Reconcile(ctx, rdns.DesiredState{Address: addr, PTR: ptr}, s.DryRun)
		if err != nil {
			if rdns.IsPermanent(err) {
				log.Error(err, "PTR cannot be applied, not retrying", "address", addr, "ptr", ptr, "reason", rdns.ReasonOf(err))
				continue
			}
			errs = multierror.Append(errs, fmt.Errorf("reconciling PTR for %s: %w", addr, err))
			continue
		}

		switch res.Outcome {
		case rdns.OutcomeChanged:
			log.Info("updated PTR record", "address", addr, "ptr", ptr, "previous", res.Previous)
		case rdns.OutcomeWouldChange:
			log.Info("PTR record would change (dry run)", "address", addr, "ptr", ptr, "previous", res.Previous)
		default:
			log.V(1).Info("PTR record up to date", "address", addr, "ptr", ptr)
		}
		applied[addr] = ptr
	}
	return applied, errs.ErrorOrNil()
}

// sync runs one pass for obj. Objects whose desired records equal the
// recorded applied annotation are skipped without calling the provider,
// unless their last verification is older than VerifyInterval.
func (s *PTRSync) sync(ctx context.Context, c client.Client, reader client.Reader, log logr.Logger, obj client.Object, addresses []string) error {
	desired := s.desired(log, obj.GetAnnotations(), addresses)
	previous := appliedPTRs(obj)

	verify := false
	if maps.Equal(desired, previous) {
		if len(desired) == 0 || !s.verifyDue(obj) {
			log.V(1).Info("PTR records already applied, skipping", "records", formatPTRs(desired))
			return nil
		}
		verify = true
		log.V(1).Info("verifying applied PTR records", "records", formatPTRs(desired))
	}

	applied, err := s.apply(ctx, log, desired)
	if s.DryRun {
		return err
	}
	if maps.Equal(applied, previous) && !(verify && err == nil) {
		return err
	}

	if uerr := writeApplied(ctx, c, reader, obj, applied); uerr != nil {
		err = multierror.Append(err, fmt.Errorf("failed to update %s annotation: %w", appliedAnnotation, uerr)).ErrorOrNil()
	}
	return err
}

// verifyDue reports whether obj's applied records should be checked against
// the provider again.
func (s *PTRSync) verifyDue(obj client.Object) bool {
	if s.VerifyInterval <= 0 {
		return false
	}
	at, err := time.Parse(time.RFC3339, obj.GetAnnotations()[appliedAtAnnotation])
	if err != nil {
		return true
	}
	return time.Since(at) >= s.VerifyInterval
}

// result is the controller result of a successful pass.
func (s *PTRSync) result() ctrl.Result {
	return ctrl.Result{RequeueAfter: s.VerifyInterval}
}

func appliedPTRs(obj client.Object) map[string]string {
	out := map[string]string{}
	if val, ok := obj.GetAnnotations()[appliedAnnotation]; ok {
		_ = json.Unmarshal([]byte(val), &out)
	}
	return out
}

// writeApplied records applied and the current time on obj, re-reading it on
// conflict.
func writeApplied(ctx context.Context, c client.Client, reader client.Reader, obj client.Object, applied map[string]string) error {
	data, err := json.Marshal(applied)
	if err != nil {
		return err
	}
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if err := reader.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
			return err
		}
		annotations := obj.GetAnnotations()
		if annotations == nil {
			annotations = make(map[string]string)
		}
		annotations[appliedAnnotation] = string(data)
		annotations[appliedAtAnnotation] = time.Now().UTC().Format(time.RFC3339)
		obj.SetAnnotations(annotations)
		return c.Update(ctx, obj)
	})
}

// formatPTRs renders records as "addr=ptr" pairs in address order.
func formatPTRs(records map[string]string) string {
	var b strings.Builder
	for i, addr := range slices.Sorted(maps.Keys(records)) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", addr, records[addr])
	}
	return b.String()
}
