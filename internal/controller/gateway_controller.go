package controller

import (
	"context"
	"slices"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"
)

// GatewayReconciler keeps the PTR records of Gateway status addresses in sync.
type GatewayReconciler struct {
	client.Client
	APIReader client.Reader
	Log       logr.Logger
	PTRSync
}

func (r *GatewayReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	reader := r.APIReader
	if reader == nil {
		reader = r.Client
	}

	var gw gatewayv1.Gateway
	if err := reader.Get(ctx, req.NamespacedName, &gw); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	if !gw.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	log := r.Log.WithValues("gateway", req.NamespacedName)
	if err := r.sync(ctx, r.Client, reader, log, &gw, gatewayIPs(&gw)); err != nil {
		return ctrl.Result{}, err
	}
	return r.result(), nil
}

// gatewayIPs returns the status addresses of type IPAddress. Untyped
// addresses default to IPAddress.
func gatewayIPs(gw *gatewayv1.Gateway) []string {
	var out []string
	for _, a := range gw.Status.Addresses {
		if a.Type != nil && *a.Type != gatewayv1.IPAddressType {
			continue
		}
		out = append(out, a.Value)
	}
	return out
}

func (r *GatewayReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&gatewayv1.Gateway{}).
		WithEventFilter(predicate.Funcs{
			UpdateFunc: func(e event.UpdateEvent) bool {
				if e.ObjectOld.GetGeneration() != e.ObjectNew.GetGeneration() {
					return true
				}
				oldGW, ok1 := e.ObjectOld.(*gatewayv1.Gateway)
				newGW, ok2 := e.ObjectNew.(*gatewayv1.Gateway)
				if !ok1 || !ok2 {
					return true
				}
				if oldGW.Annotations[ptrAnnotation] != newGW.Annotations[ptrAnnotation] ||
					oldGW.Annotations[appliedAnnotation] != newGW.Annotations[appliedAnnotation] {
					return true
				}
				// Addresses are assigned through status.
				return !slices.Equal(gatewayIPs(oldGW), gatewayIPs(newGW))
			},
		}).
		Complete(r)
}
