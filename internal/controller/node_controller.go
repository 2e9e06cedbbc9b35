package controller

import (
	"context"
	"slices"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
)

// NodeReconciler keeps the PTR records of node external addresses in sync.
type NodeReconciler struct {
	client.Client
	APIReader client.Reader
	Log       logr.Logger
	PTRSync
}

func (r *NodeReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	reader := r.reader()

	var node corev1.Node
	if err := reader.Get(ctx, req.NamespacedName, &node); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	if !node.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	log := r.Log.WithValues("node", req.Name)
	if err := r.sync(ctx, r.Client, reader, log, &node, nodeExternalIPs(&node)); err != nil {
		return ctrl.Result{}, err
	}
	return r.result(), nil
}

func (r *NodeReconciler) reader() client.Reader {
	if r.APIReader != nil {
		return r.APIReader
	}
	return r.Client
}

func nodeExternalIPs(node *corev1.Node) []string {
	var out []string
	for _, a := range node.Status.Addresses {
		if a.Type == corev1.NodeExternalIP {
			out = append(out, a.Address)
		}
	}
	return out
}

func (r *NodeReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Node{}).
		WithEventFilter(predicate.Funcs{
			UpdateFunc: func(e event.UpdateEvent) bool {
				oldNode, ok1 := e.ObjectOld.(*corev1.Node)
				newNode, ok2 := e.ObjectNew.(*corev1.Node)
				if !ok1 || !ok2 {
					return true
				}
				// Node status is rewritten by every kubelet heartbeat; only
				// react to the annotations and addresses we act on.
				if oldNode.Annotations[ptrAnnotation] != newNode.Annotations[ptrAnnotation] {
					return true
				}
				if oldNode.Annotations[appliedAnnotation] != newNode.Annotations[appliedAnnotation] {
					return true
				}
				return !slices.Equal(nodeExternalIPs(oldNode), nodeExternalIPs(newNode))
			},
		}).
		Complete(r)
}
