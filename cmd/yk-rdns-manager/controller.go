package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/config"
	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/controller"
	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns"
)

type controllerOptions struct {
	metricsAddr string
	probeAddr   string
	ptrMapPath  string
	gateways    bool
	check       bool
	verify      time.Duration
}

func newControllerCmd(opts *rootOptions) *cobra.Command {
	copts := &controllerOptions{}

	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the Kubernetes controller for annotated Nodes and Gateways",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runController(cmd.Context(), opts, copts)
		},
	}

	cmd.Flags().StringVar(&copts.metricsAddr, "metrics-bind-address", ":9090", "Address the metrics endpoint binds to")
	cmd.Flags().StringVar(&copts.probeAddr, "health-probe-bind-address", ":8081", "Address the health probes bind to")
	cmd.Flags().StringVar(&copts.ptrMapPath, "ptr-map", "", "Optional PTR map file used for addresses of unannotated objects")
	cmd.Flags().BoolVar(&copts.gateways, "gateways", true, "Also reconcile Gateway API Gateways")
	cmd.Flags().BoolVar(&copts.check, "check", false, "Report what would change without applying it")
	cmd.Flags().DurationVar(&copts.verify, "verify-interval", time.Hour, "How often applied PTR records are looked up again to revert outside changes (0 disables)")
	return cmd
}

func runController(ctx context.Context, opts *rootOptions, copts *controllerOptions) error {
	log := ctrl.Log.WithName("setup")
	log.Info("starting yk-rdns-manager controller", "version", Version)

	p, cfg, err := opts.loadProvider()
	if err != nil {
		return err
	}
	log.Info("loaded provider config", "provider", p.Name(), "check_mode", cfg.CheckMode || copts.check)

	var ptrMap *config.PTRMap
	if copts.ptrMapPath != "" {
		ptrMap, err = config.LoadPTRMap(copts.ptrMapPath)
		if err != nil {
			return fmt.Errorf("unable to load PTR map: %w", err)
		}
		log.Info("loaded PTR map", "path", copts.ptrMapPath, "entries", len(ptrMap.Addresses()))
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: copts.metricsAddr},
		HealthProbeBindAddress: copts.probeAddr,
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	sync := controller.PTRSync{
		Reconciler:     rdns.NewReconciler(p, ctrl.Log.WithName("reconciler")),
		PTRMap:         ptrMap,
		DryRun:         cfg.CheckMode || copts.check,
		VerifyInterval: copts.verify,
	}

	nodes := &controller.NodeReconciler{
		Client:    mgr.GetClient(),
		APIReader: mgr.GetAPIReader(),
		Log:       ctrl.Log.WithName("node-controller"),
		PTRSync:   sync,
	}
	if err := nodes.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("unable to set up Node controller: %w", err)
	}

	if copts.gateways {
		gateways := &controller.GatewayReconciler{
			Client:    mgr.GetClient(),
			APIReader: mgr.GetAPIReader(),
			Log:       ctrl.Log.WithName("gateway-controller"),
			PTRSync:   sync,
		}
		if err := gateways.SetupWithManager(mgr); err != nil {
			return fmt.Errorf("unable to set up Gateway controller: %w", err)
		}
	}

	log.Info("starting manager")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("manager exited with error: %w", err)
	}
	return nil
}
