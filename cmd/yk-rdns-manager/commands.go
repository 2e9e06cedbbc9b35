package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/config"
	"github.com/yuriy-kovalchuk/yk-rdns-manager/internal/rdns"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	providerConfig string
	provider       string
	zap            zap.Options
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:           "yk-rdns-manager",
		Short:         "Keep Hetzner reverse DNS (PTR) records in their desired state",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zap)))
		},
	}

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(zapFlags)
	cmd.PersistentFlags().AddGoFlagSet(zapFlags)
	cmd.PersistentFlags().StringVar(&opts.providerConfig, "provider-config", config.ProviderConfigPath(),
		"Path to the provider config file (env RDNS_PROVIDER_PATH)")
	cmd.PersistentFlags().StringVar(&opts.provider, "provider", "",
		"Provider to use, overriding the config file (hcloud or robot)")

	cmd.AddCommand(newSetCmd(opts), newApplyCmd(opts), newControllerCmd(opts), newProvidersCmd())
	return cmd
}

// loadProvider builds the configured provider. A missing config file is
// accepted when --provider names the provider; credentials then come from
// the provider's environment variables.
func (o *rootOptions) loadProvider() (rdns.Provider, *config.ProviderConfig, error) {
	cfg, err := config.LoadProviderConfigFromPath(o.providerConfig)
	if err != nil {
		if o.provider == "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("unable to load provider config: %w", err)
		}
		cfg = &config.ProviderConfig{Settings: map[string]string{}}
	}
	if o.provider != "" {
		cfg.Provider = o.provider
	}

	p, err := rdns.NewProvider(cfg.Provider, ctrl.Log.WithName("rdns-"+cfg.Provider), cfg.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create rDNS provider: %w", err)
	}
	return p, cfg, nil
}

func newSetCmd(opts *rootOptions) *cobra.Command {
	var (
		ip, ptr string
		check   bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the PTR record of one address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, cfg, err := opts.loadProvider()
			if err != nil {
				return err
			}

			r := rdns.NewReconciler(p, ctrl.Log.WithName("reconciler"))
			res, err := r.Reconcile(cmd.Context(), rdns.DesiredState{Address: ip, PTR: ptr}, check || cfg.CheckMode)
			if err != nil {
				_ = printJSON(cmd.OutOrStdout(), rdns.FailureReport(p.Name(), err))
				return err
			}
			return printJSON(cmd.OutOrStdout(), res.Report())
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "Address in forward notation, e.g. 195.123.45.78 or 2001:db8::1")
	cmd.Flags().StringVar(&ptr, "ptr", "", "Desired PTR value")
	cmd.Flags().BoolVar(&check, "check", false, "Report what would change without applying it")
	_ = cmd.MarkFlagRequired("ip")
	_ = cmd.MarkFlagRequired("ptr")
	return cmd
}

// entryReport is one line of apply output.
type entryReport struct {
	IP  string `json:"ip"`
	PTR string `json:"ptr"`
	rdns.Report
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var (
		file  string
		check bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply every entry of a PTR map file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ptrMap, err := config.LoadPTRMap(file)
			if err != nil {
				return fmt.Errorf("unable to load PTR map: %w", err)
			}
			p, cfg, err := opts.loadProvider()
			if err != nil {
				return err
			}

			r := rdns.NewReconciler(p, ctrl.Log.WithName("reconciler"))
			var errs *multierror.Error
			for _, desired := range ptrMap.DesiredStates() {
				rep := entryReport{IP: desired.Address, PTR: desired.PTR}
				res, err := r.Reconcile(cmd.Context(), desired, check || cfg.CheckMode)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("%s: %w", desired.Address, err))
					rep.Report = rdns.FailureReport(p.Name(), err)
				} else {
					rep.Report = res.Report()
				}
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			return errs.ErrorOrNil()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "PTR map file (address: ptr)")
	cmd.Flags().BoolVar(&check, "check", false, "Report what would change without applying it")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the registered rDNS providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range rdns.Providers() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
