package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/nukible/pkg/discovery"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List BLE gateways on the local network",
		Long: `List BLE gateways advertising ` + discovery.ServiceGateway + ` via mDNS.

Exit code is non-zero when no gateway answers within the timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := discovery.NewResolver(discovery.ResolverConfig{
				BrowseTimeout: timeout,
				LoggerFactory: a.logs,
			})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			gateways, err := r.BrowseAll(ctx)
			if err != nil {
				return err
			}
			if len(gateways) == 0 {
				return fmt.Errorf("no gateway found within %s", timeout)
			}
			a.printGateways(gateways)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultBrowseTimeout, "Browse duration")
	return cmd
}

func (a *app) printGateways(gateways []discovery.Gateway) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tURL\tAUTH\tLOCK")
	for _, gw := range gateways {
		auth := "no"
		if gw.TXT.AuthRequired {
			auth = "yes"
		}
		lock := gw.TXT.LockAddress
		if lock == "" {
			lock = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", gw.Instance, gw.URL(), auth, lock)
	}
	w.Flush()
}
