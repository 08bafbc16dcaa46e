package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/nukible/pkg/nuki"
)

func newPairCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair with the lock and store the credentials",
		Long: `Pair with the lock and store the credentials.

Put the lock into pairing mode first (press its button for 5 seconds). The
client retries until pairing succeeds or the timeout expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if creds, err := nuki.LoadCredentials(s.store); err == nil {
				a.printf("Already paired (authorization %d). Run unpair first to pair again.\n", creds.AuthorizationID)
				return nil
			}

			pub := s.client.PublicKey()
			a.printf("Connection: %s\n", s.info)
			a.printf("Lock: %s\n", a.config.Lock.Address)
			a.printf("Public key: %X\n", pub[:])
			a.printf("Waiting for the lock (timeout %s)...\n", timeout)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			err = s.run(ctx, func(ev nuki.Event) (bool, error) {
				switch ev := ev.(type) {
				case nuki.StateChanged:
					a.printf("  %s\n", ev.State)
				case nuki.PairingFailed:
					a.printf("  pairing failed: %v\n", ev.Err)
				case nuki.PairingSucceeded:
					a.printf("Paired: authorization %d, lock %s\n",
						ev.Credentials.AuthorizationID, ev.Credentials.LockID)
					return true, nil
				}
				return false, nil
			})
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("pairing did not complete within %s", timeout)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long")
	return cmd
}

func newUnpairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Forget the stored credentials",
		Long: `Forget the stored credentials. The client key pair is kept.

The authorization stays on the lock until it is removed there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			creds, err := nuki.LoadCredentials(s)
			if err != nil {
				a.printf("Not paired.\n")
				return nil
			}
			if err := nuki.DeleteCredentials(s); err != nil {
				return err
			}
			a.printf("Removed authorization %d.\n", creds.AuthorizationID)
			return nil
		},
	}
}
