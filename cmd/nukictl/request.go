package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/nukible/pkg/message"
	"github.com/backkem/nukible/pkg/nuki"
)

// errNotPaired is returned by commands that need stored credentials.
var errNotPaired = errors.New("not paired with the lock, run pair first")

// parseCommandArg accepts a command name ("KeyturnerStates") or its
// identifier ("0x000C", "12").
func parseCommandArg(s string) (message.Command, error) {
	if c, ok := message.ParseCommand(s); ok {
		return c, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown command %q", s)
	}
	return message.Command(v), nil
}

// parsePayloadArg decodes a hex payload, allowing spaces and colons.
func parsePayloadArg(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if len(b) > message.MaxPayloadSize {
		return nil, message.ErrPayloadTooLarge
	}
	return b, nil
}

// pairedSession opens a session and checks that credentials exist.
func (a *app) pairedSession() (*session, error) {
	s, err := a.openSession()
	if err != nil {
		return nil, err
	}
	if _, err := nuki.LoadCredentials(s.store); err != nil {
		s.Close()
		return nil, errNotPaired
	}
	return s, nil
}

func newRequestCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "request <command>",
		Short: "Ask the lock for data, e.g. KeyturnerStates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := parseCommandArg(args[0])
			if err != nil {
				return err
			}
			s, err := a.pairedSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.RequestData(want); err != nil {
				return err
			}
			return a.await(cmd.Context(), s, timeout, func(ev nuki.Event) (bool, error) {
				if r, ok := ev.(nuki.ResponseReceived); ok && r.Command == want {
					a.printf("%s: %X\n", r.Command, r.Payload)
					return true, nil
				}
				return false, nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <command> [payload-hex]",
		Short: "Send a command with a raw payload and wait for completion",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCommandArg(args[0])
			if err != nil {
				return err
			}
			var payload []byte
			if len(args) == 2 {
				if payload, err = parsePayloadArg(args[1]); err != nil {
					return err
				}
			}
			s, err := a.pairedSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Enqueue(c, payload); err != nil {
				return err
			}
			return a.await(cmd.Context(), s, timeout, func(ev nuki.Event) (bool, error) {
				switch ev := ev.(type) {
				case nuki.ResponseReceived:
					a.printf("%s: %X\n", ev.Command, ev.Payload)
				case nuki.StatusReceived:
					a.printf("Status: %s\n", ev.Status)
					return ev.Status == message.StatusComplete, nil
				}
				return false, nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

// await runs the session until match is satisfied. Lock errors, failed or
// unanswered requests and pairing attempts end it with an error.
func (a *app) await(ctx context.Context, s *session, timeout time.Duration, match func(nuki.Event) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.run(ctx, func(ev nuki.Event) (bool, error) {
		switch ev := ev.(type) {
		case nuki.ErrorReported:
			return true, ev.Err
		case nuki.ResponseTimeout:
			return true, fmt.Errorf("no answer to %s", ev.Command)
		case nuki.RequestFailed:
			return true, fmt.Errorf("send %s: %w", ev.Command, ev.Err)
		case nuki.StateChanged:
			if ev.State == nuki.StateStartPairingDelay {
				return true, errNotPaired
			}
		case nuki.Disconnected:
			a.printf("Disconnected: %v\n", ev.Reason)
		}
		return match(ev)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no result within %s", timeout)
	}
	return err
}
