package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/backkem/nukible/pkg/message"
)

func newDecodeErrorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode-error <byte>",
		Short: "Explain an error code reported by a lock",
		Example: `  nukictl decode-error 0xFD
  nukictl decode-error 35`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return fmt.Errorf("invalid error byte %q", args[0])
			}
			code := message.ErrorCode(v)
			a.printf("0x%02X %s (%s)\n", uint8(code), code, code.Category())
			return nil
		},
	}
}
