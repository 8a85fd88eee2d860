package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"inkbridge/internal/normalize"
)

func newNormalizeCmd() *cobra.Command {
	var report bool
	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Print normalized markup (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if len(args) == 0 || args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read markup: %w", err)
			}

			out, rep := normalize.NormalizeWithReport(string(raw))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if report {
				fmt.Fprintf(cmd.ErrOrStderr(), "lists repaired: %d, embeds rewritten: %d\n", rep.Lists, rep.Embeds)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&report, "report", false, "print repair counts to stderr")
	return cmd
}
