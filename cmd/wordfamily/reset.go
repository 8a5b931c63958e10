package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/window"
)

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all local words and learned marks",
		Long: `Clear the local database and any cached pages. Progress stored on the
remote service is not touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes local progress; rerun with --yes to confirm")
			}
			ctx := cmd.Context()
			s, cleanup, err := a.openSession(ctx, window.Options{DisablePrefetch: true})
			if err != nil {
				return err
			}
			defer cleanup()
			if err := s.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "local data cleared (%s)\n", a.cfg.DBPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
