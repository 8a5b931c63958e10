package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/window"
)

func newMarkCmd(a *app) *cobra.Command {
	var unlearned bool
	cmd := &cobra.Command{
		Use:   "mark <wordId>",
		Short: "Mark a word as learned (or not learned)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wordID, err := strconv.Atoi(args[0])
			if err != nil || wordID < 1 {
				return fmt.Errorf("invalid wordId %q", args[0])
			}
			ctx := cmd.Context()
			s, cleanup, err := a.openSession(ctx, window.Options{StartAt: wordID, DisablePrefetch: true})
			if err != nil {
				return err
			}
			defer cleanup()

			learned := !unlearned
			if !s.MarkLearned(ctx, wordID, learned) {
				return fmt.Errorf("word %d not found", wordID)
			}
			if err := s.Flush(ctx); err != nil {
				return err
			}
			state := "learned"
			if !learned {
				state = "not learned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "word %d marked %s\n", wordID, state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unlearned, "unlearned", false, "clear the learned mark instead")
	return cmd
}
