package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/tui"
	"github.com/japaniel/wordfamily/pkg/vocab"
	"github.com/japaniel/wordfamily/pkg/window"
)

func newBrowseCmd(a *app) *cobra.Command {
	var (
		level   string
		startAt int
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse words in the terminal",
		Long: `Open the interactive word browser.

Keys: ←/→ or n/p move, space or t toggles learned, 0-6 pick a level,
f cycles the learned filter, / searches, q quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := vocab.ParseLevel(level)
			if err != nil {
				return err
			}
			// The terminal belongs to the UI; keep logs in a file.
			if a.cfg.Log.File == "" && a.cfg.DBPath != ":memory:" {
				if err := a.openLogger(filepath.Join(filepath.Dir(a.cfg.DBPath), "wordfamily.log")); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			s, cleanup, err := a.openSession(ctx, window.Options{StartAt: startAt})
			if err != nil {
				return err
			}
			defer cleanup()
			if !lvl.IsAll() {
				s.Window.SetFilter(ctx, vocab.Filter{Level: lvl})
			}
			return tui.Run(ctx, s.Window, s)
		},
	}
	cmd.Flags().StringVar(&level, "level", "all", "CEFR level to browse (A1..C2 or all)")
	cmd.Flags().IntVar(&startAt, "start", 0, "wordId to start at instead of the first unlearned word")
	return cmd
}
