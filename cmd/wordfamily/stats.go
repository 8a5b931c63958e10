package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/vocab"
	"github.com/japaniel/wordfamily/pkg/window"
)

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show learning progress",
		Long:  `Display total, learned and remaining words, overall and per CEFR level.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := a.openSession(cmd.Context(), window.Options{DisablePrefetch: true})
			if err != nil {
				return err
			}
			defer cleanup()

			snap := s.Window.Snapshot()
			counts, stats := snap.Counts, snap.Stats
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"source": snap.Source,
					"counts": counts,
					"stats":  stats,
				})
			}

			fmt.Fprintf(out, "source: %s\n", snap.Source)
			fmt.Fprintf(out, "total: %d  learned: %d  not learned: %d  (%.1f%%)\n",
				counts.TotalWords, counts.LearnedWords, counts.NotLearnedWords, counts.PercentComplete)
			for _, lvl := range vocab.Levels {
				b, ok := stats.ByLevel[string(lvl)]
				if !ok {
					continue
				}
				fmt.Fprintf(out, "  %s  %4d/%-4d %5.1f%%\n", lvl, b.Learned, b.Total, b.PercentComplete)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
