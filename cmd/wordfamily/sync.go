package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/ingest"
)

func newSyncCmd(a *app) *cobra.Command {
	var workers, pageSize int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download the whole word list for offline use",
		Long: `Page the complete word list from the remote vocabulary service into the
local database, so later sessions work without a network.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := a.remoteClient()
			if rc == nil {
				return errors.New("no remote configured; pass --remote or set remote.base_url")
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			ig := ingest.NewIngester(store.DB(), rc)
			ig.Log = a.log
			if workers > 0 {
				ig.Workers = workers
			}
			if pageSize > 0 {
				ig.PageSize = pageSize
			}
			last := -10
			ig.OnProgress = func(current, total int) {
				if total <= 0 {
					return
				}
				pct := current * 100 / total
				if pct/10 != last/10 {
					last = pct
					fmt.Fprintf(out, "downloading... %d/%d (%d%%)\n", current, total, pct)
				}
			}
			n, err := ig.Ingest(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			fmt.Fprintf(out, "downloaded %d words to %s\n", n, a.cfg.DBPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent page downloads (default 4)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "words per request (default 200, the server maximum)")
	return cmd
}
