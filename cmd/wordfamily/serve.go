package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference vocabulary service",
		Long: `Serve the vocabulary REST API from the local database. An empty database
is seeded from the bundled word list unless server.seed is false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Server.Addr
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if a.cfg.Server.Seed {
				ds, err := a.openBundle(ctx)
				if err != nil {
					return err
				}
				n, err := server.Seed(ctx, store, ds)
				if err != nil {
					return err
				}
				if n > 0 {
					a.log.Info("seeded store from bundle", "words", n)
				}
			}

			if strings.HasPrefix(strings.ToLower(a.cfg.Log.Mode), "prod") {
				gin.SetMode(gin.ReleaseMode)
			}
			router := server.NewRouter(server.RouterConfig{
				Log:           a.log,
				WordHandler:   server.NewWordHandler(a.log, store),
				HealthHandler: server.NewHealthHandler(),
				Token:         a.cfg.Server.Token,
			})
			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			a.log.Info("serving vocabulary api", "addr", addr)
			fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s/api\n", addr)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}
