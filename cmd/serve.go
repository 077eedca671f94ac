package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/pipeline"
	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/andresmejia3/facesift/internal/web"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the indexing API with live progress events",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		addr := serveAddr
		if addr == "" {
			addr = Cfg.Addr
		}

		fe, err := newFaceEngine(Cfg)
		if err != nil {
			utils.Die("Invalid model configuration", err, nil)
		}
		defer closeFaceEngine(fe)

		bc := events.NewBroadcaster()
		ce := cluster.NewEngine(DB)
		ix := pipeline.New(DB, fe, ce, bc).WithWorkers(Cfg.Index.Workers)

		srv := web.NewServer(ctx, addr, web.Deps{
			Store:       DB,
			Indexer:     ix,
			Clusterer:   ce,
			Broadcaster: bc,
			Epsilon:     Cfg.Index.Epsilon,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		fmt.Fprintf(os.Stderr, "🌐 Listening on %s\n", addr)

		select {
		case err := <-errCh:
			if err != nil {
				utils.Die("Web server failed", err, nil)
			}
		case <-ctx.Done():
		}

		// Let a running job reach a checkpoint before the store is closed.
		ix.RequestCancel()
		ix.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default FACESIFT_ADDR or :8080)")
	rootCmd.AddCommand(serveCmd)
}
