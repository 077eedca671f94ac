package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/pipeline"
	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	indexEpsilon float64
	indexWorkers int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Find faces in every new photo, then regroup the library into persons",
	Run: func(cmd *cobra.Command, args []string) {
		fe, err := newFaceEngine(Cfg)
		if err != nil {
			utils.Die("Invalid model configuration", err, nil)
		}
		defer closeFaceEngine(fe)

		workers := indexWorkers
		if workers <= 0 {
			workers = Cfg.Index.Workers
		}
		eps := float32(indexEpsilon)
		if eps <= 0 {
			eps = Cfg.Index.Epsilon
		}

		fin := runIndex(cmd.Context(), func(sink events.Sink) *pipeline.Indexer {
			return pipeline.New(DB, fe, cluster.NewEngine(DB), sink).WithWorkers(workers)
		}, eps)

		if fin.Error != "" {
			utils.Die("Face indexing failed", errors.New(fin.Error), nil)
		}
		if fin.Cancelled {
			fmt.Fprintln(os.Stderr, "\n🛑 Indexing cancelled. Run 'facesift index' again to resume.")
		}
		fmt.Fprintf(os.Stderr, "\n🏁 Index Complete. %d faces, %d persons.\n", fin.TotalFaces, fin.TotalPersons)
	},
}

func init() {
	indexCmd.Flags().Float64VarP(&indexEpsilon, "epsilon", "e", 0, "Clustering distance threshold, lower is stricter (default FACESIFT_CLUSTER_EPSILON or 0.42)")
	indexCmd.Flags().IntVarP(&indexWorkers, "workers", "w", 0, "Photos processed in parallel (default FACESIFT_WORKERS or 1)")
	rootCmd.AddCommand(indexCmd)
}

// runIndex runs one indexing job in the foreground with a progress bar and
// returns its finished event. Cancelling ctx (Ctrl+C) asks the job to stop
// after the current photo instead of killing it.
func runIndex(ctx context.Context, build func(events.Sink) *pipeline.Indexer, eps float32) events.IndexFinished {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
		fin events.IndexFinished
	)

	sink := events.SinkFunc(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch data := e.Data.(type) {
		case events.IndexProgress:
			if bar == nil {
				bar = progressbar.NewOptions(data.Total,
					progressbar.OptionSetDescription("🔍 Indexing photos"),
					progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
					progressbar.OptionShowCount(),
				)
			}
			bar.Set(data.Current)
		case events.ClusterProgress:
			if data.Phase == cluster.PhaseLoading {
				if bar != nil {
					bar.Finish()
				}
				fmt.Fprintln(os.Stderr, "\n🧩 Grouping faces into persons...")
			}
		case events.IndexFinished:
			fin = data
		}
	})

	ix := build(sink)
	if _, err := ix.Start(context.WithoutCancel(ctx), eps); err != nil {
		utils.Die("Failed to start indexing", err, nil)
	}

	done := make(chan struct{})
	go func() {
		ix.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\n⏳ Stopping after the current photo...")
		ix.RequestCancel()
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	return fin
}
