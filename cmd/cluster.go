package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/facesift/internal/cluster"
	"github.com/andresmejia3/facesift/internal/events"
	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/spf13/cobra"
)

var (
	clusterEpsilon    float64
	clusterMinSamples int
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Regroup the already indexed faces into persons",
	Long:  "Replaces every person with a fresh grouping of the stored faces. Names given with 'label' are lost.",
	Run: func(cmd *cobra.Command, args []string) {
		eps := float32(clusterEpsilon)
		if eps <= 0 {
			eps = Cfg.Index.Epsilon
		}

		ce := cluster.NewEngine(DB)
		if clusterMinSamples > 0 {
			ce.WithMinSamples(clusterMinSamples)
		}

		fmt.Fprintf(os.Stderr, "🧩 Clustering with epsilon %.2f...\n", eps)
		assigned, err := ce.Run(cmd.Context(), eps, func(p events.ClusterProgress) {
			if p.Phase == cluster.PhaseSaving {
				fmt.Fprintf(os.Stderr, "\r💾 Saving person %d/%d", p.Current, p.Total)
			}
		}, nil)
		if err != nil {
			utils.Die("Clustering failed", err, nil)
		}

		persons, err := DB.CountPersons(cmd.Context())
		if err != nil {
			utils.Die("Failed to count persons", err, nil)
		}
		fmt.Fprintf(os.Stderr, "\n✅ %d faces grouped into %d persons.\n", assigned, persons)
	},
}

func init() {
	clusterCmd.Flags().Float64VarP(&clusterEpsilon, "epsilon", "e", 0, "Clustering distance threshold, lower is stricter (default FACESIFT_CLUSTER_EPSILON or 0.42)")
	clusterCmd.Flags().IntVar(&clusterMinSamples, "min-samples", 0, fmt.Sprintf("Faces needed to form a person, the face itself included (default %d)", cluster.MinSamples))
	rootCmd.AddCommand(clusterCmd)
}
