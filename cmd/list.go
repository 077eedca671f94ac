package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facesift/internal/types"
	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all persons found in the library",
	Run: func(cmd *cobra.Command, args []string) {
		persons, err := DB.ListPersons(cmd.Context())
		if err != nil {
			utils.Die("Failed to list persons", err, nil)
		}
		stats, err := DB.GetStats(cmd.Context())
		if err != nil {
			utils.Die("Failed to read library stats", err, nil)
		}
		printPersons(os.Stdout, persons, stats)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printPersons(out io.Writer, persons []types.Person, stats types.Stats) {
	if len(persons) == 0 {
		fmt.Fprintln(out, "No persons found. Run 'facesift index' first.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFACE COUNT")
	fmt.Fprintln(w, "--\t----\t----------")

	for _, p := range persons {
		fmt.Fprintf(w, "%d\t%s\t%d\n", p.ID, p.Name, p.FaceCount)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d persons, %d faces in %d indexed photos\n", len(persons), stats.FaceCount, stats.ProcessedCount)
}
