package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <person_id> <name>",
	Short: "Give a person found by clustering a real name",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.Die("Invalid person ID", err, nil)
		}
		name := strings.TrimSpace(args[1])
		if name == "" {
			utils.Die("Name must not be empty", nil, nil)
		}

		runLabel(cmd.Context(), id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id int64, name string) {
	if err := DB.RenamePerson(ctx, id, name); err != nil {
		utils.Die("Failed to label person", err, nil)
	}

	fmt.Printf("✅ Person %d labeled as '%s'\n", id, name)
}
