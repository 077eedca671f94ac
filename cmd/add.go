package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facesift/internal/store"
	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <directory>",
	Short: "Add every photo below a directory to the library",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := registerLibrary(cmd.Context(), DB, args[0])
		if err != nil {
			utils.Die("Failed to add photos", err, nil)
		}
		fmt.Printf("📚 %d photos in library from %s\n", n, args[0])
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}

// registerLibrary registers every image below root. Photos already known with
// the same size and modification time are left alone, so re-adding a folder
// only queues what changed.
func registerLibrary(ctx context.Context, s store.Store, root string) (int, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(abs); err != nil {
		return 0, err
	} else if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", root)
	}

	paths, err := utils.FindImages(abs)
	if err != nil {
		return 0, err
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		fingerprint, err := utils.GenerateFileID(p)
		if err != nil {
			return 0, fmt.Errorf("failed to fingerprint %s: %w", p, err)
		}
		if _, err := s.RegisterFile(ctx, p, fingerprint); err != nil {
			return 0, fmt.Errorf("failed to register %s: %w", p, err)
		}
	}
	return len(paths), nil
}
