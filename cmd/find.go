package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facesift/internal/search"
	"github.com/andresmejia3/facesift/internal/store"
	"github.com/andresmejia3/facesift/internal/types"
	"github.com/andresmejia3/facesift/internal/utils"
	"github.com/spf13/cobra"
)

var (
	findThreshold float64
	findK         int
)

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Find the photos in which a face appears",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0])
	},
}

func init() {
	findCmd.Flags().Float64VarP(&findThreshold, "threshold", "t", 0.42, "Face matching threshold (lower is stricter)")
	findCmd.Flags().IntVarP(&findK, "k", "k", 20, "Maximum number of matches")
	rootCmd.AddCommand(findCmd)
}

// matchRow is a search hit joined with its photo and person.
type matchRow struct {
	Path     string
	Person   string
	Distance float32
}

func runFind(ctx context.Context, imagePath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	fe, err := newFaceEngine(Cfg)
	if err != nil {
		utils.ShowError("Invalid model configuration", err, nil)
		return err
	}
	defer closeFaceEngine(fe)

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := fe.ProcessImage(ctx, imagePath)
	if err != nil {
		utils.ShowError("AI processing failed", err, nil)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}
	best := largestFace(faces)

	fmt.Fprintln(os.Stderr, "🗄️  Searching library...")
	rows, err := findMatches(ctx, DB, best.Embedding, findK, float32(findThreshold))
	if err != nil {
		utils.ShowError("Library search failed", err, nil)
		return err
	}

	if len(rows) == 0 {
		fmt.Println("❌ No match found in library.")
		return nil
	}
	printMatches(os.Stdout, rows)
	return nil
}

// largestFace picks the face with the biggest box.
func largestFace(faces []types.FaceRecord) types.FaceRecord {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best
}

// findMatches searches every stored face for query.
func findMatches(ctx context.Context, s store.Store, query []float32, k int, threshold float32) ([]matchRow, error) {
	faces, err := s.GetAllFaces(ctx)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}

	idx := search.NewIndex()
	idx.Build(faces)
	matches, err := idx.Search(query, k, threshold)
	if err != nil {
		return nil, err
	}

	persons, err := s.ListPersons(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(persons))
	for _, p := range persons {
		names[p.ID] = p.Name
	}

	rows := make([]matchRow, 0, len(matches))
	for _, m := range matches {
		f, err := s.GetFile(ctx, m.FileID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up photo %d: %w", m.FileID, err)
		}
		row := matchRow{Path: f.Path, Person: "-", Distance: m.Distance}
		if m.PersonID != nil {
			row.Person = names[*m.PersonID]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func printMatches(out io.Writer, rows []matchRow) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nPHOTO\tPERSON\tDISTANCE")
	fmt.Fprintln(w, "-----\t------\t--------")

	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%.3f\n", r.Path, r.Person, r.Distance)
	}
	w.Flush()
}
