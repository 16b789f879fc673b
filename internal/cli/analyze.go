package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	metaform "github.com/kaushikn07/Metaform"
)

var analyzeJSON bool

// analyzeCmd prints the complexity report of a schema.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <schema.json>",
	Short: "Show schema complexity and the recommended strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		_, m, err := metaform.AnalyzeBytes(data)
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), m, metaform.SelectStrategy(m.Score), analyzeJSON)
	},
}

// complexityReport is the analysis as shown to users.
type complexityReport struct {
	TotalFields int     `json:"Total Fields"`
	Depth       int     `json:"Nesting Depth"`
	Enums       int     `json:"Enum Count"`
	Score       float64 `json:"Complexity Score"`
	Strategy    string  `json:"Recommended Strategy"`
}

func writeReport(out io.Writer, m metaform.Metrics, s metaform.Strategy, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(complexityReport{
			TotalFields: m.NumFields,
			Depth:       m.Depth,
			Enums:       m.NumEnums,
			Score:       m.Score,
			Strategy:    s.Description(),
		})
	}
	fmt.Fprintln(out, "Schema Complexity Analysis")
	fmt.Fprintf(out, "  Total Fields:         %d\n", m.NumFields)
	fmt.Fprintf(out, "  Nesting Depth:        %d\n", m.Depth)
	fmt.Fprintf(out, "  Enum Count:           %d\n", m.NumEnums)
	fmt.Fprintf(out, "  Complexity Score:     %.2f\n", m.Score)
	fmt.Fprintf(out, "  Recommended Strategy: %s (%s)\n", s.Description(), s)
	return nil
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
