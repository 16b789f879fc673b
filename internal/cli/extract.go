package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	metaform "github.com/kaushikn07/Metaform"
	"github.com/kaushikn07/Metaform/internal/document"
	"github.com/kaushikn07/Metaform/internal/export"
)

var (
	outputPath   string
	strategyName string
	showPrompts  bool
	dryRun       bool
)

// extractCmd runs an extraction.
var extractCmd = &cobra.Command{
	Use:   "extract <schema.json> <input>",
	Short: "Extract schema-shaped JSON from a document",
	Long: `Extract reads the schema and the input document, picks a strategy from the
schema's complexity and prints the resulting JSON. With -o the result is also
written to a file: .xlsx writes a Path/Value workbook, anything else JSON.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		log := newLogger(cmd.ErrOrStderr())

		schema, doc, err := loadInputs(args[0], args[1])
		if err != nil {
			return err
		}
		opts := cfg.options()
		if strategyName != "" {
			s, err := metaform.ParseStrategy(strategyName)
			if err != nil {
				return err
			}
			opts = append(opts, metaform.WithStrategy(s))
		}

		if dryRun {
			res, err := metaform.New(nil, log).DryRun(schema, doc.Text, opts...)
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), res.Metrics, res.Strategy, false); err != nil {
				return err
			}
			writePrompts(cmd.OutOrStdout(), res.Units)
			return nil
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		caller, err := newCaller(ctx, cfg, log)
		if err != nil {
			return err
		}
		res, err := metaform.New(caller, log).Extract(ctx, schema, doc.Text, opts...)
		if err != nil {
			printRaw(cmd.ErrOrStderr(), err)
			return fmt.Errorf("error during extraction: %w", err)
		}

		errOut := cmd.ErrOrStderr()
		if err := writeReport(errOut, res.Metrics, res.Strategy, false); err != nil {
			return err
		}
		if showPrompts {
			writePrompts(errOut, res.Units)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(errOut, "warning: %v\n", w)
		}
		if len(res.Missing) > 0 {
			fmt.Fprintf(errOut, "missing (failed units %v): %v\n", res.Failed, res.Missing)
		}

		out, err := export.JSON(res.Data)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(out); err != nil {
			return err
		}
		if outputPath != "" {
			if err := export.WriteFile(outputPath, res.Data, log); err != nil {
				return err
			}
			fmt.Fprintf(errOut, "Saved %s\n", outputPath)
		}
		return nil
	},
}

func loadInputs(schemaPath, inputPath string) (*metaform.Schema, *document.Document, error) {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read schema: %w", err)
	}
	schema, err := metaform.ParseSchema(data)
	if err != nil {
		return nil, nil, err
	}
	doc, err := document.Load(inputPath)
	if err != nil {
		return nil, nil, err
	}
	return schema, doc, nil
}

func writePrompts(w io.Writer, units []metaform.PromptUnit) {
	for _, u := range units {
		fmt.Fprintf(w, "\n=== Prompt sent to LLM (%s) ===\n%s\n", u.Label(), u.Prompt)
	}
}

// printRaw shows what the model returned when it could not be parsed.
func printRaw(w io.Writer, err error) {
	var noJSON *metaform.NoJSONFoundError
	var invalid *metaform.InvalidJSONError
	switch {
	case errors.As(err, &noJSON):
		fmt.Fprintf(w, "Raw model output (%s):\n%s\n", noJSON.Unit, noJSON.Raw)
	case errors.As(err, &invalid):
		fmt.Fprintf(w, "Raw model output (%s):\n%s\n", invalid.Unit, invalid.Raw)
	}
}

func init() {
	extractCmd.Flags().StringVarP(&outputPath, "output", "o", "", "also write the result to this file (.json or .xlsx)")
	extractCmd.Flags().StringVar(&strategyName, "strategy", "", "force a strategy: direct, chunked or iterative")
	extractCmd.Flags().BoolVar(&showPrompts, "show-prompts", false, "print every prompt sent to the model")
	extractCmd.Flags().BoolVar(&dryRun, "dry-run", false, "build the prompts without calling the model")
	rootCmd.AddCommand(extractCmd)
}
