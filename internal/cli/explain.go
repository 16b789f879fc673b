package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	metaform "github.com/kaushikn07/Metaform"
)

var explainFormat string

// explainCmd prints the extraction plan without calling a model.
var explainCmd = &cobra.Command{
	Use:   "explain <schema.json> <input>",
	Short: "Show the extraction plan with token and cost estimates",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		schema, doc, err := loadInputs(args[0], args[1])
		if err != nil {
			return err
		}
		var format metaform.FormatType
		switch explainFormat {
		case "text", "json", "dot":
			format = metaform.FormatType(explainFormat)
		default:
			return fmt.Errorf("unsupported format %q (want text, json or dot)", explainFormat)
		}
		out, err := metaform.New(nil, newLogger(cmd.ErrOrStderr())).Explain(schema, doc.Text, format, cfg.options()...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	explainCmd.Flags().StringVar(&explainFormat, "format", "text", "output format: text, json or dot")
	rootCmd.AddCommand(explainCmd)
}
