package cmd

import (
	"github.com/spf13/cobra"

	"github.com/parklens/parklens/internal/core"
	errwrap "github.com/parklens/parklens/internal/errors"
	"github.com/parklens/parklens/internal/output"
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "List administrative areas and their facilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid output format")
		}
		rendered, err := output.NewFormatter(format).FormatAreas(core.BuiltInAreas)
		if err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "failed to render areas")
		}
		return writeOutput(cmd, rendered)
	},
}

func init() {
	rootCmd.AddCommand(areasCmd)
	addOutputFlags(areasCmd)
}
