package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/engine"
	errwrap "github.com/parklens/parklens/internal/errors"
	"github.com/parklens/parklens/internal/metrics"
	"github.com/parklens/parklens/internal/observability"
	"github.com/parklens/parklens/internal/output"
)

var readCmd = &cobra.Command{
	Use:   "read [facility-id...]",
	Short: "Read live occupancy for one or more facilities",
	Long: `Read live occupancy for parking facilities.

Facilities can be given as arguments, with --area, or both. Upstream
failures never fail the command: stale or synthetic data is shown instead
and flagged in the status column.`,
	Example: `  parklens read 37709
  parklens read 29794 37709 --output-format json
  parklens read --area СВАО
  parklens read 37709 --direct`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)

	readCmd.Flags().String("area", "", "read every facility in an administrative area")
	readCmd.Flags().Bool("mock", false, "return synthetic data without contacting upstream")
	readCmd.Flags().Bool("direct", false, "print the raw upstream payload for a single facility")
	readCmd.Flags().Bool("no-cache", false, "ignore cached entries")
	addOutputFlags(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ids, err := resolveFacilityIDs(cmd, args)
	if err != nil {
		return err
	}

	direct, _ := cmd.Flags().GetBool("direct")
	mock, _ := cmd.Flags().GetBool("mock")
	noCache, _ := cmd.Flags().GetBool("no-cache")

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return errwrap.WrapInvalidInput(ctx, err, "invalid output format")
	}

	cfg, err := currentConfig()
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
	}
	occupancy := buildCore(cfg, observability.CLILogger, prometheus.NewRegistry(), false)

	if direct && !mock {
		if len(ids) != 1 {
			return errwrap.NewInvalidInputError("--direct takes exactly one facility id")
		}
		body, err := occupancy.orchestrator.Direct(ctx, ids[0])
		if err != nil {
			return errwrap.WrapUpstream(ctx, err, "direct upstream read failed")
		}
		return writeOutput(cmd, string(body))
	}

	start := time.Now()
	readings := occupancy.orchestrator.ReadMany(ctx, ids, engine.ReadOptions{Mock: mock, NoCache: noCache})
	for _, r := range readings {
		metrics.RecordReading("cli", string(r.Source), r.DataAvailable)
	}
	metrics.RecordReadDuration("cli", time.Since(start))

	if logger := observability.CLILogger; logger != nil {
		logger.Debug("Read complete",
			zap.Int("facilities", len(readings)),
			zap.Duration("elapsed", time.Since(start)))
	}

	rendered, err := output.NewFormatter(format).FormatReadings(readings)
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "failed to render readings")
	}
	return writeOutput(cmd, rendered)
}

// resolveFacilityIDs merges positional IDs with --area, keeping first-seen order.
func resolveFacilityIDs(cmd *cobra.Command, args []string) ([]string, error) {
	var raw []string
	raw = append(raw, args...)

	if code, _ := cmd.Flags().GetString("area"); strings.TrimSpace(code) != "" {
		area, ok := core.FindBuiltInArea(code)
		if !ok {
			return nil, errwrap.NewNotFoundError(fmt.Sprintf("unknown area %q", code))
		}
		raw = append(raw, area.FacilityIDs...)
	}

	if len(raw) == 0 {
		return nil, errwrap.NewInvalidInputError("at least one facility id or --area is required")
	}

	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	for _, value := range raw {
		id, err := core.NormalizeFacilityID(value)
		if err != nil {
			return nil, errwrap.WrapInvalidInput(cmd.Context(), err, "invalid facility id")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
