package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/parklens/parklens/internal/config"
	"github.com/parklens/parklens/internal/core"
	"github.com/parklens/parklens/internal/core/engine"
	"github.com/parklens/parklens/internal/observability"
)

var (
	doctorProbe      bool
	doctorFacility   string
	doctorInitForce  bool
	doctorProbeLimit = 45 * time.Second
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the installation and configuration.

The upstream API is only contacted with --probe.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		log.Info("=== " + binaryName + " doctor ===")
		log.Info("")

		allChecks := true
		totalChecks := 7
		step := func(n int, label string) string { return fmt.Sprintf("[%d/%d] Checking %s...", n, totalChecks, label) }

		goVersion := runtime.Version()
		log.Info(fmt.Sprintf("%s ✅ %s", step(1, "Go version"), goVersion), zap.String("go_version", goVersion))

		version := crucible.GetVersion()
		if version.Gofulmen != "" && version.Crucible != "" {
			log.Info(fmt.Sprintf("%s ✅ gofulmen v%s, crucible v%s", step(2, "Fulmen libraries"), version.Gofulmen, version.Crucible))
		} else {
			log.Warn(fmt.Sprintf("%s ⚠️  version metadata missing", step(2, "Fulmen libraries")))
			allChecks = false
		}

		configPath := config.DefaultConfigPath()
		if configPath == "" {
			log.Warn(fmt.Sprintf("%s ⚠️  cannot resolve config directory", step(3, "config directory")))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("%s ✅ %s (%s)", step(3, "config directory"), filepath.Dir(configPath), existenceStatus(fileExists(configPath))))
		}

		cfg, cfgErr := currentConfig()
		if cfgErr != nil {
			log.Error(fmt.Sprintf("%s ❌ %v", step(4, "configuration"), cfgErr))
			log.Info("")
			log.Warn("⚠️  Configuration is invalid; remaining checks skipped.")
			return
		}
		log.Info(fmt.Sprintf("%s ✅ valid", step(4, "configuration")))

		occupancy := buildCore(cfg, nil, prometheus.NewRegistry(), false)
		strategies := occupancy.fetcher.Strategies()
		log.Info(fmt.Sprintf("%s ✅ %s", step(5, "fetch strategies"), strings.Join(strategies, " → ")),
			zap.Int("strategies", len(strategies)),
			zap.Duration("min_delay", cfg.Upstream.MinDelay))

		mock := occupancy.orchestrator.Read(cmd.Context(), doctorFacility, engine.ReadOptions{Mock: true})
		if mock.DataAvailable {
			log.Info(fmt.Sprintf("%s ✅ %d/%d free at local hour in %s", step(6, "synthetic fallback"), mock.FreeSpaces, mock.TotalSpaces, cfg.Synthetic.Location()))
		} else {
			log.Warn(fmt.Sprintf("%s ⚠️  %s", step(6, "synthetic fallback"), mock.Error))
			allChecks = false
		}

		if !doctorProbe {
			log.Info(fmt.Sprintf("%s ⏭  skipped (use --probe)", step(7, "upstream reachability")))
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), doctorProbeLimit)
			defer cancel()
			start := time.Now()
			body, err := occupancy.orchestrator.Direct(ctx, doctorFacility)
			if err != nil {
				log.Warn(fmt.Sprintf("%s ⚠️  %v", step(7, "upstream reachability"), err))
				log.Info("       Reads will be served from cache or synthetic data until the upstream recovers.")
				allChecks = false
			} else {
				log.Info(fmt.Sprintf("%s ✅ %d bytes in %s", step(7, "upstream reachability"), len(body), time.Since(start).Round(time.Millisecond)))
			}
		}

		log.Info("")
		if allChecks {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", binaryName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("")
		log.Info("=== End Diagnostics ===")
	},
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		data, err := defaultConfigYAML()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a config file (defaults to the user config)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if len(args) == 1 {
			configPath = args[0]
		}
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if !fileExists(configPath) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		if err := validateConfigFile(configPath); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorCmd.Flags().BoolVar(&doctorProbe, "probe", false, "fetch one facility from the upstream API")
	doctorCmd.Flags().StringVar(&doctorFacility, "facility", "37709", "facility used for the synthetic and upstream checks")
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

// defaultConfigYAML renders the built-in defaults as a config file.
func defaultConfigYAML() ([]byte, error) {
	v := config.NewViper()
	return yaml.Marshal(v.AllSettings())
}

func validateConfigFile(path string) error {
	v := config.NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	_, err := config.Decode(v.AllSettings())
	return err
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "not found"
}
