// Command skypulsedb runs the storage engine as a standalone process,
// grounded on kluzzebass-gastrolog's cmd/gastrolog entry point: a single
// Cobra root with subcommands, a go-kit logger constructed once and handed
// down by dependency injection rather than a package-global.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/CasperHK/SkyPulseDB/config"
	"github.com/CasperHK/SkyPulseDB/engine"
	"github.com/CasperHK/SkyPulseDB/errs"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var configPath string

	root := &cobra.Command{
		Use:     "skypulsedb",
		Short:   "A specialized time-series storage engine for weather observations",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "skypulsedb.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(logger, &configPath))
	root.AddCommand(newStatsCmd(logger, &configPath))
	root.AddCommand(newRetainCmd(logger, &configPath))

	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}

	return 0
}

func openEngine(logger log.Logger, configPath string) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger

	return engine.Open(cfg)
}

func newServeCmd(logger log.Logger, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the engine and block, ingesting and flushing until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(logger, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			level.Info(logger).Log("msg", "skypulsedb serving", "version", version)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			level.Info(logger).Log("msg", "shutting down")

			return nil
		},
	}
}

func newStatsCmd(logger log.Logger, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Open the engine, print stats() as JSON, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(logger, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			return enc.Encode(e.Stats())
		},
	}
}

func newRetainCmd(logger log.Logger, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retain",
		Short: "Open the engine, run one retention sweep, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(logger, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			e.RunRetentionOnce()
			fmt.Fprintln(os.Stdout, "retention sweep complete")

			return nil
		},
	}
}

// exitCodeFor maps an error kind to a process exit code: 0 clean, 64
// config, 65 data, 74 I/O, 70 internal.
func exitCodeFor(err error) int {
	var kinder interface{ Kind() errs.Kind }
	if !asKinder(err, &kinder) {
		return 70
	}

	switch kinder.Kind() {
	case errs.KindFatal:
		return 64
	case errs.KindValidation, errs.KindCorruption:
		return 65
	case errs.KindDurability, errs.KindPersistence:
		return 74
	default:
		return 70
	}
}

func asKinder(err error, target *interface{ Kind() errs.Kind }) bool {
	type kinder interface{ Kind() errs.Kind }
	if k, ok := err.(kinder); ok {
		*target = k

		return true
	}

	return false
}
