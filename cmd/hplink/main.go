package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/config"
)

var (
	// Loaded before any subcommand runs
	cfg *config.Config

	configPath string
	localDebug bool

	// Overrides for the matching config keys
	epcPath           string
	mcsPath           string
	mcsSheet          string
	outputPath        string
	matchingParameter float64
	linkMode          string
	workers           int
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:   "hplink",
		Short: "Heat pump installation linkage for EPC and MCS data",
		Long: `Links MCS heat pump installations to EPC certificates by address and
reconciles a heat pump installation date for every property.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return config.InitLogger(cfg.Log)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./hplink.yaml)")
	rootCmd.PersistentFlags().BoolVar(&localDebug, "debug", false, "Trace each stage")
	rootCmd.PersistentFlags().StringVar(&epcPath, "epc", "", "EPC certificates CSV")
	rootCmd.PersistentFlags().StringVar(&mcsPath, "mcs", "", "MCS installations workbook or CSV")
	rootCmd.PersistentFlags().StringVar(&mcsSheet, "sheet", "", "MCS workbook sheet (default first)")
	rootCmd.PersistentFlags().StringVar(&outputPath, "output", "", "Output directory")
	rootCmd.PersistentFlags().Float64Var(&matchingParameter, "threshold", 0, "Minimum address similarity")
	rootCmd.PersistentFlags().StringVar(&linkMode, "mode", "", "Match selection: best or all")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Blocks scored in parallel")

	// Add subcommands
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createLinkCmd())
	rootCmd.AddCommand(createReconcileCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createDBCmd())
	rootCmd.AddCommand(createBatchesCmd())
	rootCmd.AddCommand(createParseCmd())

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over file and environment
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if localDebug {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("epc") {
		cfg.Data.EPCPath = epcPath
	}
	if flags.Changed("mcs") {
		cfg.Data.MCSPath = mcsPath
	}
	if flags.Changed("sheet") {
		cfg.Data.MCSSheet = mcsSheet
	}
	if flags.Changed("output") {
		cfg.Data.OutputPath = outputPath
	}
	if flags.Changed("threshold") {
		cfg.Linkage.MatchingParameter = matchingParameter
	}
	if flags.Changed("mode") {
		cfg.Linkage.Mode = linkMode
	}
	if flags.Changed("workers") {
		cfg.Linkage.Workers = workers
	}
}
