package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/dataset"
	"github.com/nestauk/asf-core-data/internal/heating"
	"github.com/nestauk/asf-core-data/internal/normalize"
	"github.com/nestauk/asf-core-data/internal/pipeline"
	"github.com/nestauk/asf-core-data/internal/store"
	"github.com/nestauk/asf-core-data/internal/web"
)

// createRunCmd creates the full pipeline command
func createRunCmd() *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Link, reconcile and export, recording the run in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts, err := pipelineOptions()
			if err != nil {
				return err
			}

			var out *pipeline.Output
			if persist {
				st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
				if err != nil {
					return err
				}
				defer st.Close()
				if err := st.Migrate(ctx); err != nil {
					return err
				}

				run, o, err := pipeline.Persist(ctx, st, opts, func() (*pipeline.Output, error) {
					return pipeline.Run(ctx, localDebug, opts)
				})
				if err != nil {
					return err
				}
				out = o
				fmt.Printf("Run %s %s\n", run.ID, run.Status)
			} else {
				out, err = pipeline.Run(ctx, localDebug, opts)
				if err != nil {
					return err
				}
			}

			if err := pipeline.Export(cfg.Data.OutputPath, out); err != nil {
				return err
			}
			printStats(out.Stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", true, "Record the run in the configured store")
	return cmd
}

// createLinkCmd creates the command that only writes the matches file
func createLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Match MCS installations to EPC properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pipelineOptions()
			if err != nil {
				return err
			}

			in, err := pipeline.Load(cmd.Context(), opts)
			if err != nil {
				return err
			}
			linked, err := pipeline.LinkInputs(localDebug, in, opts.Linkage)
			if err != nil {
				return err
			}

			path := filepath.Join(cfg.Data.OutputPath, pipeline.MatchesFile)
			if err := writeOutput(path, func(f *os.File) error {
				return pipeline.WriteMatches(f, linked.Links)
			}); err != nil {
				return err
			}

			fmt.Printf("Matched %d of %d MCS installations (%d pairs) -> %s\n",
				linked.Result.MatchedMCS(), len(in.MCS.Records), len(linked.Links), path)
			return nil
		},
	}
}

// createReconcileCmd creates the command that writes the install dates file
func createReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Derive heat pump install dates for every EPC property",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pipelineOptions()
			if err != nil {
				return err
			}

			out, err := pipeline.Run(cmd.Context(), localDebug, opts)
			if err != nil {
				return err
			}

			path := filepath.Join(cfg.Data.OutputPath, pipeline.PropertiesFile)
			if err := writeOutput(path, func(f *os.File) error {
				return pipeline.WriteProperties(f, out.Inputs.EPC.Header, out.Properties)
			}); err != nil {
				return err
			}

			printStats(out.Stats)
			return nil
		},
	}
}

// createServeCmd creates the read API command
func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve persisted runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return err
			}

			server := web.NewServer(web.FromServerConfig(cfg.Server), st)
			return server.Start(ctx)
		},
	}
}

// createDBCmd creates database management commands
func createDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the run tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				fmt.Printf("Migrated %s store\n", cfg.Store.Driver)
				return nil
			})
		},
	})

	dbCmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Test store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				if err := st.Ping(ctx); err != nil {
					return err
				}
				fmt.Printf("%s store connection successful!\n", cfg.Store.Driver)
				return nil
			})
		},
	})

	return dbCmd
}

// createBatchesCmd lists the data releases under the batch root
func createBatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List YYYY_Qn data batches, newest last",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Data.BatchRoot == "" {
				return eris.New("batches: data.batch_root is not set")
			}

			batches, err := dataset.ListBatches(cfg.Data.BatchRoot)
			if err != nil {
				return err
			}
			for i, b := range batches {
				marker := ""
				if i == len(batches)-1 {
					marker = "  (latest)"
				}
				fmt.Printf("%s%s\n", b.Name, marker)
			}
			return nil
		},
	}
}

// createParseCmd prints the libpostal components of an address
func createParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-address [address]",
		Short: "Split an address into libpostal components",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := normalize.ParseComponents(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(components)
			return nil
		},
	}
}

// pipelineOptions resolves input paths and builds the run options
func pipelineOptions() (pipeline.Options, error) {
	lc, err := cfg.LinkageSettings()
	if err != nil {
		return pipeline.Options{}, err
	}

	epc, mcs, err := resolveInputs(cfg.Data.BatchRoot, cfg.Data.EPCPath, cfg.Data.MCSPath)
	if err != nil {
		return pipeline.Options{}, err
	}
	if epc == "" || mcs == "" {
		return pipeline.Options{}, eris.New("config: data.epc_path and data.mcs_path are required")
	}

	classifier := heating.Default()
	if cfg.Heating.RulesPath != "" {
		classifier, err = heating.LoadFile(cfg.Heating.RulesPath)
		if err != nil {
			return pipeline.Options{}, err
		}
	}

	return pipeline.Options{
		EPCPath:    epc,
		MCSPath:    mcs,
		MCSSheet:   cfg.Data.MCSSheet,
		Linkage:    lc,
		Classifier: classifier,
	}, nil
}

// resolveInputs places relative input paths inside the newest batch when a
// batch root is configured
func resolveInputs(batchRoot, epc, mcs string) (string, string, error) {
	if batchRoot == "" {
		return epc, mcs, nil
	}

	latest, err := dataset.LatestBatch(batchRoot)
	if err != nil {
		return "", "", err
	}
	dir := filepath.Join(batchRoot, latest)
	zap.L().Info("using batch", zap.String("batch", latest))

	inBatch := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	return inBatch(epc), inBatch(mcs), nil
}

func withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func writeOutput(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create output directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

func printStats(s pipeline.Stats) {
	r := s.Reconcile
	fmt.Printf("EPC records:         %d\n", s.EPCRecords)
	fmt.Printf("MCS installations:   %d\n", s.MCSRecords)
	fmt.Printf("Matched MCS:         %d (%d candidates in %d blocks)\n", s.MatchedMCS, s.Candidates, s.Blocks)
	fmt.Printf("Properties:          %d\n", r.Properties)
	fmt.Printf("  with heat pump:    %d\n", r.WithHeatPump)
	fmt.Printf("  MCS dated:         %d\n", r.MCSDated)
	fmt.Printf("  EPC dated:         %d\n", r.EPCDated)
	fmt.Printf("  synthetic rows:    %d\n", r.Synthetic)
	fmt.Printf("  EPC HP before MCS: %d\n", r.EPCBeforeMCS)
	fmt.Printf("  no EPC HP after:   %d\n", r.NoEPCAfterMCS)
	fmt.Printf("Took:                %v\n", s.Took)
}
