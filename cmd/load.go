package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/pbfkit/internal/loader"
	"github.com/wegman-software/pbfkit/internal/logger"
	"github.com/wegman-software/pbfkit/internal/pbf"
	"github.com/wegman-software/pbfkit/internal/pipeline"
	"github.com/wegman-software/pbfkit/internal/style"
)

var loadCmd = &cobra.Command{
	Use:   "load <input.osm.pbf>",
	Short: "Load decoded OSM data into PostgreSQL",
	Long: `Decode a PBF file and bulk-load its entities into PostgreSQL using COPY.

Tables (in --db-schema):
  - osm_nodes     (id, lat, lon, tags jsonb)
  - osm_ways      (id, refs bigint[], tags jsonb)
  - osm_relations (id, member_types, member_refs, member_roles, tags jsonb)

Tables are created unlogged, filled concurrently, then given primary keys
and analyzed.`,
	Args: cobra.ExactArgs(1),
	Run:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
	addDBFlags(loadCmd)

	loadCmd.Flags().BoolVar(&cfg.DropExisting, "drop", false, "Drop existing tables before loading")
	loadCmd.Flags().StringVar(&cfg.StyleFile, "style", "", "YAML style file selecting entities and tags")
	loadCmd.Flags().BoolVar(&cfg.SkipNodes, "skip-nodes", false, "Skip node loading")
	loadCmd.Flags().BoolVar(&cfg.SkipWays, "skip-ways", false, "Skip way loading")
	loadCmd.Flags().BoolVar(&cfg.SkipRelations, "skip-relations", false, "Skip relation loading")
}

func runLoad(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	styleCfg := &style.Config{}
	if cfg.StyleFile != "" {
		var err error
		if styleCfg, err = style.LoadConfig(cfg.StyleFile); err != nil {
			exitWithError("failed to load style", err)
		}
	}
	filter := style.NewFilter(styleCfg)

	ctx := context.Background()
	l, err := loader.NewLoader(ctx, cfg)
	if err != nil {
		exitWithError("failed to create loader", err)
	}
	defer l.Close()

	if err := l.Prepare(ctx); err != nil {
		exitWithError("failed to prepare tables", err)
	}

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer f.Close()

	log.Info("Loading PBF into PostgreSQL",
		zap.String("input", cfg.InputFile),
		zap.String("database", cfg.DBName),
		zap.String("schema", cfg.DBSchema),
		zap.Int("workers", cfg.Workers),
	)
	start := time.Now()

	// decoded blocks arrive in order; COPYs run concurrently behind them
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	r := pbf.NewReader(f, pbf.WithLogger(log), pbf.WithSkipUnknown(!cfg.StrictKinds))
	err = pipeline.Each(gctx, r, cfg.Workers, func(res pipeline.BlockResult) error {
		if res.Header != nil {
			return res.Header.CheckFeatures()
		}
		ents := res.Entities
		if cfg.SkipNodes {
			ents.Nodes = nil
		}
		if cfg.SkipWays {
			ents.Ways = nil
		}
		if cfg.SkipRelations {
			ents.Relations = nil
		}
		filter.Apply(ents)
		g.Go(func() error { return l.Load(gctx, ents) })
		return gctx.Err()
	})
	// a failed COPY cancels gctx; report it rather than the cancellation
	if werr := g.Wait(); werr != nil {
		err = werr
	}
	if err != nil {
		exitWithError("load failed", err)
	}

	if err := l.Finish(ctx); err != nil {
		exitWithError("failed to finalize tables", err)
	}

	stats := l.Stats()
	log.Info("Load complete",
		zap.Int64("nodes", stats.Nodes.Load()),
		zap.Int64("ways", stats.Ways.Load()),
		zap.Int64("relations", stats.Relations.Load()),
		elapsedField(start),
	)
}
