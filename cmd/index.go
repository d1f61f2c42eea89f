package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/pbfkit/internal/logger"
	"github.com/wegman-software/pbfkit/internal/nodeindex"
	"github.com/wegman-software/pbfkit/internal/pbf"
	"github.com/wegman-software/pbfkit/internal/pipeline"
)

var indexCmd = &cobra.Command{
	Use:   "index <input.osm.pbf> <nodes.idx>",
	Short: "Build a memory-mapped node location index",
	Long: `Decode the nodes of a PBF file and store their locations in a sparse,
memory-mapped index file with O(1) lookup by node id. Each id takes 8
bytes of address space; --max-node-id bounds the file size.`,
	Args: cobra.ExactArgs(2),
	Run:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().Int64Var(&cfg.MaxNodeID, "max-node-id", cfg.MaxNodeID, "Largest node id the index can hold")
}

func runIndex(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	cfg.NodeIndexFile = args[1]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer f.Close()

	idx, err := nodeindex.NewMmapIndex(cfg.NodeIndexFile, cfg.MaxNodeID)
	if err != nil {
		exitWithError("failed to create index", err)
	}

	log.Info("Building node index",
		zap.String("input", cfg.InputFile),
		zap.String("index", cfg.NodeIndexFile),
		zap.Int64("max_node_id", cfg.MaxNodeID),
	)
	start := time.Now()

	var nodes int64
	r := pbf.NewReader(f, pbf.WithLogger(log), pbf.WithSkipUnknown(!cfg.StrictKinds))
	err = pipeline.Each(context.Background(), r, cfg.Workers, func(res pipeline.BlockResult) error {
		if res.Entities == nil {
			return nil
		}
		nodes += int64(len(res.Entities.Nodes))
		return nodeindex.AddNodes(idx, res.Entities.Nodes)
	})
	if err == nil {
		err = idx.Sync()
	}
	if cerr := idx.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		exitWithError("index build failed", err)
	}

	log.Info("Node index complete", zap.Int64("nodes", nodes), elapsedField(start))
}
