package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/pbfkit/internal/logger"
	"github.com/wegman-software/pbfkit/internal/pipeline"
)

var statsCmd = &cobra.Command{
	Use:   "stats <input.osm.pbf>",
	Short: "Decode a PBF file and summarize its contents",
	Long: `Decode every block of a PBF file in parallel, merge the results and print
the file header together with block and entity counts.

Decoding fails on the first malformed block; the error names the block
index and byte offset.`,
	Args: cobra.ExactArgs(1),
	Run:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&cfg.SkipNodes, "skip-nodes", false, "Do not keep decoded nodes")
	statsCmd.Flags().BoolVar(&cfg.SkipWays, "skip-ways", false, "Do not keep decoded ways")
	statsCmd.Flags().BoolVar(&cfg.SkipRelations, "skip-relations", false, "Do not keep decoded relations")
}

func runStats(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	log.Info("Decoding PBF",
		zap.String("input", cfg.InputFile),
		zap.Int("workers", cfg.Workers),
		zap.Bool("strict", cfg.StrictKinds),
	)
	start := time.Now()

	ds, err := pipeline.Run(context.Background(), cfg)
	if err != nil {
		exitWithError("decode failed", err)
	}

	printStats(cmd.OutOrStdout(), ds)
	log.Info("Stats complete", elapsedField(start))
}

func printStats(w io.Writer, ds *pipeline.Dataset) {
	if h := ds.Header; h != nil {
		fmt.Fprintf(w, "writing program:   %s\n", h.WritingProgram)
		if h.Source != "" {
			fmt.Fprintf(w, "source:            %s\n", h.Source)
		}
		fmt.Fprintf(w, "required features: %s\n", strings.Join(h.RequiredFeatures, ", "))
		if len(h.OptionalFeatures) > 0 {
			fmt.Fprintf(w, "optional features: %s\n", strings.Join(h.OptionalFeatures, ", "))
		}
		if h.BBox != nil {
			fmt.Fprintf(w, "bbox:              %.7f,%.7f,%.7f,%.7f\n",
				float64(h.BBox.Left)/1e9, float64(h.BBox.Bottom)/1e9,
				float64(h.BBox.Right)/1e9, float64(h.BBox.Top)/1e9)
		}
		if h.ReplicationSequenceNumber != 0 {
			fmt.Fprintf(w, "replication:       seq %d at %s\n",
				h.ReplicationSequenceNumber, time.Unix(h.ReplicationTimestamp, 0).UTC().Format(time.RFC3339))
		}
	}

	s := ds.Stats
	fmt.Fprintf(w, "size:              %s\n", pipeline.FormatBytes(s.BytesRead))
	fmt.Fprintf(w, "blocks:            %d (%d header, %d data)\n", s.Blocks, s.HeaderBlocks, s.DataBlocks)
	fmt.Fprintf(w, "nodes:             %d\n", s.Nodes)
	fmt.Fprintf(w, "ways:              %d\n", s.Ways)
	fmt.Fprintf(w, "relations:         %d\n", s.Relations)
}
