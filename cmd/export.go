package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/osm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/pbfkit/internal/logger"
	"github.com/wegman-software/pbfkit/internal/nodeindex"
	"github.com/wegman-software/pbfkit/internal/osmconv"
	"github.com/wegman-software/pbfkit/internal/parquet"
	"github.com/wegman-software/pbfkit/internal/pbf"
	"github.com/wegman-software/pbfkit/internal/pipeline"
	"github.com/wegman-software/pbfkit/internal/style"
	"github.com/wegman-software/pbfkit/internal/wkb"
)

var exportCmd = &cobra.Command{
	Use:   "export <input.osm.pbf>",
	Short: "Export decoded OSM data to Parquet files",
	Long: `Decode a PBF file in parallel and write the entities to Parquet files:
  - nodes.parquet            (id, lat, lon, tags, geom)
  - ways.parquet             (id, node_count, closed, tags, geom)
  - way_nodes.parquet        (way_id, seq, node_id, lat, lon)
  - relations.parquet        (id, member_count, tags)
  - relation_members.parquet (relation_id, seq, type, ref, role)

Node locations are kept in a node index so way nodes carry coordinates.
Use --node-index for a file-backed index on large inputs. geom is EWKB in
--srid; ways with fewer than two located nodes have a null geom.`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Directory for Parquet files")
	exportCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per Parquet row group")
	exportCmd.Flags().IntVar(&cfg.SRID, "srid", cfg.SRID, "Geometry SRID (4326 or 3857)")
	exportCmd.Flags().StringVar(&cfg.StyleFile, "style", "", "YAML style file selecting entities and tags")
	exportCmd.Flags().StringVar(&cfg.NodeIndexFile, "node-index", "", "File-backed node index path (default in memory)")
	exportCmd.Flags().Int64Var(&cfg.MaxNodeID, "max-node-id", cfg.MaxNodeID, "Largest node id the file-backed index can hold")
	exportCmd.Flags().BoolVar(&cfg.SkipNodes, "skip-nodes", false, "Skip node export")
	exportCmd.Flags().BoolVar(&cfg.SkipWays, "skip-ways", false, "Skip way export")
	exportCmd.Flags().BoolVar(&cfg.SkipRelations, "skip-relations", false, "Skip relation export")
}

// exporter owns the Parquet writers of one export run.
type exporter struct {
	filter    *style.Filter
	index     nodeindex.Index
	geom      *wkb.Encoder
	nodes     *parquet.NodeWriter
	ways      *parquet.WayWriter
	wayNodes  *parquet.WayNodeWriter
	relations *parquet.RelationWriter
	members   *parquet.RelationMemberWriter
	closers   []func() error

	nodeCount, wayCount, relationCount int64
}

func runExport(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		exitWithError("failed to create output directory", err)
	}

	log.Info("Starting Parquet export",
		zap.String("input", cfg.InputFile),
		zap.String("output", cfg.OutputDir),
		zap.Int("workers", cfg.Workers),
	)
	start := time.Now()

	ex, err := newExporter()
	if err != nil {
		exitWithError("failed to create writers", err)
	}

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer f.Close()

	r := pbf.NewReader(f, pbf.WithLogger(log), pbf.WithSkipUnknown(!cfg.StrictKinds))
	err = pipeline.Each(context.Background(), r, cfg.Workers, func(res pipeline.BlockResult) error {
		if res.Header != nil {
			return res.Header.CheckFeatures()
		}
		return ex.write(res.Entities)
	})
	if cerr := ex.close(); err == nil {
		err = cerr
	}
	if err != nil {
		exitWithError("export failed", err)
	}

	elapsed := time.Since(start)
	log.Info("Export complete",
		zap.Duration("duration", elapsed.Round(time.Millisecond)),
		zap.Int64("nodes", ex.nodeCount),
		zap.Int64("ways", ex.wayCount),
		zap.Int64("relations", ex.relationCount),
		zap.Float64("throughput_mb_s", float64(r.Offset())/(1024*1024)/elapsed.Seconds()),
	)
}

func newExporter() (_ *exporter, err error) {
	ex := &exporter{}
	defer func() {
		if err != nil {
			ex.close()
		}
	}()

	styleCfg := &style.Config{}
	if cfg.StyleFile != "" {
		if styleCfg, err = style.LoadConfig(cfg.StyleFile); err != nil {
			return nil, err
		}
	}
	ex.filter = style.NewFilter(styleCfg)

	if ex.geom, err = wkb.NewEncoder(cfg.SRID); err != nil {
		return nil, err
	}

	if cfg.NodeIndexFile != "" {
		idx, err := nodeindex.NewMmapIndex(cfg.NodeIndexFile, cfg.MaxNodeID)
		if err != nil {
			return nil, err
		}
		ex.index = idx
		ex.closers = append(ex.closers, idx.Close)
	} else {
		ex.index = nodeindex.NewMapIndex()
	}

	path := func(name string) string { return filepath.Join(cfg.OutputDir, name) }

	if !cfg.SkipNodes {
		if ex.nodes, err = parquet.NewNodeWriter(path("nodes.parquet"), cfg.BatchSize); err != nil {
			return nil, err
		}
		ex.closers = append(ex.closers, ex.nodes.Close)
	}
	if !cfg.SkipWays {
		if ex.ways, err = parquet.NewWayWriter(path("ways.parquet"), cfg.BatchSize); err != nil {
			return nil, err
		}
		ex.closers = append(ex.closers, ex.ways.Close)
		if ex.wayNodes, err = parquet.NewWayNodeWriter(path("way_nodes.parquet"), cfg.BatchSize); err != nil {
			return nil, err
		}
		ex.closers = append(ex.closers, ex.wayNodes.Close)
	}
	if !cfg.SkipRelations {
		if ex.relations, err = parquet.NewRelationWriter(path("relations.parquet"), cfg.BatchSize); err != nil {
			return nil, err
		}
		ex.closers = append(ex.closers, ex.relations.Close)
		if ex.members, err = parquet.NewRelationMemberWriter(path("relation_members.parquet"), cfg.BatchSize); err != nil {
			return nil, err
		}
		ex.closers = append(ex.closers, ex.members.Close)
	}
	return ex, nil
}

// write is called from a single goroutine in block order. Every node
// inside the bbox is indexed, including nodes the style drops, so ways keep
// their geometry.
func (ex *exporter) write(ents *pbf.Entities) error {
	inside := ents.Nodes[:0]
	for _, n := range ents.Nodes {
		if !cfg.BBox.Contains(n.LatDegrees(), n.LonDegrees()) {
			continue
		}
		if err := ex.index.Put(n.ID, n.Lat, n.Lon); err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
		inside = append(inside, n)
	}
	ents.Nodes = inside

	ex.filter.Apply(ents)

	if ex.nodes != nil {
		for _, n := range ents.Nodes {
			geom, err := ex.geom.Point(n.Lat, n.Lon)
			if err != nil {
				return fmt.Errorf("node %d: %w", n.ID, err)
			}
			if err := ex.nodes.Write(osmconv.Node(n), geom); err != nil {
				return err
			}
			ex.nodeCount++
		}
	}

	if ex.ways != nil {
		located := func(id osm.NodeID) bool {
			_, _, ok := ex.index.Get(int64(id))
			return ok
		}
		for _, w := range ents.Ways {
			coords, _ := nodeindex.Resolve(ex.index, w)
			geom, ok, err := ex.geom.Way(coords, w.Closed())
			if err != nil {
				return fmt.Errorf("way %d: %w", w.ID, err)
			}
			if !ok {
				geom = nil
			}
			way := osmconv.Way(w, ex.index)
			if err := ex.ways.Write(way, geom); err != nil {
				return err
			}
			if err := ex.wayNodes.Write(way, located); err != nil {
				return err
			}
			ex.wayCount++
		}
	}

	if ex.relations != nil {
		for _, rel := range ents.Relations {
			r := osmconv.Relation(rel)
			if err := ex.relations.Write(r); err != nil {
				return err
			}
			if err := ex.members.Write(r); err != nil {
				return err
			}
			ex.relationCount++
		}
	}
	return nil
}

func (ex *exporter) close() error {
	var first error
	for _, c := range ex.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	ex.closers = nil
	return first
}
