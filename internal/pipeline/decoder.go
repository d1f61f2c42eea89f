package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/pbfkit/internal/config"
	"github.com/wegman-software/pbfkit/internal/logger"
	"github.com/wegman-software/pbfkit/internal/metrics"
	"github.com/wegman-software/pbfkit/internal/pbf"
)

// CollectBlocks frames every block of r in file order.
func CollectBlocks(r *pbf.Reader) ([]*pbf.Block, error) {
	var blocks []*pbf.Block
	for b, err := range r.All() {
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// DecodeBlock inflates and decodes one block. Block index and offset are
// carried into the result.
func DecodeBlock(index int, b *pbf.Block) (BlockResult, error) {
	res := BlockResult{Index: index, Offset: b.Offset, Kind: b.Kind}

	rec, err := b.Decode()
	if err != nil {
		return res, fmt.Errorf("block %d at offset %d: %w", index, b.Offset, err)
	}

	switch r := rec.(type) {
	case *pbf.HeaderRecord:
		res.Header = r
	case *pbf.PrimitiveRecord:
		ents, err := r.Entities()
		if err != nil {
			return res, fmt.Errorf("block %d at offset %d: %w", index, b.Offset, err)
		}
		res.Entities = ents
	}
	return res, nil
}

// Decoder decodes blocks concurrently. Blocks share no state, so each one is
// decoded by its own goroutine into its own result slot.
type Decoder struct {
	workers       int
	skipNodes     bool
	skipWays      bool
	skipRelations bool
	counters      *Counters
}

// NewDecoder creates a decoder from cfg. A zero worker count means one per
// CPU.
func NewDecoder(cfg *config.Config) *Decoder {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Decoder{
		workers:       workers,
		skipNodes:     cfg.SkipNodes,
		skipWays:      cfg.SkipWays,
		skipRelations: cfg.SkipRelations,
		counters:      &Counters{},
	}
}

// Counters returns the live counters updated during DecodeBlocks.
func (d *Decoder) Counters() *Counters {
	return d.counters
}

// DecodeBlocks decodes all blocks and returns results in block order. The
// first failure cancels outstanding work and is returned.
func (d *Decoder) DecodeBlocks(ctx context.Context, blocks []*pbf.Block) ([]BlockResult, error) {
	results := make([]BlockResult, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i, b := range blocks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := DecodeBlock(i, b)
			if err != nil {
				return err
			}
			d.filter(&res)
			results[i] = res

			d.counters.Blocks.Add(1)
			if res.Entities != nil {
				d.counters.Nodes.Add(int64(len(res.Entities.Nodes)))
				d.counters.Ways.Add(int64(len(res.Entities.Ways)))
				d.counters.Relations.Add(int64(len(res.Entities.Relations)))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Decoder) filter(res *BlockResult) {
	if res.Entities == nil {
		return
	}
	if d.skipNodes {
		res.Entities.Nodes = nil
	}
	if d.skipWays {
		res.Entities.Ways = nil
	}
	if d.skipRelations {
		res.Entities.Relations = nil
	}
}

// Merge folds ordered block results into one dataset. The first header
// block becomes the dataset header and must list only supported features.
func Merge(results []BlockResult) (*Dataset, error) {
	ds := &Dataset{Nodes: make(map[int64]pbf.Node)}

	for _, res := range results {
		ds.Stats.Blocks++
		switch {
		case res.Header != nil:
			ds.Stats.HeaderBlocks++
			if ds.Header != nil {
				continue
			}
			if err := res.Header.CheckFeatures(); err != nil {
				return nil, fmt.Errorf("block %d at offset %d: %w", res.Index, res.Offset, err)
			}
			ds.Header = res.Header
		case res.Entities != nil:
			ds.Stats.DataBlocks++
			for _, n := range res.Entities.Nodes {
				ds.Nodes[n.ID] = n
			}
			ds.Ways = append(ds.Ways, res.Entities.Ways...)
			ds.Relations = append(ds.Relations, res.Entities.Relations...)
			ds.Stats.Ways += int64(len(res.Entities.Ways))
			ds.Stats.Relations += int64(len(res.Entities.Relations))
		}
	}
	ds.Stats.Nodes = int64(len(ds.Nodes))
	return ds, nil
}

// Run decodes the whole input file named by cfg.
func Run(ctx context.Context, cfg *config.Config) (*Dataset, error) {
	log := logger.Get()
	start := time.Now()

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	r := pbf.NewReader(f, pbf.WithLogger(log), pbf.WithSkipUnknown(!cfg.StrictKinds))
	blocks, err := CollectBlocks(r)
	if err != nil {
		return nil, err
	}
	log.Info("Framed blocks",
		zap.Int("blocks", len(blocks)),
		zap.String("size", FormatBytes(r.Offset())),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))

	dec := NewDecoder(cfg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := NewProgressTracker(int64(len(blocks)), "Decoding blocks")
	go NewProgressTicker(runCtx, 2*time.Second, logProgress(log, tracker, dec.Counters())).Run()

	if cfg.MetricsInterval > 0 {
		c := dec.Counters()
		collector := metrics.NewCollector(cfg.MetricsInterval, log, func() []zap.Field {
			return []zap.Field{
				zap.Int64("blocks_done", c.Blocks.Load()),
				zap.Int64("nodes", c.Nodes.Load()),
			}
		})
		go collector.Start(runCtx)
	}

	results, err := dec.DecodeBlocks(runCtx, blocks)
	if err != nil {
		return nil, err
	}
	ds, err := Merge(results)
	if err != nil {
		return nil, err
	}
	ds.Stats.BytesRead = r.Offset()

	log.Info("Decode complete",
		zap.Int64("blocks", ds.Stats.Blocks),
		zap.Int64("nodes", ds.Stats.Nodes),
		zap.Int64("ways", ds.Stats.Ways),
		zap.Int64("relations", ds.Stats.Relations),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return ds, nil
}

// Each calls fn for every decoded block in file order without holding
// the whole file in memory. Blocks are decoded by up to workers goroutines
// ahead of the consumer. fn runs on a single consumer goroutine, never
// concurrently with itself, but not on the goroutine that called Each.
func Each(ctx context.Context, r *pbf.Reader, workers int, fn func(BlockResult) error) error {
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	type pending struct {
		done chan struct{}
		res  BlockResult
		err  error
	}

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan *pending, workers)

	g.Go(func() error {
		defer close(queue)
		sem := make(chan struct{}, workers)
		index := 0
		for {
			b, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			p := &pending{done: make(chan struct{})}
			select {
			case queue <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			go func(i int, b *pbf.Block) {
				defer func() { <-sem }()
				p.res, p.err = DecodeBlock(i, b)
				close(p.done)
			}(index, b)
			index++
		}
	})

	g.Go(func() error {
		for p := range queue {
			select {
			case <-p.done:
			case <-gctx.Done():
				return gctx.Err()
			}
			if p.err != nil {
				return p.err
			}
			if err := fn(p.res); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}
