package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProgressTracker estimates completion of a decode run from finished blocks
type ProgressTracker struct {
	totalBlocks int64
	startTime   time.Time
	description string
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(totalBlocks int64, description string) *ProgressTracker {
	return &ProgressTracker{
		totalBlocks: totalBlocks,
		startTime:   time.Now(),
		description: description,
	}
}

// Progress holds current progress information
type Progress struct {
	Done        int64
	Total       int64
	Percentage  float64
	Elapsed     time.Duration
	ETA         time.Duration
	Throughput  float64 // entities per second
	Description string
}

// Calculate returns progress given finished blocks and decoded entities
func (p *ProgressTracker) Calculate(blocksDone, entities int64) Progress {
	elapsed := time.Since(p.startTime)

	var percentage float64
	var eta time.Duration

	if p.totalBlocks > 0 && blocksDone > 0 {
		percentage = float64(blocksDone) / float64(p.totalBlocks) * 100
		if percentage < 100 {
			perBlock := elapsed / time.Duration(blocksDone)
			eta = perBlock * time.Duration(p.totalBlocks-blocksDone)
		}
	}

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(entities) / elapsed.Seconds()
	}

	return Progress{
		Done:        blocksDone,
		Total:       p.totalBlocks,
		Percentage:  percentage,
		Elapsed:     elapsed.Round(time.Second),
		ETA:         eta.Round(time.Second),
		Throughput:  throughput,
		Description: p.description,
	}
}

// ProgressTicker calls a function periodically until its context ends
type ProgressTicker struct {
	ctx      context.Context
	callback func()
	interval time.Duration
}

// NewProgressTicker creates a new progress ticker
func NewProgressTicker(ctx context.Context, interval time.Duration, callback func()) *ProgressTicker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ProgressTicker{
		ctx:      ctx,
		callback: callback,
		interval: interval,
	}
}

// Run blocks until the context is cancelled
func (p *ProgressTicker) Run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.callback()
		}
	}
}

// logProgress returns a ticker callback that logs decode progress
func logProgress(log *zap.Logger, tracker *ProgressTracker, c *Counters) func() {
	return func() {
		entities := c.Nodes.Load() + c.Ways.Load() + c.Relations.Load()
		p := tracker.Calculate(c.Blocks.Load(), entities)
		log.Info(p.Description,
			zap.Int64("blocks", p.Done),
			zap.Int64("total_blocks", p.Total),
			zap.String("percent", fmt.Sprintf("%.1f%%", p.Percentage)),
			zap.String("eta", FormatETA(p.ETA)),
			zap.String("rate", FormatThroughput(p.Throughput)),
			zap.Int64("nodes", c.Nodes.Load()),
			zap.Int64("ways", c.Ways.Load()),
			zap.Int64("relations", c.Relations.Load()),
		)
	}
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
