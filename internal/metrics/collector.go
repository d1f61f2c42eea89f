package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample is one snapshot of resource usage.
type Sample struct {
	SysCPUPercent  float64
	ProcCPUPercent float64 // per core, exceeds 100 on multi-core
	ProcRSSBytes   uint64
	SysMemPercent  float64
	ReadBytesPerS  float64 // bytes read by this process
	Timestamp      time.Time
}

// Source contributes extra fields to each metrics log line, such as decode
// counters.
type Source func() []zap.Field

// Collector periodically samples process and system usage and logs it.
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	sources  []Source

	lastReadBytes uint64
	lastReadTime  time.Time

	mu   sync.RWMutex
	last *Sample
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger, sources ...Source) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("Process metrics unavailable", zap.Error(err))
		proc = nil
	}

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		sources:  sources,
	}
}

// Start samples until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the read-rate baseline
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent sample, or nil before the first one.
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	s := c.sample()

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", round1(s.SysCPUPercent)),
		zap.Float64("proc_cpu", round1(s.ProcCPUPercent)),
		zap.String("rss", formatMB(float64(s.ProcRSSBytes))),
		zap.Float64("mem_pct", round1(s.SysMemPercent)),
		zap.String("read", formatMB(s.ReadBytesPerS)+"/s"),
	}
	for _, src := range c.sources {
		fields = append(fields, src()...)
	}
	c.logger.Info("System metrics", fields...)
}

func (c *Collector) sample() *Sample {
	s := &Sample{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.SysCPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.SysMemPercent = vmem.UsedPercent
	}

	if c.proc == nil {
		return s
	}
	if pct, err := c.proc.Percent(0); err == nil {
		s.ProcCPUPercent = pct
	}
	if mi, err := c.proc.MemoryInfo(); err == nil {
		s.ProcRSSBytes = mi.RSS
	}
	if io, err := c.proc.IOCounters(); err == nil {
		if !c.lastReadTime.IsZero() && io.ReadBytes >= c.lastReadBytes {
			if elapsed := s.Timestamp.Sub(c.lastReadTime).Seconds(); elapsed > 0 {
				s.ReadBytesPerS = float64(io.ReadBytes-c.lastReadBytes) / elapsed
			}
		}
		c.lastReadBytes = io.ReadBytes
		c.lastReadTime = s.Timestamp
	}
	return s
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

func formatMB(bytes float64) string {
	return fmt.Sprintf("%.1f MB", bytes/(1024*1024))
}
