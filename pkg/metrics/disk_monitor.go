package metrics

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// DiskStats 磁盘统计信息
type DiskStats struct {
	Path         string  `json:"path"`
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usage_percent"`
}

// DiskMonitor samples free space of the filesystem holding Path. Long
// recordings fail slowly when the session volume fills, so the recorder
// exports it and refuses to start below MinFreeBytes.
type DiskMonitor struct {
	Path         string
	MinFreeBytes uint64
	metrics      *Metrics
}

func NewDiskMonitor(path string, minFree uint64, m *Metrics) *DiskMonitor {
	return &DiskMonitor{Path: path, MinFreeBytes: minFree, metrics: m}
}

// Sample reads disk and memory usage and updates the gauges.
func (d *DiskMonitor) Sample(ctx context.Context) (*DiskStats, error) {
	u, err := disk.UsageWithContext(ctx, d.Path)
	if err != nil {
		return nil, err
	}
	st := &DiskStats{
		Path:         d.Path,
		Total:        u.Total,
		Used:         u.Used,
		Free:         u.Free,
		UsagePercent: u.UsedPercent,
	}
	d.metrics.SetDiskUsage(d.Path, u.Free, u.UsedPercent)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		d.metrics.SetSystemMemoryUsage("used", vm.Used)
		d.metrics.SetSystemMemoryUsage("available", vm.Available)
	}
	return st, nil
}

// HasRoom reports whether the volume has at least MinFreeBytes free.
// Sampling errors are treated as "has room" so a broken probe never blocks recording.
func (d *DiskMonitor) HasRoom(ctx context.Context) bool {
	if d == nil || d.MinFreeBytes == 0 {
		return true
	}
	st, err := d.Sample(ctx)
	if err != nil {
		return true
	}
	return st.Free >= d.MinFreeBytes
}
