// Package resources samples the host process's memory, disk, and CPU
// usage so the server's health endpoint can report degraded/unhealthy
// status under load rather than just "the process is up".
package resources

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// ResourceStats is one sample of process and host resource usage.
type ResourceStats struct {
	MemoryTotal     uint64    `json:"memory_total"`
	MemoryUsed      uint64    `json:"memory_used"`
	MemoryAvailable uint64    `json:"memory_available"`
	MemoryPercent   float64   `json:"memory_percent"`
	DiskTotal       uint64    `json:"disk_total"`
	DiskUsed        uint64    `json:"disk_used"`
	DiskAvailable   uint64    `json:"disk_available"`
	DiskPercent     float64   `json:"disk_percent"`
	CPUCores        int       `json:"cpu_cores"`
	GoroutineCount  int       `json:"goroutine_count"`
	Timestamp       time.Time `json:"timestamp"`

	SysInfo SystemInfo `json:"sys_info"`
}

// DiskStats holds disk usage statistics for one mount point.
type DiskStats struct {
	Total     uint64
	Used      uint64
	Available uint64
	Percent   float64
}

// Monitor periodically samples ResourceStats for a single process.
type Monitor struct {
	mu    sync.RWMutex
	stats ResourceStats
	path  string // disk path sampled by Update, e.g. "/"
}

// NewMonitor returns a Monitor that reports disk usage for diskPath.
func NewMonitor(diskPath string) *Monitor {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Monitor{path: diskPath}
}

// Start samples stats every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.Update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Update()
		}
	}
}

// Update refreshes the current sample.
func (m *Monitor) Update() {
	stats := m.sample()
	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}

// GetStats returns the most recent sample.
func (m *Monitor) GetStats() ResourceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) sample() ResourceStats {
	sysInfo := GetSystemInfo()

	stats := ResourceStats{
		Timestamp:      time.Now(),
		CPUCores:       runtime.NumCPU(),
		GoroutineCount: runtime.NumGoroutine(),
		SysInfo:        sysInfo,
	}

	if sysInfo.OSMemTotal > 0 {
		stats.MemoryTotal = sysInfo.OSMemTotal
		stats.MemoryUsed = sysInfo.OSMemUsed
		stats.MemoryAvailable = sysInfo.OSMemAvailable
		stats.MemoryPercent = sysInfo.OSMemPercent
	} else {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		stats.MemoryUsed = memStats.Alloc
		stats.MemoryTotal = memStats.Sys
		if stats.MemoryTotal > 0 {
			stats.MemoryPercent = float64(stats.MemoryUsed) / float64(stats.MemoryTotal) * 100
		}
	}

	disk := GetDiskUsage(m.path)
	if disk.Total > 0 {
		stats.DiskTotal = disk.Total
		stats.DiskUsed = disk.Used
		stats.DiskAvailable = disk.Available
		stats.DiskPercent = disk.Percent
	}

	return stats
}
