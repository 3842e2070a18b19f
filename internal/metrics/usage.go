package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of a worker process tree.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Children   int       `json:"children"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleUsage reads resource usage for pid and counts its descendants.
func SampleUsage(pid int32) (Usage, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	u := Usage{
		PID:       pid,
		MemoryRSS: memInfo.RSS,
		MemoryVMS: memInfo.VMS,
		Timestamp: time.Now(),
	}
	// CPUPercent is averaged over the process lifetime, which is what we want
	// for a long-lived worker sampled at scrape time.
	if cpu, err := proc.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := proc.NumThreads(); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			u.NumFDs = n
		}
	}
	u.Children = countDescendants(proc)
	return u, nil
}

func countDescendants(p *process.Process) int {
	children, err := p.Children()
	if err != nil {
		return 0
	}
	n := len(children)
	for _, c := range children {
		n += countDescendants(c)
	}
	return n
}

// UsageCollector samples the worker on every scrape. It keeps no state
// between scrapes, so a dead worker simply disappears from the output.
type UsageCollector struct {
	name string
	pid  func() (int32, bool)

	cpu      *prometheus.Desc
	rss      *prometheus.Desc
	threads  *prometheus.Desc
	fds      *prometheus.Desc
	children *prometheus.Desc
}

// NewUsageCollector builds a collector for the worker called name. pid
// returns the live worker PID, or false when no worker is running.
func NewUsageCollector(name string, pid func() (int32, bool)) *UsageCollector {
	labels := prometheus.Labels{"name": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("botvisor", "worker", metric), help, nil, labels)
	}
	return &UsageCollector{
		name:     name,
		pid:      pid,
		cpu:      desc("cpu_percent", "CPU usage percentage of the worker root process."),
		rss:      desc("memory_rss_bytes", "Resident memory of the worker root process."),
		threads:  desc("num_threads", "Number of threads of the worker root process."),
		fds:      desc("num_fds", "Number of open file descriptors of the worker root process (Unix only)."),
		children: desc("descendants", "Number of descendant processes of the worker."),
	}
}

func (c *UsageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
	ch <- c.fds
	ch <- c.children
}

func (c *UsageCollector) Collect(ch chan<- prometheus.Metric) {
	pid, ok := c.pid()
	if !ok {
		return
	}
	u, err := SampleUsage(pid)
	if err != nil {
		slog.Debug("Failed to sample worker usage", "name", c.name, "pid", pid, "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, u.CPUPercent)
	ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(u.MemoryRSS))
	ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(u.NumThreads))
	if runtime.GOOS != "windows" {
		ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(u.NumFDs))
	}
	ch <- prometheus.MustNewConstMetric(c.children, prometheus.GaugeValue, float64(u.Children))
}
