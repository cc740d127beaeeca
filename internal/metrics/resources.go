package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource reading for one running child.
type Usage struct {
	RSS        uint64 `json:"rss_bytes"`
	NumThreads int32  `json:"num_threads"`
}

var (
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "rss_bytes",
			Help:      "Resident set size of a running process at the last sample.",
		}, []string{"name", "pid"},
	)
	processThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "threads",
			Help:      "Thread count of a running process at the last sample.",
		}, []string{"name", "pid"},
	)
)

// SampleUsage reads memory and thread count for pid. The caller must still
// own pid (not yet reaped) so the reading cannot belong to a reused id.
func SampleUsage(pid int) (Usage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{RSS: mem.RSS}
	if n, err := proc.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}

// SetUsage publishes u for one process. Names repeat across a batch, so
// series are keyed by name and pid.
func SetUsage(name string, pid int, u Usage) {
	if regOK.Load() {
		id := strconv.Itoa(pid)
		processRSS.WithLabelValues(name, id).Set(float64(u.RSS))
		processThreads.WithLabelValues(name, id).Set(float64(u.NumThreads))
	}
}

// DeleteUsage drops the gauges of a process that left the pool.
func DeleteUsage(name string, pid int) {
	if regOK.Load() {
		id := strconv.Itoa(pid)
		processRSS.DeleteLabelValues(name, id)
		processThreads.DeleteLabelValues(name, id)
	}
}
