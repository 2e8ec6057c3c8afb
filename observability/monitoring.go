package observability

import (
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Stats aggregates delivery and process metrics for the /stats endpoint and
// the telemetry worker.
type Stats struct {
	MessagesAppended  uint64  `json:"messages_appended"`
	MessagesDelivered uint64  `json:"messages_delivered"`
	DeliveriesDropped uint64  `json:"deliveries_dropped"`
	LiveConnections   int64   `json:"live_connections"`
	RoomsResolved     uint64  `json:"rooms_resolved"`
	AllocMemMb        uint64  `json:"alloc_mem_mb"`
	NumGC             uint32  `json:"num_gc"`
	ProcessRSSMb      uint64  `json:"process_rss_mb"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

// Metrics collects counters from the hot path with atomics only; no locks.
type Metrics struct {
	startedAt time.Time

	appended    uint64
	delivered   uint64
	dropped     uint64
	connections int64
	rooms       uint64
}

func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) IncrAppended()       { atomic.AddUint64(&m.appended, 1) }
func (m *Metrics) IncrDelivered()      { atomic.AddUint64(&m.delivered, 1) }
func (m *Metrics) IncrDropped()        { atomic.AddUint64(&m.dropped, 1) }
func (m *Metrics) IncrRoomsResolved()  { atomic.AddUint64(&m.rooms, 1) }
func (m *Metrics) ConnectionOpened()   { atomic.AddInt64(&m.connections, 1) }
func (m *Metrics) ConnectionClosed()   { atomic.AddInt64(&m.connections, -1) }

// Snapshot merges the counters with Go runtime and OS process metrics.
// The gopsutil lookups are best effort; a failure leaves the fields at zero.
func (m *Metrics) Snapshot() Stats {
	stats := Stats{
		MessagesAppended:  atomic.LoadUint64(&m.appended),
		MessagesDelivered: atomic.LoadUint64(&m.delivered),
		DeliveriesDropped: atomic.LoadUint64(&m.dropped),
		LiveConnections:   atomic.LoadInt64(&m.connections),
		RoomsResolved:     atomic.LoadUint64(&m.rooms),
		UptimeSeconds:     int64(time.Since(m.startedAt).Seconds()),
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.AllocMemMb = mem.Alloc / 1024 / 1024
	stats.NumGC = mem.NumGC

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfo(); err == nil {
			stats.ProcessRSSMb = memInfo.RSS / 1024 / 1024
		}
		if cpuPercent, err := p.CPUPercent(); err == nil {
			stats.ProcessCPUPercent = cpuPercent
		}
	}
	return stats
}
