package lfs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats are the segment writer's counters.
type Stats struct {
	SegsUsed     prometheus.Counter
	PsegWrites   prometheus.Counter
	PsyncWrites  prometheus.Counter
	BlockTot     prometheus.Counter
	Ncheckpoints prometheus.Counter
	Nwrites      prometheus.Counter
	NsyncWrites  prometheus.Counter
	FlushInvoked prometheus.Counter
	ActiveSegs   prometheus.Gauge
}

func counter(f promauto.Factory, name string, help string) prometheus.Counter {
	return f.NewCounter(prometheus.CounterOpts{
		Namespace: "lfs",
		Name:      name,
		Help:      help,
	})
}

// newStats registers the counters on reg; a nil reg leaves them
// unregistered.
func newStats(reg prometheus.Registerer) *Stats {
	f := promauto.With(reg)
	return &Stats{
		SegsUsed:     counter(f, "segs_used_total", "Segments taken for writing"),
		PsegWrites:   counter(f, "pseg_writes_total", "Partial segments written"),
		PsyncWrites:  counter(f, "psync_writes_total", "Partial segments written by synchronous sessions"),
		BlockTot:     counter(f, "blocks_written_total", "Buffers written in partial segments"),
		Ncheckpoints: counter(f, "checkpoints_total", "Checkpoints committed"),
		Nwrites:      counter(f, "segwrites_total", "Segment write passes"),
		NsyncWrites:  counter(f, "sync_segwrites_total", "Synchronous segment write passes"),
		FlushInvoked: counter(f, "flushes_total", "Single-vnode flushes"),
		ActiveSegs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lfs",
			Name:      "active_segments",
			Help:      "Segments made active since the last checkpoint",
		}),
	}
}
