package srdia

import (
	"fmt"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// ExportVictoriaMetrics pushes the cumulative counters and histogram
// bins into the default VictoriaMetrics registry, tagging every
// series with connectionID using github.com/VictoriaMetrics/metrics'
// curly-brace label convention: a flat name plus a
// "{label=\"value\",...}" suffix rather than Prometheus's separate
// label map.
func (d *Diagnostics) ExportVictoriaMetrics(connectionID int) {
	snap := d.Cumulative()
	for class := ErrorClass(0); class < numClasses; class++ {
		name := fmt.Sprintf(`rasta_diag_errors_total{connection_id="%d",class="%s"}`, connectionID, class)
		vm.GetOrCreateCounter(name).Set(uint64(snap.Counters[class]))
	}
	for i, edge := range snap.Histogram.Edges {
		name := fmt.Sprintf(`rasta_diag_rtd_bucket_total{connection_id="%d",le="%d"}`, connectionID, edge)
		vm.GetOrCreateCounter(name).Set(uint64(snap.Histogram.Counts[i]))
	}
}

// Collector adapts a set of Diagnostics instances, keyed by
// connection ID, to prometheus.Collector - grounded on the
// TCPInfoCollector pattern in runZeroInc-conniver's pkg/exporter
// (a fixed Desc set built once, re-emitted with current values on
// every Collect call rather than registered per-observation).
type Collector struct {
	diagnostics func() map[int]*Diagnostics
	errorDesc   *prometheus.Desc
	rtdDesc     *prometheus.Desc
}

// NewCollector returns a Collector that, on every scrape, calls
// diagnostics to obtain the current connection set and reports each
// one's cumulative counters and histogram.
func NewCollector(diagnostics func() map[int]*Diagnostics) *Collector {
	return &Collector{
		diagnostics: diagnostics,
		errorDesc: prometheus.NewDesc(
			"rasta_diag_errors_total",
			"Cumulative count of rejected messages by class.",
			[]string{"connection_id", "class"}, nil,
		),
		rtdDesc: prometheus.NewDesc(
			"rasta_diag_rtd_bucket_total",
			"Cumulative round-trip-delay histogram bucket counts.",
			[]string{"connection_id", "le"}, nil,
		),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.errorDesc
	descs <- c.rtdDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for id, d := range c.diagnostics() {
		snap := d.Cumulative()
		connID := fmt.Sprintf("%d", id)
		for class := ErrorClass(0); class < numClasses; class++ {
			metrics <- prometheus.MustNewConstMetric(
				c.errorDesc, prometheus.CounterValue,
				float64(snap.Counters[class]), connID, class.String(),
			)
		}
		for i, edge := range snap.Histogram.Edges {
			metrics <- prometheus.MustNewConstMetric(
				c.rtdDesc, prometheus.CounterValue,
				float64(snap.Histogram.Counts[i]), connID, fmt.Sprintf("%d", edge),
			)
		}
	}
}
