package gcmetrics

import "github.com/prometheus/client_golang/prometheus"

// Collector exports a Metrics as Prometheus counters, the way a
// production deployment scrapes engine-level metrics.
type Collector struct {
	m *Metrics

	bytesRead        *prometheus.Desc
	bytesWritten     *prometheus.Desc
	keysOverwritten  *prometheus.Desc
	bytesOverwritten *prometheus.Desc
	keysRelocated    *prometheus.Desc
	bytesRelocated   *prometheus.Desc
	newFiles         *prometheus.Desc
	obsoleteFiles    *prometheus.Desc
	holePunchedBytes *prometheus.Desc
}

// NewCollector returns a Collector scraping m. cf labels the exported
// series with the owning column family's name.
func NewCollector(m *Metrics, cf string) *Collector {
	labels := prometheus.Labels{"column_family": cf}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("pebble_blob_gc_"+name, help, nil, labels)
	}
	return &Collector{
		m:                m,
		bytesRead:        desc("bytes_read", "Value bytes of live records read by the GC rewrite loop."),
		bytesWritten:     desc("bytes_written", "Bytes written to new blob files during rewrite."),
		keysOverwritten:  desc("keys_overwritten_total", "Keys found discardable during GC."),
		bytesOverwritten: desc("bytes_overwritten_total", "Bytes found discardable during GC."),
		keysRelocated:    desc("keys_relocated_total", "Keys successfully rewritten to new blob files."),
		bytesRelocated:   desc("bytes_relocated_total", "Bytes successfully rewritten to new blob files."),
		newFiles:         desc("new_files_total", "Blob files created by GC."),
		obsoleteFiles:    desc("obsolete_files_total", "Blob files marked obsolete by GC."),
		holePunchedBytes: desc("hole_punched_bytes_total", "Bytes reclaimed in place by the dig-hole job."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.keysOverwritten
	ch <- c.bytesOverwritten
	ch <- c.keysRelocated
	ch <- c.bytesRelocated
	ch <- c.newFiles
	ch <- c.obsoleteFiles
	ch <- c.holePunchedBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(s.BytesRead))
	ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(s.BytesWritten))
	ch <- prometheus.MustNewConstMetric(c.keysOverwritten, prometheus.CounterValue, float64(s.KeysOverwritten))
	ch <- prometheus.MustNewConstMetric(c.bytesOverwritten, prometheus.CounterValue, float64(s.BytesOverwritten))
	ch <- prometheus.MustNewConstMetric(c.keysRelocated, prometheus.CounterValue, float64(s.KeysRelocated))
	ch <- prometheus.MustNewConstMetric(c.bytesRelocated, prometheus.CounterValue, float64(s.BytesRelocated))
	ch <- prometheus.MustNewConstMetric(c.newFiles, prometheus.CounterValue, float64(s.NewFiles))
	ch <- prometheus.MustNewConstMetric(c.obsoleteFiles, prometheus.CounterValue, float64(s.ObsoleteFiles))
	ch <- prometheus.MustNewConstMetric(c.holePunchedBytes, prometheus.CounterValue, float64(s.HolePunchedBytes))
}
