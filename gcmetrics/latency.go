package gcmetrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// latencyMax bounds the histograms at one hour in microseconds; a GC
// phase taking longer than that indicates something badly stuck, not a
// value worth resolving precisely.
const latencyMax = int64(time.Hour / time.Microsecond)

// LatencyHistograms tracks per-phase duration distributions for a GC job:
// how long each file's sample pass, each Phase 4 rewrite write, and each
// hole-punch call take.
type LatencyHistograms struct {
	mu      sync.Mutex
	sample  *hdrhistogram.Histogram
	rewrite *hdrhistogram.Histogram
	punch   *hdrhistogram.Histogram
}

// NewLatencyHistograms returns histograms with microsecond resolution
// and three significant digits, matching the precision a production
// deployment would want for sub-millisecond rewrite latencies.
func NewLatencyHistograms() *LatencyHistograms {
	newHist := func() *hdrhistogram.Histogram { return hdrhistogram.New(1, latencyMax, 3) }
	return &LatencyHistograms{
		sample:  newHist(),
		rewrite: newHist(),
		punch:   newHist(),
	}
}

// RecordSample records the duration of one file's Phase 1 sample pass.
func (h *LatencyHistograms) RecordSample(d time.Duration) { h.record(h.sample, d) }

// RecordRewrite records the duration of one record's Phase 4 LSM write.
func (h *LatencyHistograms) RecordRewrite(d time.Duration) { h.record(h.rewrite, d) }

// RecordHolePunch records the duration of one hole-punch syscall.
func (h *LatencyHistograms) RecordHolePunch(d time.Duration) { h.record(h.punch, d) }

func (h *LatencyHistograms) record(hist *hdrhistogram.Histogram, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = hist.RecordValue(d.Microseconds())
}

// SampleMean returns the sample-phase mean latency in microseconds.
func (h *LatencyHistograms) SampleMean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sample.Mean()
}

// RewriteMean returns the rewrite-phase mean latency in microseconds.
func (h *LatencyHistograms) RewriteMean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rewrite.Mean()
}
