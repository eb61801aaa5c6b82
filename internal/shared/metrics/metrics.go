package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	runsStartedTotal   atomic.Uint64
	runsCompletedTotal atomic.Uint64
	runsFailedTotal    atomic.Uint64
	runsEmptyTotal     atomic.Uint64
	documentsUploaded  atomic.Uint64

	jobsReceivedTotal    atomic.Uint64
	jobsCompletedTotal   atomic.Uint64
	jobsFailedTotal      atomic.Uint64
	jobsUnrecoverableTot atomic.Uint64

	runFailures = newLabeledCounter()

	runDuration     = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
	runDocumentSize = newHistogram([]float64{1, 2, 5, 10, 20, 50})
)

// IncRunStarted counts a pipeline run that selected at least one document.
func IncRunStarted() { runsStartedTotal.Add(1) }

func IncRunCompleted() { runsCompletedTotal.Add(1) }

// IncRunFailed counts a failed run, labelled by failure class (storage, ocr, generation, internal).
func IncRunFailed(class string) {
	runsFailedTotal.Add(1)
	runFailures.Inc(class)
}

// IncRunEmpty counts runs whose selection matched nothing.
func IncRunEmpty() { runsEmptyTotal.Add(1) }

func IncDocumentsUploaded() { documentsUploaded.Add(1) }

// ObserveRunDocuments records the batch size of a run.
func ObserveRunDocuments(n int) {
	if n < 0 {
		n = 0
	}
	runDocumentSize.Observe(float64(n))
}

// ObserveRunDurationMs records a run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

func IncJobsReceived() { jobsReceivedTotal.Add(1) }
func IncJobsCompleted() { jobsCompletedTotal.Add(1) }
func IncJobsFailed() { jobsFailedTotal.Add(1) }
func IncJobsDeletedUnrecoverable() { jobsUnrecoverableTot.Add(1) }

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_runs_started_total", "Analysis runs that selected documents", runsStartedTotal.Load())
	writeCounter(&buf, "analysis_runs_completed_total", "Analysis runs completed", runsCompletedTotal.Load())
	writeCounter(&buf, "analysis_runs_failed_total", "Analysis runs failed", runsFailedTotal.Load())
	writeCounter(&buf, "analysis_runs_empty_total", "Analysis runs with an empty selection", runsEmptyTotal.Load())
	writeLabeledCounter(&buf, "analysis_run_failures_total", "Analysis run failures by class", "class", runFailures.Snapshot())
	writeCounter(&buf, "documents_uploaded_total", "Documents uploaded", documentsUploaded.Load())
	writeHistogram(&buf, "analysis_run_duration_ms", "Analysis run duration in milliseconds", runDuration.Snapshot())
	writeHistogram(&buf, "analysis_run_documents", "Documents per analysis run", runDocumentSize.Snapshot())
	writeCounter(&buf, "analysis_jobs_received_total", "Queued analysis jobs received", jobsReceivedTotal.Load())
	writeCounter(&buf, "analysis_jobs_completed_total", "Queued analysis jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "analysis_jobs_failed_total", "Queued analysis jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "analysis_jobs_unrecoverable_total", "Queued analysis jobs dropped as unrecoverable", jobsUnrecoverableTot.Load())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: map[string]uint64{}}
}

func (l *labeledCounter) Inc(label string) {
	if label == "" {
		label = "unknown"
	}
	l.mu.Lock()
	l.values[label]++
	l.mu.Unlock()
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe adds value to the first bucket whose bound it fits; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
