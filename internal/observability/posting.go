package observability

import "github.com/prometheus/client_golang/prometheus"

// PostingMetrics counts ledger batches and outbox deliveries.
type PostingMetrics struct {
	batchesTotal   *prometheus.CounterVec
	outboxDrained  prometheus.Counter
	integrityFails prometheus.Counter
}

// NewPostingMetrics registers the posting metrics.
func NewPostingMetrics(reg prometheus.Registerer) *PostingMetrics {
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_ledger_batches_total",
		Help: "Posted ledger batches by source kind.",
	}, []string{"source_kind"})
	drained := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_outbox_delivered_total",
		Help: "Outbox records acknowledged by the sync transport.",
	})
	fails := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_ledger_integrity_failures_total",
		Help: "Documents whose posted batches failed the balance scan.",
	})
	reg.MustRegister(batches, drained, fails)
	return &PostingMetrics{batchesTotal: batches, outboxDrained: drained, integrityFails: fails}
}

// ObserveBatch counts one posted batch.
func (m *PostingMetrics) ObserveBatch(sourceKind string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(sourceKind).Inc()
}

// ObserveOutboxDelivered counts acknowledged outbox records.
func (m *PostingMetrics) ObserveOutboxDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxDrained.Add(float64(n))
}

// ObserveIntegrityFailure counts a document that failed the balance scan.
func (m *PostingMetrics) ObserveIntegrityFailure() {
	if m == nil {
		return
	}
	m.integrityFails.Inc()
}
