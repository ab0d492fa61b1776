// Package metrics exposes the counters, gauges and histograms for the
// pipeline, free list, hidden map, B+ tree, and recovery scanner, adapted
// from the teacher's dedicated-registry-plus-promhttp pattern. The pipeline
// updates the free-list and hidden-map gauges; nothing in this module calls
// the B+ tree node I/O counters.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandeepkiranp/pd-linux/log"
)

// Metrics bundles every counter/histogram this module emits into, registered
// against its own dedicated prometheus.Registry (the teacher's pattern of
// never using the global default registry).
type Metrics struct {
	registry *prometheus.Registry
	logger   log.Logger

	hiddenWrites         prometheus.Counter
	hiddenReads          prometheus.Counter
	hiddenWriteRollbacks prometheus.Counter
	staleHiddenReads     prometheus.Counter

	publicWrites          prometheus.Counter
	carriersPreserved     prometheus.Counter
	carriersFreed         prometheus.Counter
	integrityFailures     prometheus.Counter
	carrierAllocations    prometheus.Counter
	noCarriersFailures    prometheus.Counter
	freeCarrierSectors    prometheus.Gauge
	hiddenMapEntries      prometheus.Gauge
	bptreeNodeReads       prometheus.Counter
	bptreeNodeWrites      prometheus.Counter
	recoveryScanDuration  prometheus.Histogram
	recoveryChainsFound   prometheus.Counter
	recoveryChainsNoisy   prometheus.Counter
	pipelineStageDuration *prometheus.HistogramVec
}

// New builds a Metrics bundle and registers its collectors, the way the
// teacher's bindMetrics wires its group/http metric sets into a registry.
func New(logger log.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,

		hiddenWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_hidden_writes_total",
			Help: "Number of hidden write pipeline invocations.",
		}),
		hiddenReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_hidden_reads_total",
			Help: "Number of hidden read pipeline invocations.",
		}),
		hiddenWriteRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_hidden_write_rollbacks_total",
			Help: "Number of hidden writes rolled back after a B+ tree persist failure.",
		}),
		staleHiddenReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_stale_hidden_reads_total",
			Help: "Number of hidden reads that found a reclaimed (stale-sequence) carrier chain.",
		}),
		publicWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_public_writes_total",
			Help: "Number of public write pipeline invocations.",
		}),
		carriersPreserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_carriers_preserved_total",
			Help: "Number of IV slots preserved (public_counter bumped) during a public write.",
		}),
		carriersFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_carriers_freed_total",
			Help: "Number of IV slots randomized and returned to the free list during a public write.",
		}),
		integrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_integrity_failures_total",
			Help: "Number of AEAD authentication failures.",
		}),
		carrierAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_carrier_allocations_total",
			Help: "Number of fresh carrier-run allocations from the free list.",
		}),
		noCarriersFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_no_carriers_failures_total",
			Help: "Number of hidden writes that failed with NO_CARRIERS.",
		}),
		freeCarrierSectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dm_free_carrier_sectors",
			Help: "Current number of free sectors tracked by the carrier allocator.",
		}),
		hiddenMapEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dm_hidden_map_entries",
			Help: "Current number of live entries in the Hidden-Sector Map.",
		}),
		bptreeNodeReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_bptree_node_reads_total",
			Help: "Number of B+ tree node reads from carrier storage.",
		}),
		bptreeNodeWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_bptree_node_writes_total",
			Help: "Number of B+ tree node writes to carrier storage.",
		}),
		recoveryScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dm_recovery_scan_duration_seconds",
			Help:    "Duration of a full Map Recovery Scanner pass.",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryChainsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_recovery_chains_found_total",
			Help: "Number of validly-signed carrier chains found during recovery scans.",
		}),
		recoveryChainsNoisy: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_recovery_chains_discarded_total",
			Help: "Number of candidate chains discarded as noise (too short or mismatched) during recovery scans.",
		}),
		pipelineStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dm_pipeline_stage_duration_seconds",
			Help:    "Duration of one request state-machine stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	collectorList := []prometheus.Collector{
		m.hiddenWrites, m.hiddenReads, m.hiddenWriteRollbacks, m.staleHiddenReads,
		m.publicWrites, m.carriersPreserved, m.carriersFreed, m.integrityFailures,
		m.carrierAllocations, m.noCarriersFailures, m.freeCarrierSectors,
		m.hiddenMapEntries, m.bptreeNodeReads, m.bptreeNodeWrites,
		m.recoveryScanDuration, m.recoveryChainsFound, m.recoveryChainsNoisy,
		m.pipelineStageDuration,
		collectors.NewGoCollector(),
	}
	for _, c := range collectorList {
		if err := m.registry.Register(c); err != nil && logger != nil {
			logger.Warnw("", "metrics", "collector registration failed", "err", err)
		}
	}
	return m
}

func (m *Metrics) HiddenWrite()            { m.hiddenWrites.Inc() }
func (m *Metrics) HiddenRead()             { m.hiddenReads.Inc() }
func (m *Metrics) HiddenWriteRolledBack()  { m.hiddenWriteRollbacks.Inc() }
func (m *Metrics) StaleHiddenRead()        { m.staleHiddenReads.Inc() }
func (m *Metrics) PublicWrite()            { m.publicWrites.Inc() }
func (m *Metrics) CarrierPreserved()       { m.carriersPreserved.Inc() }
func (m *Metrics) CarrierFreed()           { m.carriersFreed.Inc() }
func (m *Metrics) IntegrityFailure()       { m.integrityFailures.Inc() }
func (m *Metrics) CarrierAllocated()       { m.carrierAllocations.Inc() }
func (m *Metrics) NoCarriersFailure()      { m.noCarriersFailures.Inc() }
func (m *Metrics) BPTreeNodeRead()         { m.bptreeNodeReads.Inc() }
func (m *Metrics) BPTreeNodeWrite()        { m.bptreeNodeWrites.Inc() }
func (m *Metrics) RecoveryChainFound()     { m.recoveryChainsFound.Inc() }
func (m *Metrics) RecoveryChainDiscarded() { m.recoveryChainsNoisy.Inc() }

func (m *Metrics) SetFreeCarrierSectors(n uint64) { m.freeCarrierSectors.Set(float64(n)) }
func (m *Metrics) SetHiddenMapEntries(n int)       { m.hiddenMapEntries.Set(float64(n)) }

func (m *Metrics) ObserveRecoveryScan(d time.Duration) {
	m.recoveryScanDuration.Observe(d.Seconds())
}

// ObserveStage records how long one request state-machine stage (§9
// PreRead/Splice/Encrypt/Submit/Done/Error) took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.pipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Registry returns the underlying prometheus registry, e.g. for tests that
// want to assert a counter's value via testutil.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Start serves the registry's /metrics endpoint over HTTP, following the
// teacher's Start(bind string) shape (listen, mount promhttp handler, serve
// in a background goroutine, return the listener for the caller to close).
func (m *Metrics) Start(bind string) net.Listener {
	l, err := net.Listen("tcp", bind)
	if err != nil {
		if m.logger != nil {
			m.logger.Warnw("", "metrics", "listen failed", "err", err)
		}
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	srv := &http.Server{Addr: l.Addr().String(), Handler: mux}
	go func() {
		_ = srv.Serve(l)
	}()
	return l
}

// Shutdown is a convenience no-op hook kept symmetric with Start, for
// callers that want an explicit lifecycle method (actual teardown happens
// by closing the net.Listener Start returned).
func (m *Metrics) Shutdown(ctx context.Context) error {
	return ctx.Err()
}
