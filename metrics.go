// Metrics for the event bridge.
//
// # Overview
//
// Metrics tracks delivery and failure counters for a raw event stream. All
// fields are updated atomically from the run-loop goroutine and can be read
// concurrently without any additional lock.
//
// # Prometheus text format
//
// Handler returns an [net/http.Handler] that serves the counters in the
// standard Prometheus text exposition format on every GET request. Wire it
// into an HTTP mux at /metrics (or any other path you prefer):
//
//	m := fsbridge.NewMetrics()
//	http.Handle("/metrics", m.Handler())
//
// # Metric catalogue
//
//	fsbridge_events_delivered_total  – counter: events handed to the consumer channel
//	fsbridge_events_dropped_total    – counter: events discarded because the channel was full
//	fsbridge_decode_errors_total     – counter: per-event records skipped because decoding failed
//	fsbridge_callback_panics_total   – counter: callback invocations abandoned by the panic firewall
package fsbridge

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics holds the delivery and failure counters for one or more raw
// event streams. The zero value is ready to use; all counters start at
// zero.
//
// The dropped-events counter exists purely for observability: delivery
// remains lossy under backpressure, and nothing in the stream contract
// signals the loss to the consumer.
type Metrics struct {
	// EventsDelivered counts events successfully handed to the consumer
	// channel.
	EventsDelivered atomic.Int64
	// EventsDropped counts events discarded because the consumer channel
	// was full.
	EventsDropped atomic.Int64
	// DecodeErrors counts per-event records skipped because the file
	// identifier or the raw flags could not be decoded.
	DecodeErrors atomic.Int64
	// CallbackPanics counts callback invocations abandoned by the panic
	// firewall.
	CallbackPanics atomic.Int64
}

// NewMetrics allocates a new [Metrics] value with all counters at zero.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// metricLine is a single Prometheus metric family descriptor plus its
// current value.
type metricLine struct {
	help  string
	kind  string // "counter" or "gauge"
	name  string
	value int64
}

// snapshot captures the current values of all metrics in a consistent order.
func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{
			help:  "Total number of events handed to the consumer channel.",
			kind:  "counter",
			name:  "fsbridge_events_delivered_total",
			value: m.EventsDelivered.Load(),
		},
		{
			help:  "Total number of events discarded because the consumer channel was full.",
			kind:  "counter",
			name:  "fsbridge_events_dropped_total",
			value: m.EventsDropped.Load(),
		},
		{
			help:  "Total number of per-event records skipped because decoding failed.",
			kind:  "counter",
			name:  "fsbridge_decode_errors_total",
			value: m.DecodeErrors.Load(),
		},
		{
			help:  "Total number of callback invocations abandoned by the panic firewall.",
			kind:  "counter",
			name:  "fsbridge_callback_panics_total",
			value: m.CallbackPanics.Load(),
		},
	}
}

// Handler returns an [http.Handler] that writes all bridge metrics in the
// Prometheus text exposition format on every GET request.
//
// The content type is set to "text/plain; version=0.0.4" as required by
// the Prometheus specification so that a vanilla Prometheus scraper will
// parse the output correctly.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

// writeMetrics serialises lines into Prometheus text exposition format.
func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
