// Package metrics provides the Prometheus metrics of the call list service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for our application
var Registry = prometheus.NewRegistry()

// factory allows us to register metrics to our custom Registry directly
var factory = promauto.With(Registry)

// ImportedRowsTotal counts decoded spreadsheet rows by result ("valid" or "error").
var ImportedRowsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "calllist",
	Name:      "imported_rows_total",
	Help:      "Spreadsheet rows decoded during imports, by result",
}, []string{"result"})

// ImportsTotal counts import requests by mode ("load" or "merge") and outcome.
var ImportsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "calllist",
	Name:      "imports_total",
	Help:      "Import requests by mode and outcome",
}, []string{"mode", "outcome"})

// CallsStartedTotal counts dial requests.
var CallsStartedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "calllist",
	Name:      "calls_started_total",
	Help:      "Calls started",
})

// CallsCompletedTotal counts recorded call outcomes by status.
var CallsCompletedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "calllist",
	Name:      "calls_completed_total",
	Help:      "Recorded call outcomes by status",
}, []string{"status"})

// CustomersPending is the size of the pending partition after the last request.
var CustomersPending = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "calllist",
	Name:      "customers_pending",
	Help:      "Customers still to be called in the current session",
})

// CustomersTotal is the size of the loaded customer set.
var CustomersTotal = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "calllist",
	Name:      "customers_total",
	Help:      "Customers in the loaded set",
})

// BackendErrorsTotal counts failed store operations.
var BackendErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "calllist",
	Name:      "backend_errors_total",
	Help:      "Failed persistence operations by operation",
}, []string{"op"})

// ObserveImport records the row counts of one decoded sheet.
func ObserveImport(valid, errors int) {
	ImportedRowsTotal.WithLabelValues("valid").Add(float64(valid))
	ImportedRowsTotal.WithLabelValues("error").Add(float64(errors))
}

// SetQueueSize updates the customer gauges.
func SetQueueSize(total, pending int) {
	CustomersTotal.Set(float64(total))
	CustomersPending.Set(float64(pending))
}
