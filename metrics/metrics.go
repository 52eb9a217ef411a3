package metrics

// Prometheus metrics of the DHCP leases.
//
// To add a new metric:
// 1. Add the field to the metrics structure.
// 2. Create the metric in the newMetrics function.
// 3. Update the metric in the collector event handlers.

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace of the metrics.
const namespace = "leasekeeper"

// Set of the lease metrics.
type metrics struct {
	Registry *prometheus.Registry

	StateTransitionTotal *prometheus.CounterVec
	PrefixDelegatedTotal *prometheus.CounterVec
	EventDroppedTotal    *prometheus.CounterVec
	BoundLeases          *prometheus.GaugeVec
	ClientTotal          prometheus.Gauge
}

// Constructor of the metrics. They are automatically registered in the
// registry.
func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		Registry: registry,

		StateTransitionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "state_transition_total",
			Help:      "Lease state transitions",
		}, []string{"backend", "family", "state"}),
		PrefixDelegatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "prefix_delegated_total",
			Help:      "Delegated IPv6 prefixes received",
		}, []string{"interface"}),
		EventDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Helper events dropped as stale, foreign or invalid",
		}, []string{"reason"}),
		BoundLeases: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "bound",
			Help:      "Currently bound leases",
		}, []string{"family"}),
		ClientTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "active_total",
			Help:      "Running DHCP clients",
		}),
	}
}

// Unregisters all metrics from the registry.
func (m *metrics) UnregisterAll() {
	v := reflect.ValueOf(*m)
	typeMetrics := v.Type()
	for i := 0; i < typeMetrics.NumField(); i++ {
		fieldObj := v.Field(i)
		if !fieldObj.CanInterface() {
			continue
		}
		collector, ok := fieldObj.Interface().(prometheus.Collector)
		if !ok {
			continue
		}
		m.Registry.Unregister(collector)
	}
}
