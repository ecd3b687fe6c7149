package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hublink"

var (
	descConnectionsActive = prometheus.NewDesc(namespace+"_connections_active",
		"Hub connections currently ready.", nil, nil)
	descConnectionsTotal = prometheus.NewDesc(namespace+"_connections_total",
		"Hub connections that reached ready.", nil, nil)
	descBytes = prometheus.NewDesc(namespace+"_bytes_total",
		"Bytes moved over the hub stream.", []string{"direction"}, nil)
	descResolveRetries = prometheus.NewDesc(namespace+"_resolve_retries_total",
		"Scheduled service lookup retries.", nil, nil)
	descResolveFailures = prometheus.NewDesc(namespace+"_resolve_failures_total",
		"Service lookups that exhausted the retry budget.", nil, nil)
	descDiscoveryRestarts = prometheus.NewDesc(namespace+"_discovery_restarts_total",
		"Transparent restarts of the mDNS browser.", nil, nil)
	descEndpoints = prometheus.NewDesc(namespace+"_discovered_endpoints",
		"Endpoints in the latest discovery snapshot.", nil, nil)
	descErrors = prometheus.NewDesc(namespace+"_errors_total",
		"Errors recorded by any component.", nil, nil)
	descUptime = prometheus.NewDesc(namespace+"_uptime_seconds",
		"Seconds since the collector was created.", nil, nil)
)

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descConnectionsActive
	ch <- descConnectionsTotal
	ch <- descBytes
	ch <- descResolveRetries
	ch <- descResolveFailures
	ch <- descDiscoveryRestarts
	ch <- descEndpoints
	ch <- descErrors
	ch <- descUptime
}

// Collect implements [prometheus.Collector] by reading the atomic
// counters at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(descConnectionsActive, prometheus.GaugeValue, float64(c.connectionsActive.Load()))
	ch <- prometheus.MustNewConstMetric(descConnectionsTotal, prometheus.CounterValue, float64(c.connectionsTotal.Load()))
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(c.bytesIn.Load()), "in")
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(c.bytesOut.Load()), "out")
	ch <- prometheus.MustNewConstMetric(descResolveRetries, prometheus.CounterValue, float64(c.resolveRetries.Load()))
	ch <- prometheus.MustNewConstMetric(descResolveFailures, prometheus.CounterValue, float64(c.resolveFailures.Load()))
	ch <- prometheus.MustNewConstMetric(descDiscoveryRestarts, prometheus.CounterValue, float64(c.discoveryRestarts.Load()))
	ch <- prometheus.MustNewConstMetric(descEndpoints, prometheus.GaugeValue, float64(c.endpoints.Load()))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(c.errorsTotal.Load()))

	c.mu.RLock()
	start := c.startTime
	c.mu.RUnlock()
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, time.Since(start).Seconds())
}

// Handler returns an http.Handler serving c in the Prometheus text
// format on a private registry, alongside Go runtime metrics.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if c != nil {
		reg.MustRegister(c)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
