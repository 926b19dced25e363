// Package observability exports engine metrics to Prometheus.
package observability
