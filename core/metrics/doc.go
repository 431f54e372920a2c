// Package metrics defines the sink interfaces negotiation components use to
// report outcomes and round statistics. Concrete sinks live in infra/metrics
// and register themselves through the factory registry.
package metrics
