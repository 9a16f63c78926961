// Package metrics exposes Prometheus metrics for Gray Logic Dispatch.
//
// Collectors are package level and registered once by Init. The helper
// functions are safe to call before Init (they do nothing), so domain
// packages record unconditionally and the service decides at startup
// whether metrics are exported.
package metrics
