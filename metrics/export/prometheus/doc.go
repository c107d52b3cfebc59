// Package prometheus renders goIdP provider metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goIdP.Registry] and exposes an
// [http.Handler]. Counter names are prefixed goidp_*_total and every series
// carries realm and provider labels.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate provider state.
package prometheus
