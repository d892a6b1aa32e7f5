// Package server exposes the state of a running provisioning job over HTTP.
//
// # Endpoints
//
//   - GET /metrics : Prometheus metrics of the run, from the registry passed to [New]
//   - GET /healthz : liveness plus the record counters reported through [Status]
//
// # Routing
//
// [BasicRouter] wraps [http.ServeMux] with method checks and a [Middleware] stack. Handlers that serve
// several paths implement [Handler] and are registered with [BasicRouter.Handler].
//
// The server is optional: the provision command starts it only when a metrics address is configured,
// and shuts it down when the run ends.
package server
