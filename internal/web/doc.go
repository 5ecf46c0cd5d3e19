// Package web is the tenant-facing HTTP surface: sender management
// endpoints, the per-tenant SSE event stream, health, and metrics.
//
// Ownership boundary: web translates requests into lifecycle and store
// calls and owns nothing else; session state lives in the registry and
// the stores, event fan-out in the publisher. Tenants are identified by
// the X-Tenant header, which an upstream proxy is trusted to set.
package web
