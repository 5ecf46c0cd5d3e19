// Package reconnect owns background session recovery.
//
// Ownership boundary:
// - bounded startup reload passes over all persisted identities
// - the unconditional auto-reconnect interval
// - the health audit that detects a total outage and re-triggers reload
//
// The scheduler decides which identities should come online and dispatches
// lifecycle attempts; it never drives a connection itself and treats every
// attempt failure as informational.
package reconnect
