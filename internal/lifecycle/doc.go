// Package lifecycle owns the per-identity connection state machine.
//
// Ownership boundary:
// - attempt supervision (connecting -> pairing -> open -> close)
// - disconnect classification (retry vs fatal vs destructive)
// - registry registration and eviction of displaced handles
// - credential persistence and destruction
//
// Attempts for one identity are strictly sequential: a supervisor holds the
// identity's in-flight slot from dispatch until its attempt chain reaches a
// terminal state. Retryable disconnects re-enter the attempt loop in place;
// the driver never recurses and never runs two attempts for one identity.
//
// The lifecycle driver does not decide which identities should be online;
// that belongs to the reconnect scheduler.
package lifecycle
