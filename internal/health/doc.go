// Package health provides composable probes for the liveness and
// readiness endpoints of the admin listener.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static).
// [Contents] checks that the contents backend answers, bounded by
// [Timeout]. [ShutdownGate] fails readiness while the server drains so
// load balancers stop routing before in-flight requests finish.
package health
