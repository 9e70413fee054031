// Package escalation drives multi-level, timed notification escalation for
// unacknowledged incidents.
//
// An EscalationPolicy is an ordered list of levels; each level names its
// targets, how long to wait before it fires, how often to repeat, and
// whether an acknowledgment is required to stop the chain. The Engine owns
// every incident's lifecycle: one cancellable deferred-check timer exists
// per active unacknowledged incident, and Acknowledge/Resolve cancel it
// synchronously so a stale escalation can never fire after the fact.
package escalation
