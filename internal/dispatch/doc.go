// Package dispatch glues the pipeline together: an inbound event is matched
// against the route table, each resulting channel action passes through
// deduplication and throttling, survivors are delivered concurrently, and
// matched routes that name an escalation policy open an incident.
package dispatch
