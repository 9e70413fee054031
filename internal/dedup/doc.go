// Package dedup suppresses repeated notifications inside a policy-defined
// time window. A Policy decides how an outbound notification is
// fingerprinted and how long its window lasts; a Store remembers live
// fingerprints. The in-memory store expires records lazily on lookup; the
// redis store shares suppression state across replicas.
package dedup
