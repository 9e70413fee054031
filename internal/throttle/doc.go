// Package throttle bounds notification volume per scope using independent
// fixed time windows. Each configured granularity (minute, hour, day) keeps
// its own counter, reset when the clock crosses an aligned window boundary.
// A request is accepted only when every configured granularity permits it;
// the burst allowance is one-time extra headroom per window, not a refill.
package throttle
