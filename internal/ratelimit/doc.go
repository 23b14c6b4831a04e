// Package ratelimit throttles login attempts per client address.
//
// State is in-memory and per process. Idle entries are evicted in the
// background, and the number of tracked clients is capped so a flood of
// distinct addresses cannot grow the table without bound.
package ratelimit
