// Package dedupe drops chat messages the platform delivers more than once,
// which happens around reconnects. Keys are (team, channel, ts) and are
// remembered for a bounded time in a bounded set.
package dedupe
