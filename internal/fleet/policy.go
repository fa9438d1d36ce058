// ABOUTME: Restart policy for dropped connections
// ABOUTME: Fixed delay between attempts; zero MaxAttempts retries forever

package fleet

import "time"

// DefaultRestartDelay is the pause before each reconnect attempt.
const DefaultRestartDelay = 200 * time.Millisecond

// RestartPolicy decides whether and when a closed connection is redialed.
type RestartPolicy struct {
	Delay time.Duration
	// MaxAttempts caps consecutive failed redials. Zero means no cap.
	MaxAttempts int
}

// DefaultRestartPolicy retries forever with DefaultRestartDelay between attempts.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Delay: DefaultRestartDelay}
}

// Allows reports whether the given 1-based attempt may run.
func (p RestartPolicy) Allows(attempt int) bool {
	return p.MaxAttempts <= 0 || attempt <= p.MaxAttempts
}

func (p RestartPolicy) delay() time.Duration {
	if p.Delay < 0 {
		return 0
	}
	return p.Delay
}
