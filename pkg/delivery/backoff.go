package delivery

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds retries.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

// DefaultPolicy retries for roughly an hour.
var DefaultPolicy = Policy{
	Base:        2 * time.Second,
	Max:         5 * time.Minute,
	MaxJitter:   time.Second,
	MaxAttempts: 12,
}

// Backoff returns the delay before the given attempt (0-based). Jitter is
// derived from the submission id and attempt, so a replay computes the same
// schedule.
func (p Policy) Backoff(submissionID string, attempt int) time.Duration {
	shift := attempt
	if shift < 0 {
		shift = 0
	}
	if shift > 30 {
		shift = 30
	}
	delay := p.Base * time.Duration(int64(1)<<shift)
	if delay > p.Max || delay <= 0 {
		delay = p.Max
	}
	if p.MaxJitter <= 0 {
		return delay
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", submissionID, attempt)))
	jitter := binary.BigEndian.Uint64(sum[:8]) % uint64(p.MaxJitter)
	return delay + time.Duration(jitter) //nolint:gosec // bounded by MaxJitter
}
