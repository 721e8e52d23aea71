package executor

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Backoff returns the delay before retry attempt k (zero-based):
// base * 2^k plus jitter, clamped to cap. Growth outpaces the jitter
// range, so successive delays are non-decreasing.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cap || delay < 0 {
			return cap
		}
	}

	jitterRange := int64(base / 2)
	if jitterRange > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(jitterRange)); err == nil {
			delay += time.Duration(n.Int64())
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
