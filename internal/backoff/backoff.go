package backoff

import (
	"math/rand/v2"
	"time"
)

// FullJitter returns a random duration between 0 and min(limit, base * 2^attempt).
func FullJitter(attempt int, base, limit time.Duration) time.Duration {
	exp := base
	for i := 0; i < attempt && exp < limit; i++ {
		exp *= 2
	}
	if exp > limit {
		exp = limit
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(exp)))
}
